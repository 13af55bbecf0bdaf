package data

import (
	"context"
	"encoding/json"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// redisNotifier 通知投递实现
// 通知任务 LPUSH 到通知服务消费的队列，渲染和发送由通知服务负责
type redisNotifier struct {
	data *Data
	log  *log.Helper
}

// NewNotifier 创建通知投递器
func NewNotifier(data *Data, logger log.Logger) biz.Notifier {
	return &redisNotifier{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// notificationJob 与通知服务约定的任务结构
type notificationJob struct {
	Template   string         `json:"template"`
	Recipient  string         `json:"recipient"`
	Data       map[string]any `json:"data"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Notify 投递一条通知任务
func (n *redisNotifier) Notify(ctx context.Context, template, recipient string, data map[string]any) error {
	raw, err := json.Marshal(notificationJob{
		Template:   template,
		Recipient:  recipient,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := n.data.rdb.LPush(ctx, constants.NotificationQueue, raw).Err(); err != nil {
		n.log.Errorf("Failed to enqueue notification %s for %s: %v", template, recipient, err)
		return err
	}
	return nil
}
