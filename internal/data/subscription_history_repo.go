package data

import (
	"context"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// subscriptionHistoryRepo 订阅历史仓库实现
type subscriptionHistoryRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionHistoryRepo 创建订阅历史仓库
func NewSubscriptionHistoryRepo(data *Data, logger log.Logger) biz.SubscriptionHistoryRepo {
	return &subscriptionHistoryRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Add 追加一条状态迁移审计记录
func (r *subscriptionHistoryRepo) Add(ctx context.Context, history *biz.SubscriptionHistory) error {
	m := &model.SubscriptionHistory{
		SubscriptionID: history.SubscriptionID,
		RestaurantID:   history.RestaurantID,
		PlanID:         history.PlanID,
		FromStatus:     history.FromStatus,
		ToStatus:       history.ToStatus,
		Action:         history.Action,
		Actor:          history.Actor,
		CreatedAt:      history.CreatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to add history for subscription %d: %v", history.SubscriptionID, err)
		return err
	}
	return nil
}

// CountResubscriptions 统计餐厅在某套餐上已发生的自动重订次数(重订上限用)
func (r *subscriptionHistoryRepo) CountResubscriptions(ctx context.Context, restaurantID uint64, planID string) (int, error) {
	var count int64
	if err := r.data.DB(ctx).Model(&model.SubscriptionHistory{}).
		Where("restaurant_id = ? AND plan_id = ? AND action = ?", restaurantID, planID, constants.ActionResubscribed).
		Count(&count).Error; err != nil {
		r.log.Errorf("Failed to count resubscriptions for restaurant %d: %v", restaurantID, err)
		return 0, err
	}
	return int(count), nil
}
