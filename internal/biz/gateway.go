package biz

import (
	"context"
	"time"
)

// PartnerSubscription 伙伴侧订阅快照(防腐层 DTO)
// Status 已由接入层映射为本地状态枚举
type PartnerSubscription struct {
	PartnerSubscriptionID string
	Status                string
	AuthLink              string
	CurrentCycle          int
	NextPaymentOn         *time.Time
	EndTime               *time.Time
}

// PartnerPayment 伙伴侧支付记录(防腐层 DTO)
type PartnerPayment struct {
	PartnerPaymentID string
	Status           string
	Amount           float64
	Cycle            *int
	FailureReason    string
	TransactionAt    time.Time
}

// ExternalBillingGateway 外部循环扣款伙伴客户端接口(防腐层)
// 所有调用以伙伴侧订阅ID为主键，同步阻塞，超时由客户端实现自身控制
type ExternalBillingGateway interface {
	CreatePlan(ctx context.Context, plan *Plan) (partnerPlanID string, err error)
	CreateSubscription(ctx context.Context, plan *Plan, sub *Subscription) (*PartnerSubscription, error)
	CancelSubscription(ctx context.Context, partnerSubscriptionID string) error
	GetSubscription(ctx context.Context, partnerSubscriptionID string) (*PartnerSubscription, error)
	GetSubscriptionPayments(ctx context.Context, partnerSubscriptionID, lastPaymentID string, count int) ([]*PartnerPayment, error)
	RetrySubscriptionPayment(ctx context.Context, partnerSubscriptionID string, nextPaymentOn *time.Time) error
	ManualActivateSubscription(ctx context.Context, partnerSubscriptionID string, nextPaymentOn *time.Time) error
}

// Notifier 通知服务接口
// 核心只传模板名、接收方和数据，不拼装消息体；投递为事务提交后的旁路副作用
type Notifier interface {
	Notify(ctx context.Context, template, recipient string, data map[string]any) error
}

// Transaction 事务执行接口，由 data 层实现
type Transaction interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}
