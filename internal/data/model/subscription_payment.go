package model

import "time"

// SubscriptionPayment 计费周期账单流水模型
// (subscription_id, cycle) 在 cycle 非空时唯一；FREE 套餐的单行账本 cycle 为 NULL，
// MySQL 唯一索引允许重复 NULL，天然豁免
type SubscriptionPayment struct {
	ID             uint64 `gorm:"primaryKey;column:subscription_payment_id;autoIncrement"`
	SubscriptionID uint64 `gorm:"column:subscription_id;uniqueIndex:uk_subscription_cycle;index"`
	// PartnerPaymentID 伙伴侧支付ID
	PartnerPaymentID              string `gorm:"column:partner_payment_id;type:varchar(64);index"`
	Status                        string `gorm:"column:status;type:enum('PENDING','SUCCESS','FAILED')"`
	Cycle                         *int   `gorm:"column:cycle;uniqueIndex:uk_subscription_cycle"`
	NoOfOrdersBought              int    `gorm:"column:no_of_orders_bought"`
	NoOfGracePeriodOrdersAllotted int    `gorm:"column:no_of_grace_period_orders_allotted"`
	// NoOfOrdersConsumed 终结值，行被更新周期/新订阅取代时一次性写入
	NoOfOrdersConsumed *int       `gorm:"column:no_of_orders_consumed"`
	RetryCount         int        `gorm:"column:retry_count;default:0"`
	FailureReason      string     `gorm:"column:failure_reason"`
	ScheduledAt        *time.Time `gorm:"column:scheduled_at"`
	TransactionAt      *time.Time `gorm:"column:transaction_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (SubscriptionPayment) TableName() string { return "subscription_payment" }
