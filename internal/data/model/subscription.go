package model

import "time"

// Subscription 餐厅订阅模型
// 同一餐厅最多只有一条未终结的订阅；终结状态的历史订阅永久保留
type Subscription struct {
	ID uint64 `gorm:"primaryKey;column:subscription_id;autoIncrement"`
	// PartnerSubscriptionID 伙伴侧订阅ID，伙伴初始化前为空
	PartnerSubscriptionID string `gorm:"column:partner_subscription_id;type:varchar(64);index"`
	RestaurantID          uint64 `gorm:"column:restaurant_id;index"`
	PlanID                string `gorm:"column:plan_id;type:varchar(36);index"`
	Status                string `gorm:"column:status;index"`
	AuthStatus            string `gorm:"column:auth_status"`
	// AuthLink 伙伴下发的授权链接(e-mandate / 卡授权)
	AuthLink     string `gorm:"column:auth_link"`
	CancelledBy  string `gorm:"column:cancelled_by"`
	CancelReason string `gorm:"column:cancel_reason"`
	// 客户联系方式快照，创建时从餐厅档案复制
	CustomerName  string     `gorm:"column:customer_name"`
	CustomerEmail string     `gorm:"column:customer_email"`
	CustomerPhone string     `gorm:"column:customer_phone"`
	StartTime     time.Time  `gorm:"column:start_time"`
	EndTime       time.Time  `gorm:"column:end_time"`
	CurrentCycle  int        `gorm:"column:current_cycle;default:0"`
	NextPaymentOn *time.Time `gorm:"column:next_payment_on;index"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscription" }
