package model

import "time"

// Plan 订阅套餐模型
// amount/auth_amount/billing_type/interval_unit 创建后不可修改
type Plan struct {
	PlanID      string `gorm:"primaryKey;column:plan_id;type:varchar(36)"`
	// PartnerPlanID 外部支付伙伴侧套餐ID(FREE 套餐为空)
	PartnerPlanID string  `gorm:"column:partner_plan_id;type:varchar(64);index"`
	Name          string  `gorm:"column:name"`
	Description   string  `gorm:"column:description"`
	Category      string  `gorm:"column:category;index"`
	BillingType   string  `gorm:"column:billing_type;type:enum('FREE','PERIODIC')"`
	Amount        float64 `gorm:"column:amount"`
	// AuthAmount 授权验证金额(与周期扣款金额区分，用于识别授权验证类支付事件)
	AuthAmount   float64 `gorm:"column:auth_amount"`
	IntervalUnit string  `gorm:"column:interval_unit;type:enum('day','week','month','year')"`
	MaxCycles    int     `gorm:"column:max_cycles"`
	// NoOfOrders 每个计费周期的订单额度
	NoOfOrders int `gorm:"column:no_of_orders"`
	// NoOfGracePeriodOrders 每个计费周期的宽限订单额度
	NoOfGracePeriodOrders int       `gorm:"column:no_of_grace_period_orders"`
	Active                bool      `gorm:"column:active;default:true"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string { return "plan" }
