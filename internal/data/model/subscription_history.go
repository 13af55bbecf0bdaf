package model

import "time"

// SubscriptionHistory 订阅状态迁移审计流水(只追加)
type SubscriptionHistory struct {
	SubscriptionHistoryID uint64 `gorm:"primaryKey;column:subscription_history_id;autoIncrement"`
	SubscriptionID        uint64 `gorm:"column:subscription_id;index"`
	RestaurantID          uint64 `gorm:"column:restaurant_id;index"`
	PlanID                string `gorm:"column:plan_id"`
	FromStatus            string `gorm:"column:from_status"`
	ToStatus              string `gorm:"column:to_status"`
	Action                string `gorm:"column:action"`
	// Actor 操作发起方: customer/admin/partner/system
	Actor     string    `gorm:"column:actor"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (SubscriptionHistory) TableName() string { return "subscription_history" }
