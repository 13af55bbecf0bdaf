package model

import "time"

// RestaurantBillingStats 餐厅计费投影
// 物理上属于餐厅聚合，由本服务与账单流水保持事务一致；
// 两个订单计数器恒 >= 0，只允许扣减器和生命周期迁移修改
type RestaurantBillingStats struct {
	RestaurantID                           uint64     `gorm:"primaryKey;column:restaurant_id"`
	SubscriptionID                         *uint64    `gorm:"column:subscription_id;index"`
	SubscriptionEndTime                    *time.Time `gorm:"column:subscription_end_time;index"`
	SubscriptionRemainingOrders            int        `gorm:"column:subscription_remaining_orders;default:0"`
	SubscriptionGracePeriodRemainingOrders int        `gorm:"column:subscription_grace_period_remaining_orders;default:0"`
	UpdatedAt                              time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (RestaurantBillingStats) TableName() string { return "restaurant_billing_stats" }
