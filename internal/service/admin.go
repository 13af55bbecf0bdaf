package service

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/biz"

	"github.com/google/uuid"
)

// CreatePlanRequest 创建套餐请求
type CreatePlanRequest struct {
	Name                  string  `json:"name"`
	Description           string  `json:"description"`
	Category              string  `json:"category"`
	BillingType           string  `json:"billing_type"`
	Amount                float64 `json:"amount"`
	AuthAmount            float64 `json:"auth_amount"`
	IntervalUnit          string  `json:"interval_unit"`
	MaxCycles             int     `json:"max_cycles"`
	NoOfOrders            int     `json:"no_of_orders"`
	NoOfGracePeriodOrders int     `json:"no_of_grace_period_orders"`
}

// CreatePlan 创建套餐
func (s *BillingService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*biz.Plan, error) {
	plan := &biz.Plan{
		PlanID:                uuid.New().String(),
		Name:                  req.Name,
		Description:           req.Description,
		Category:              req.Category,
		BillingType:           req.BillingType,
		Amount:                req.Amount,
		AuthAmount:            req.AuthAmount,
		IntervalUnit:          req.IntervalUnit,
		MaxCycles:             req.MaxCycles,
		NoOfOrders:            req.NoOfOrders,
		NoOfGracePeriodOrders: req.NoOfGracePeriodOrders,
		Active:                true,
	}
	if err := s.uc.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// UpdatePlanRequest 更新套餐请求，只接受可变字段
type UpdatePlanRequest struct {
	PlanID                string `json:"plan_id"`
	Name                  string `json:"name"`
	Description           string `json:"description"`
	Category              string `json:"category"`
	Active                bool   `json:"active"`
	MaxCycles             int    `json:"max_cycles"`
	NoOfOrders            int    `json:"no_of_orders"`
	NoOfGracePeriodOrders int    `json:"no_of_grace_period_orders"`
}

// UpdatePlan 更新套餐
func (s *BillingService) UpdatePlan(ctx context.Context, req *UpdatePlanRequest) error {
	existing, err := s.uc.GetPlan(ctx, req.PlanID)
	if err != nil {
		return err
	}
	existing.Name = req.Name
	existing.Description = req.Description
	existing.Category = req.Category
	existing.Active = req.Active
	existing.MaxCycles = req.MaxCycles
	existing.NoOfOrders = req.NoOfOrders
	existing.NoOfGracePeriodOrders = req.NoOfGracePeriodOrders
	return s.uc.UpdatePlan(ctx, existing)
}

// GetPlan 获取套餐
func (s *BillingService) GetPlan(ctx context.Context, planID string) (*biz.Plan, error) {
	return s.uc.GetPlan(ctx, planID)
}

// ListPlans 获取套餐列表
func (s *BillingService) ListPlans(ctx context.Context, category string) ([]*biz.Plan, error) {
	return s.uc.ListPlans(ctx, category)
}

// SubscribeRequest 订阅请求
type SubscribeRequest struct {
	RestaurantID  uint64 `json:"restaurant_id"`
	PlanID        string `json:"plan_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

// Subscribe 为餐厅订阅套餐
func (s *BillingService) Subscribe(ctx context.Context, req *SubscribeRequest) (*biz.Subscription, error) {
	return s.uc.CreateSubscription(ctx, req.RestaurantID, req.PlanID, biz.CustomerContact{
		Name:  req.CustomerName,
		Email: req.CustomerEmail,
		Phone: req.CustomerPhone,
	})
}

// GetSubscription 查询餐厅当前订阅
func (s *BillingService) GetSubscription(ctx context.Context, restaurantID uint64) (*biz.Subscription, error) {
	return s.uc.GetSubscription(ctx, restaurantID)
}

// CancelRequest 取消订阅请求
type CancelRequest struct {
	RestaurantID uint64 `json:"restaurant_id"`
	Actor        string `json:"actor"`
	Reason       string `json:"reason"`
}

// Cancel 取消餐厅当前订阅
func (s *BillingService) Cancel(ctx context.Context, req *CancelRequest) error {
	return s.uc.CancelSubscription(ctx, req.RestaurantID, req.Actor, req.Reason)
}

// RetryPaymentRequest 人工扣款重试请求
type RetryPaymentRequest struct {
	SubscriptionID uint64     `json:"subscription_id"`
	NextPaymentOn  *time.Time `json:"next_payment_on"`
}

// RetryPayment 人工触发一次伙伴侧扣款重试
func (s *BillingService) RetryPayment(ctx context.Context, req *RetryPaymentRequest) error {
	return s.uc.RetryPayment(ctx, req.SubscriptionID, req.NextPaymentOn)
}

// ManualReactivateRequest 人工恢复挂起订阅请求
type ManualReactivateRequest struct {
	SubscriptionID uint64     `json:"subscription_id"`
	NextPaymentOn  *time.Time `json:"next_payment_on"`
}

// ManualReactivate 人工恢复 ON_HOLD 订阅
func (s *BillingService) ManualReactivate(ctx context.Context, req *ManualReactivateRequest) error {
	return s.uc.ManualReactivate(ctx, req.SubscriptionID, req.NextPaymentOn)
}
