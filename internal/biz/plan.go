package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"
)

// Plan 订阅套餐
type Plan struct {
	PlanID                string
	PartnerPlanID         string
	Name                  string
	Description           string
	Category              string
	BillingType           string // FREE, PERIODIC
	Amount                float64
	AuthAmount            float64
	IntervalUnit          string // day, week, month, year
	MaxCycles             int
	NoOfOrders            int
	NoOfGracePeriodOrders int
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsFree 是否免费套餐
func (p *Plan) IsFree() bool { return p.BillingType == constants.PlanTypeFree }

// AddInterval 从 t 起顺延一个计费周期
func (p *Plan) AddInterval(t time.Time) time.Time {
	switch p.IntervalUnit {
	case constants.IntervalDay:
		return t.AddDate(0, 0, 1)
	case constants.IntervalWeek:
		return t.AddDate(0, 0, 7)
	case constants.IntervalMonth:
		return t.AddDate(0, 1, 0)
	case constants.IntervalYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// PlanRepo 套餐仓库接口
type PlanRepo interface {
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context, category string) ([]*Plan, error)
	CreatePlan(ctx context.Context, plan *Plan) error
	UpdatePlan(ctx context.Context, plan *Plan) error
}

// CreatePlan 创建套餐
// PERIODIC 套餐先在伙伴侧登记，拿到伙伴套餐ID后落库
func (uc *BillingUsecase) CreatePlan(ctx context.Context, plan *Plan) error {
	uc.log.Infof("CreatePlan: planID=%s, type=%s, amount=%.2f", plan.PlanID, plan.BillingType, plan.Amount)

	if plan.BillingType == constants.PlanTypePeriodic {
		partnerPlanID, err := uc.gateway.CreatePlan(ctx, plan)
		if err != nil {
			uc.log.Errorf("Failed to create plan on partner side: %v", err)
			return errors.ErrPartnerUnavailable
		}
		plan.PartnerPlanID = partnerPlanID
	}

	if err := uc.planRepo.CreatePlan(ctx, plan); err != nil {
		uc.log.Errorf("Failed to create plan: %v", err)
		return err
	}
	return nil
}

// UpdatePlan 更新套餐
// 只允许修改描述性字段和 active 标记；金额/类型/周期创建后不可变
func (uc *BillingUsecase) UpdatePlan(ctx context.Context, plan *Plan) error {
	existing, err := uc.planRepo.GetPlan(ctx, plan.PlanID)
	if err != nil {
		return err
	}
	if existing == nil {
		return errors.ErrPlanNotFound
	}

	if plan.Amount != existing.Amount ||
		plan.AuthAmount != existing.AuthAmount ||
		plan.BillingType != existing.BillingType ||
		plan.IntervalUnit != existing.IntervalUnit {
		return errors.ErrPlanImmutableField
	}

	existing.Name = plan.Name
	existing.Description = plan.Description
	existing.Category = plan.Category
	existing.Active = plan.Active
	existing.MaxCycles = plan.MaxCycles
	existing.NoOfOrders = plan.NoOfOrders
	existing.NoOfGracePeriodOrders = plan.NoOfGracePeriodOrders

	if err := uc.planRepo.UpdatePlan(ctx, existing); err != nil {
		uc.log.Errorf("Failed to update plan %s: %v", plan.PlanID, err)
		return err
	}
	return nil
}

// GetPlan 获取套餐
func (uc *BillingUsecase) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	plan, err := uc.planRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.ErrPlanNotFound
	}
	return plan, nil
}

// ListPlans 获取套餐列表
func (uc *BillingUsecase) ListPlans(ctx context.Context, category string) ([]*Plan, error) {
	return uc.planRepo.ListPlans(ctx, category)
}
