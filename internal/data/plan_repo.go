package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// planRepo 套餐仓库实现
type planRepo struct {
	data *Data
	log  *log.Helper
}

// NewPlanRepo 创建套餐仓库
func NewPlanRepo(data *Data, logger log.Logger) biz.PlanRepo {
	return &planRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func planToBiz(m *model.Plan) *biz.Plan {
	return &biz.Plan{
		PlanID:                m.PlanID,
		PartnerPlanID:         m.PartnerPlanID,
		Name:                  m.Name,
		Description:           m.Description,
		Category:              m.Category,
		BillingType:           m.BillingType,
		Amount:                m.Amount,
		AuthAmount:            m.AuthAmount,
		IntervalUnit:          m.IntervalUnit,
		MaxCycles:             m.MaxCycles,
		NoOfOrders:            m.NoOfOrders,
		NoOfGracePeriodOrders: m.NoOfGracePeriodOrders,
		Active:                m.Active,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func planToModel(p *biz.Plan) *model.Plan {
	return &model.Plan{
		PlanID:                p.PlanID,
		PartnerPlanID:         p.PartnerPlanID,
		Name:                  p.Name,
		Description:           p.Description,
		Category:              p.Category,
		BillingType:           p.BillingType,
		Amount:                p.Amount,
		AuthAmount:            p.AuthAmount,
		IntervalUnit:          p.IntervalUnit,
		MaxCycles:             p.MaxCycles,
		NoOfOrders:            p.NoOfOrders,
		NoOfGracePeriodOrders: p.NoOfGracePeriodOrders,
		Active:                p.Active,
	}
}

// GetPlan 根据ID获取套餐
func (r *planRepo) GetPlan(ctx context.Context, planID string) (*biz.Plan, error) {
	var m model.Plan
	err := r.data.DB(ctx).First(&m, "plan_id = ?", planID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get plan %s: %v", planID, err)
		return nil, err
	}
	return planToBiz(&m), nil
}

// ListPlans 获取套餐列表
func (r *planRepo) ListPlans(ctx context.Context, category string) ([]*biz.Plan, error) {
	var models []model.Plan
	query := r.data.DB(ctx)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list plans: %v", err)
		return nil, err
	}

	plans := make([]*biz.Plan, len(models))
	for i := range models {
		plans[i] = planToBiz(&models[i])
	}
	return plans, nil
}

// CreatePlan 创建套餐
func (r *planRepo) CreatePlan(ctx context.Context, plan *biz.Plan) error {
	if err := r.data.DB(ctx).Create(planToModel(plan)).Error; err != nil {
		r.log.Errorf("Failed to create plan: %v", err)
		return err
	}
	return nil
}

// UpdatePlan 更新套餐
func (r *planRepo) UpdatePlan(ctx context.Context, plan *biz.Plan) error {
	if err := r.data.DB(ctx).Model(&model.Plan{}).
		Where("plan_id = ?", plan.PlanID).
		Updates(map[string]interface{}{
			"name":                      plan.Name,
			"description":               plan.Description,
			"category":                  plan.Category,
			"max_cycles":                plan.MaxCycles,
			"no_of_orders":              plan.NoOfOrders,
			"no_of_grace_period_orders": plan.NoOfGracePeriodOrders,
			"active":                    plan.Active,
		}).Error; err != nil {
		r.log.Errorf("Failed to update plan %s: %v", plan.PlanID, err)
		return err
	}
	return nil
}
