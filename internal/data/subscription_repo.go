package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// liveStatuses 未终结状态集合(FAILED_TO_CANCEL 可重试，算 live)
var liveStatuses = []string{
	constants.SubscriptionStatusPending,
	constants.SubscriptionStatusInitialized,
	constants.SubscriptionStatusBankApprovalPending,
	constants.SubscriptionStatusActive,
	constants.SubscriptionStatusOnHold,
	constants.SubscriptionStatusFailedToCancel,
}

// subscriptionRepo 订阅仓库实现
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅仓库
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func subToBiz(m *model.Subscription) *biz.Subscription {
	return &biz.Subscription{
		ID:                    m.ID,
		PartnerSubscriptionID: m.PartnerSubscriptionID,
		RestaurantID:          m.RestaurantID,
		PlanID:                m.PlanID,
		Status:                m.Status,
		AuthStatus:            m.AuthStatus,
		AuthLink:              m.AuthLink,
		CancelledBy:           m.CancelledBy,
		CancelReason:          m.CancelReason,
		CustomerName:          m.CustomerName,
		CustomerEmail:         m.CustomerEmail,
		CustomerPhone:         m.CustomerPhone,
		StartTime:             m.StartTime,
		EndTime:               m.EndTime,
		CurrentCycle:          m.CurrentCycle,
		NextPaymentOn:         m.NextPaymentOn,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func subToModel(s *biz.Subscription) *model.Subscription {
	return &model.Subscription{
		ID:                    s.ID,
		PartnerSubscriptionID: s.PartnerSubscriptionID,
		RestaurantID:          s.RestaurantID,
		PlanID:                s.PlanID,
		Status:                s.Status,
		AuthStatus:            s.AuthStatus,
		AuthLink:              s.AuthLink,
		CancelledBy:           s.CancelledBy,
		CancelReason:          s.CancelReason,
		CustomerName:          s.CustomerName,
		CustomerEmail:         s.CustomerEmail,
		CustomerPhone:         s.CustomerPhone,
		StartTime:             s.StartTime,
		EndTime:               s.EndTime,
		CurrentCycle:          s.CurrentCycle,
		NextPaymentOn:         s.NextPaymentOn,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func (r *subscriptionRepo) getOne(ctx context.Context, forUpdate bool, query string, args ...interface{}) (*biz.Subscription, error) {
	db := r.data.DB(ctx)
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m model.Subscription
	err := db.Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get subscription (%s): %v", query, err)
		return nil, err
	}
	return subToBiz(&m), nil
}

// GetByID 根据ID获取订阅
func (r *subscriptionRepo) GetByID(ctx context.Context, id uint64) (*biz.Subscription, error) {
	return r.getOne(ctx, false, "subscription_id = ?", id)
}

// GetByIDForUpdate 根据ID获取订阅并加行锁
func (r *subscriptionRepo) GetByIDForUpdate(ctx context.Context, id uint64) (*biz.Subscription, error) {
	return r.getOne(ctx, true, "subscription_id = ?", id)
}

// GetByPartnerIDForUpdate 根据伙伴订阅ID获取订阅并加行锁
func (r *subscriptionRepo) GetByPartnerIDForUpdate(ctx context.Context, partnerSubscriptionID string) (*biz.Subscription, error) {
	return r.getOne(ctx, true, "partner_subscription_id = ?", partnerSubscriptionID)
}

// GetLiveByRestaurant 获取餐厅当前未终结的订阅
func (r *subscriptionRepo) GetLiveByRestaurant(ctx context.Context, restaurantID uint64) (*biz.Subscription, error) {
	return r.getOne(ctx, false, "restaurant_id = ? AND status IN ?", restaurantID, liveStatuses)
}

// GetLiveByRestaurantForUpdate 获取餐厅当前未终结的订阅并加行锁
func (r *subscriptionRepo) GetLiveByRestaurantForUpdate(ctx context.Context, restaurantID uint64) (*biz.Subscription, error) {
	return r.getOne(ctx, true, "restaurant_id = ? AND status IN ?", restaurantID, liveStatuses)
}

// Create 创建订阅
func (r *subscriptionRepo) Create(ctx context.Context, sub *biz.Subscription) error {
	m := subToModel(sub)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create subscription for restaurant %d: %v", sub.RestaurantID, err)
		return err
	}
	sub.ID = m.ID
	return nil
}

// Update 更新订阅
func (r *subscriptionRepo) Update(ctx context.Context, sub *biz.Subscription) error {
	if err := r.data.DB(ctx).Save(subToModel(sub)).Error; err != nil {
		r.log.Errorf("Failed to update subscription %d: %v", sub.ID, err)
		return err
	}
	return nil
}

// ListPaymentDueBetween 次期扣款时间落在 [from, to] 内的 ACTIVE 付费订阅
func (r *subscriptionRepo) ListPaymentDueBetween(ctx context.Context, from, to time.Time) ([]*biz.Subscription, error) {
	var models []model.Subscription
	if err := r.data.DB(ctx).
		Where("status = ? AND partner_subscription_id != '' AND next_payment_on BETWEEN ? AND ?",
			constants.SubscriptionStatusActive, from, to).
		Order("next_payment_on ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list payment-due subscriptions: %v", err)
		return nil, err
	}

	subs := make([]*biz.Subscription, len(models))
	for i := range models {
		subs[i] = subToBiz(&models[i])
	}
	return subs, nil
}
