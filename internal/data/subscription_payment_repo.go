package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// subscriptionPaymentRepo 账本仓库实现
type subscriptionPaymentRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionPaymentRepo 创建账本仓库
func NewSubscriptionPaymentRepo(data *Data, logger log.Logger) biz.SubscriptionPaymentRepo {
	return &subscriptionPaymentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func paymentToBiz(m *model.SubscriptionPayment) *biz.SubscriptionPayment {
	return &biz.SubscriptionPayment{
		ID:                            m.ID,
		SubscriptionID:                m.SubscriptionID,
		PartnerPaymentID:              m.PartnerPaymentID,
		Status:                        m.Status,
		Cycle:                         m.Cycle,
		NoOfOrdersBought:              m.NoOfOrdersBought,
		NoOfGracePeriodOrdersAllotted: m.NoOfGracePeriodOrdersAllotted,
		NoOfOrdersConsumed:            m.NoOfOrdersConsumed,
		RetryCount:                    m.RetryCount,
		FailureReason:                 m.FailureReason,
		ScheduledAt:                   m.ScheduledAt,
		TransactionAt:                 m.TransactionAt,
		CreatedAt:                     m.CreatedAt,
		UpdatedAt:                     m.UpdatedAt,
	}
}

func paymentToModel(p *biz.SubscriptionPayment) *model.SubscriptionPayment {
	return &model.SubscriptionPayment{
		ID:                            p.ID,
		SubscriptionID:                p.SubscriptionID,
		PartnerPaymentID:              p.PartnerPaymentID,
		Status:                        p.Status,
		Cycle:                         p.Cycle,
		NoOfOrdersBought:              p.NoOfOrdersBought,
		NoOfGracePeriodOrdersAllotted: p.NoOfGracePeriodOrdersAllotted,
		NoOfOrdersConsumed:            p.NoOfOrdersConsumed,
		RetryCount:                    p.RetryCount,
		FailureReason:                 p.FailureReason,
		ScheduledAt:                   p.ScheduledAt,
		TransactionAt:                 p.TransactionAt,
		CreatedAt:                     p.CreatedAt,
		UpdatedAt:                     p.UpdatedAt,
	}
}

// GetByID 根据ID获取账本行
func (r *subscriptionPaymentRepo) GetByID(ctx context.Context, id uint64) (*biz.SubscriptionPayment, error) {
	var m model.SubscriptionPayment
	err := r.data.DB(ctx).Where("subscription_payment_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get ledger row %d: %v", id, err)
		return nil, err
	}
	return paymentToBiz(&m), nil
}

// GetBySubscriptionAndCycle 根据订阅和周期号定位账本行
// cycle 为 nil 时匹配 FREE 套餐的 NULL-cycle 行
func (r *subscriptionPaymentRepo) GetBySubscriptionAndCycle(ctx context.Context, subscriptionID uint64, cycle *int) (*biz.SubscriptionPayment, error) {
	db := r.data.DB(ctx).Where("subscription_id = ?", subscriptionID)
	if cycle == nil {
		db = db.Where("cycle IS NULL")
	} else {
		db = db.Where("cycle = ?", *cycle)
	}
	var m model.SubscriptionPayment
	err := db.First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get ledger row for subscription %d: %v", subscriptionID, err)
		return nil, err
	}
	return paymentToBiz(&m), nil
}

// GetByPartnerPaymentID 根据伙伴支付ID获取账本行
func (r *subscriptionPaymentRepo) GetByPartnerPaymentID(ctx context.Context, partnerPaymentID string) (*biz.SubscriptionPayment, error) {
	var m model.SubscriptionPayment
	err := r.data.DB(ctx).Where("partner_payment_id = ?", partnerPaymentID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get ledger row by partner payment %s: %v", partnerPaymentID, err)
		return nil, err
	}
	return paymentToBiz(&m), nil
}

// Create 创建账本行
func (r *subscriptionPaymentRepo) Create(ctx context.Context, row *biz.SubscriptionPayment) error {
	m := paymentToModel(row)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create ledger row for subscription %d: %v", row.SubscriptionID, err)
		return err
	}
	row.ID = m.ID
	return nil
}

// Update 更新账本行
func (r *subscriptionPaymentRepo) Update(ctx context.Context, row *biz.SubscriptionPayment) error {
	if err := r.data.DB(ctx).Save(paymentToModel(row)).Error; err != nil {
		r.log.Errorf("Failed to update ledger row %d: %v", row.ID, err)
		return err
	}
	return nil
}

// UpsertCycleRow (subscription_id, cycle) 已有行则原地翻转，否则插入
// 种子 PENDING 行被首笔扣款成功翻转为 SUCCESS 即走更新分支
func (r *subscriptionPaymentRepo) UpsertCycleRow(ctx context.Context, subscriptionID uint64, cycle int, row *biz.SubscriptionPayment) error {
	existing, err := r.GetBySubscriptionAndCycle(ctx, subscriptionID, &cycle)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.Create(ctx, row)
	}

	updates := map[string]interface{}{
		"partner_payment_id":                 row.PartnerPaymentID,
		"status":                             row.Status,
		"no_of_orders_bought":                row.NoOfOrdersBought,
		"no_of_grace_period_orders_allotted": row.NoOfGracePeriodOrdersAllotted,
		"transaction_at":                     row.TransactionAt,
	}
	if err := r.data.DB(ctx).Model(&model.SubscriptionPayment{}).
		Where("subscription_payment_id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		r.log.Errorf("Failed to upsert ledger row for subscription %d cycle %d: %v", subscriptionID, cycle, err)
		return err
	}
	row.ID = existing.ID
	return nil
}

// FinalizeConsumed 空值守卫的终结写入
// WHERE no_of_orders_consumed IS NULL 保证并发终结同一行时只有一方生效
func (r *subscriptionPaymentRepo) FinalizeConsumed(ctx context.Context, id uint64, consumed int) (bool, error) {
	res := r.data.DB(ctx).Model(&model.SubscriptionPayment{}).
		Where("subscription_payment_id = ? AND no_of_orders_consumed IS NULL", id).
		Updates(map[string]interface{}{"no_of_orders_consumed": consumed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		r.log.Errorf("Failed to finalize ledger row %d: %v", id, res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
