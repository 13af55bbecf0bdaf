package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// billingStatsRepo 餐厅计费投影仓库实现
type billingStatsRepo struct {
	data *Data
	log  *log.Helper
}

// NewBillingStatsRepo 创建计费投影仓库
func NewBillingStatsRepo(data *Data, logger log.Logger) biz.BillingStatsRepo {
	return &billingStatsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func statsToBiz(m *model.RestaurantBillingStats) *biz.BillingStats {
	return &biz.BillingStats{
		RestaurantID:                           m.RestaurantID,
		SubscriptionID:                         m.SubscriptionID,
		SubscriptionEndTime:                    m.SubscriptionEndTime,
		SubscriptionRemainingOrders:            m.SubscriptionRemainingOrders,
		SubscriptionGracePeriodRemainingOrders: m.SubscriptionGracePeriodRemainingOrders,
	}
}

func (r *billingStatsRepo) get(ctx context.Context, forUpdate bool, restaurantID uint64) (*biz.BillingStats, error) {
	db := r.data.DB(ctx)
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m model.RestaurantBillingStats
	err := db.Where("restaurant_id = ?", restaurantID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get billing stats for restaurant %d: %v", restaurantID, err)
		return nil, err
	}
	return statsToBiz(&m), nil
}

// Get 获取餐厅计费投影
func (r *billingStatsRepo) Get(ctx context.Context, restaurantID uint64) (*biz.BillingStats, error) {
	return r.get(ctx, false, restaurantID)
}

// GetForUpdate 获取餐厅计费投影并加行锁
func (r *billingStatsRepo) GetForUpdate(ctx context.Context, restaurantID uint64) (*biz.BillingStats, error) {
	return r.get(ctx, true, restaurantID)
}

// Save 保存计费投影，餐厅首个订阅时插入
func (r *billingStatsRepo) Save(ctx context.Context, stats *biz.BillingStats) error {
	m := &model.RestaurantBillingStats{
		RestaurantID:                           stats.RestaurantID,
		SubscriptionID:                         stats.SubscriptionID,
		SubscriptionEndTime:                    stats.SubscriptionEndTime,
		SubscriptionRemainingOrders:            stats.SubscriptionRemainingOrders,
		SubscriptionGracePeriodRemainingOrders: stats.SubscriptionGracePeriodRemainingOrders,
		UpdatedAt:                              time.Now().UTC(),
	}
	if err := r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "restaurant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"subscription_end_time",
			"subscription_remaining_orders",
			"subscription_grace_period_remaining_orders",
			"updated_at",
		}),
	}).Create(m).Error; err != nil {
		r.log.Errorf("Failed to save billing stats for restaurant %d: %v", stats.RestaurantID, err)
		return err
	}
	return nil
}

// ListLapsedBefore 订阅到期时间早于 deadline 且仍指向订阅的投影行
func (r *billingStatsRepo) ListLapsedBefore(ctx context.Context, deadline time.Time) ([]*biz.BillingStats, error) {
	var models []model.RestaurantBillingStats
	if err := r.data.DB(ctx).
		Where("subscription_id IS NOT NULL AND subscription_end_time IS NOT NULL AND subscription_end_time < ?", deadline).
		Order("subscription_end_time ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list lapsed billing stats: %v", err)
		return nil, err
	}

	out := make([]*biz.BillingStats, len(models))
	for i := range models {
		out[i] = statsToBiz(&models[i])
	}
	return out, nil
}
