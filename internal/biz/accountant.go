package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"
)

// BillingStats 餐厅计费投影
type BillingStats struct {
	RestaurantID                           uint64
	SubscriptionID                         *uint64
	SubscriptionEndTime                    *time.Time
	SubscriptionRemainingOrders            int
	SubscriptionGracePeriodRemainingOrders int
}

// BillingStatsRepo 计费投影仓库接口
type BillingStatsRepo interface {
	Get(ctx context.Context, restaurantID uint64) (*BillingStats, error)
	// GetForUpdate 在当前事务内对投影行加 FOR UPDATE 锁
	GetForUpdate(ctx context.Context, restaurantID uint64) (*BillingStats, error)
	Save(ctx context.Context, stats *BillingStats) error
	// ListLapsedBefore 订阅到期时间早于 deadline 且仍指向订阅的投影行
	ListLapsedBefore(ctx context.Context, deadline time.Time) ([]*BillingStats, error)
}

// DebitOneOrder 每完成一笔订单扣减一次订单额度
// 投影行加锁后执行三段规则；额度耗尽绝不阻塞订单履约，只发运营告警
func (uc *BillingUsecase) DebitOneOrder(ctx context.Context, restaurantID uint64) error {
	var notices []notice
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		stats, err := uc.statsRepo.GetForUpdate(ctx, restaurantID)
		if err != nil {
			return err
		}
		if stats == nil {
			return errors.ErrBillingStatsNotFound
		}

		now := time.Now().UTC()
		graceWindow := uc.billing().GraceWindow()

		switch {
		case stats.SubscriptionEndTime != nil && stats.SubscriptionEndTime.After(now):
			// 订阅期内：先耗尽主额度，再借用下一周期的宽限额度
			if stats.SubscriptionRemainingOrders > 0 {
				stats.SubscriptionRemainingOrders--
			} else if stats.SubscriptionGracePeriodRemainingOrders > 0 {
				stats.SubscriptionGracePeriodRemainingOrders--
				notices = append(notices, notice{
					template:  constants.TemplateTopUpReminder,
					recipient: uc.recipientFor(ctx, stats),
					data:      map[string]any{"restaurant_id": restaurantID, "grace_remaining": stats.SubscriptionGracePeriodRemainingOrders},
				})
			} else {
				uc.log.Warnf("Restaurant %d has no order credits of either kind while subscription is live", restaurantID)
				notices = append(notices, uc.operatorAlert(restaurantID, "order debited with zero remaining and zero grace credits"))
			}

		case stats.SubscriptionEndTime != nil && now.Before(stats.SubscriptionEndTime.Add(graceWindow)):
			// 到期但仍在时间级宽限窗口内：只能动宽限额度
			if stats.SubscriptionGracePeriodRemainingOrders > 0 {
				stats.SubscriptionGracePeriodRemainingOrders--
			} else {
				notices = append(notices, uc.operatorAlert(restaurantID, "grace-window order debited with zero grace credits"))
			}

		default:
			// 宽限窗口也已过去：订单不应该还在履约，属上游缺陷
			uc.log.Errorf("Order fulfilled for restaurant %d after grace window elapsed", restaurantID)
			notices = append(notices, uc.operatorAlert(restaurantID, "order fulfilled after grace window elapsed"))
		}

		return uc.statsRepo.Save(ctx, stats)
	})
	if err != nil {
		return err
	}

	uc.dispatch(ctx, notices)
	return nil
}

func (uc *BillingUsecase) operatorAlert(restaurantID uint64, detail string) notice {
	return notice{
		template:  constants.TemplateOperatorAlert,
		recipient: uc.billing().OperatorRecipient,
		data:      map[string]any{"restaurant_id": restaurantID, "detail": detail},
	}
}

// recipientFor 充值提醒的接收方：当前订阅的客户联系方式快照
func (uc *BillingUsecase) recipientFor(ctx context.Context, stats *BillingStats) string {
	if stats.SubscriptionID == nil {
		return uc.billing().OperatorRecipient
	}
	sub, err := uc.subRepo.GetByID(ctx, *stats.SubscriptionID)
	if err != nil || sub == nil {
		return uc.billing().OperatorRecipient
	}
	return sub.CustomerEmail
}

// FinalizeSupersededCycle 终结被取代的账本行
// no_of_orders_consumed = 该周期购入 - 观测剩余(下限 0)，空值守卫保证至多执行一次，
// 避免对账任务与在线迁移竞争终结同一行时重复计数
func (uc *BillingUsecase) FinalizeSupersededCycle(ctx context.Context, ledgerRowID uint64, observedRemainingOrders int) error {
	row, err := uc.paymentRepo.GetByID(ctx, ledgerRowID)
	if err != nil {
		return err
	}
	if row == nil {
		return errors.ErrLedgerRowNotFound
	}
	if row.NoOfOrdersConsumed != nil {
		return nil
	}

	consumed := row.NoOfOrdersBought - observedRemainingOrders
	if consumed < 0 {
		consumed = 0
	}

	done, err := uc.paymentRepo.FinalizeConsumed(ctx, ledgerRowID, consumed)
	if err != nil {
		return err
	}
	if !done {
		uc.log.Infof("Ledger row %d already finalized by a concurrent path", ledgerRowID)
	}
	return nil
}
