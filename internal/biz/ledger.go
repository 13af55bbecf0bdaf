package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"
)

// SubscriptionPayment 计费周期账本行
type SubscriptionPayment struct {
	ID                            uint64
	SubscriptionID                uint64
	PartnerPaymentID              string
	Status                        string
	Cycle                         *int // FREE 套餐单行账本为 nil
	NoOfOrdersBought              int
	NoOfGracePeriodOrdersAllotted int
	NoOfOrdersConsumed            *int // 终结前为 nil，终结恰好一次
	RetryCount                    int
	FailureReason                 string
	ScheduledAt                   *time.Time
	TransactionAt                 *time.Time
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}

// SubscriptionPaymentRepo 账本仓库接口
type SubscriptionPaymentRepo interface {
	GetByID(ctx context.Context, id uint64) (*SubscriptionPayment, error)
	// GetBySubscriptionAndCycle cycle 为 nil 时定位 FREE 套餐的 NULL-cycle 行
	GetBySubscriptionAndCycle(ctx context.Context, subscriptionID uint64, cycle *int) (*SubscriptionPayment, error)
	GetByPartnerPaymentID(ctx context.Context, partnerPaymentID string) (*SubscriptionPayment, error)
	Create(ctx context.Context, row *SubscriptionPayment) error
	Update(ctx context.Context, row *SubscriptionPayment) error
	// UpsertCycleRow (subscription_id, cycle) 已存在则原地更新，否则插入
	UpsertCycleRow(ctx context.Context, subscriptionID uint64, cycle int, row *SubscriptionPayment) error
	// FinalizeConsumed 空值守卫的终结写入，已终结返回 false
	FinalizeConsumed(ctx context.Context, id uint64, consumed int) (bool, error)
}

// expectedPaymentCycle 下一笔周期扣款应当携带的周期号
// 首个周期(0)的种子行尚未 SUCCESS 时期望仍是当前周期，否则为 current_cycle+1
func (uc *BillingUsecase) expectedPaymentCycle(ctx context.Context, sub *Subscription) (int, error) {
	row, err := uc.paymentRepo.GetBySubscriptionAndCycle(ctx, sub.ID, &sub.CurrentCycle)
	if err != nil {
		return 0, err
	}
	if row == nil || row.Status != constants.PaymentStatusSuccess {
		return sub.CurrentCycle, nil
	}
	return sub.CurrentCycle + 1, nil
}

// HandlePaymentSucceeded 处理伙伴扣款成功事件
// 金额等于授权验证金额 -> 授权证明事件，只更新订阅授权字段；
// 金额等于周期金额且周期号对齐 -> 新周期事件：账本行置 SUCCESS、周期推进、
// next_payment_on 重算、end_time 从交易时间顺延一个计费周期
func (uc *BillingUsecase) HandlePaymentSucceeded(ctx context.Context, ev *PartnerSubscription, payment *PartnerPayment) error {
	uc.log.Infof("HandlePaymentSucceeded: partnerSubID=%s, paymentID=%s, amount=%.2f",
		ev.PartnerSubscriptionID, payment.PartnerPaymentID, payment.Amount)

	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetByPartnerIDForUpdate(ctx, ev.PartnerSubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.ErrSubscriptionNotFound
		}
		plan, err := uc.planRepo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errors.ErrPlanNotFound
		}

		// 授权证明事件：不触碰账本和计费投影
		if payment.Amount == plan.AuthAmount && plan.AuthAmount != plan.Amount {
			if sub.AuthStatus == constants.AuthStatusAuthorized {
				return nil
			}
			sub.AuthStatus = constants.AuthStatusAuthorized
			sub.UpdatedAt = time.Now().UTC()
			uc.log.Infof("Authorization proof received for subscription %d", sub.ID)
			return uc.subRepo.Update(ctx, sub)
		}

		if payment.Amount != plan.Amount {
			uc.log.Warnf("Payment %s amount %.2f matches neither plan amount %.2f nor auth amount %.2f, ignoring",
				payment.PartnerPaymentID, payment.Amount, plan.Amount, plan.AuthAmount)
			return nil
		}
		if payment.Cycle == nil {
			uc.log.Warnf("Periodic payment %s carries no cycle, ignoring", payment.PartnerPaymentID)
			return nil
		}

		cycle := *payment.Cycle
		existing, err := uc.paymentRepo.GetBySubscriptionAndCycle(ctx, sub.ID, &cycle)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == constants.PaymentStatusSuccess {
			uc.log.Infof("Payment for subscription %d cycle %d already booked, skipping (idempotent)", sub.ID, cycle)
			return nil
		}

		expected, err := uc.expectedPaymentCycle(ctx, sub)
		if err != nil {
			return err
		}
		if cycle != expected {
			uc.log.Errorf("Payment cycle mismatch for subscription %d: got %d, expected %d", sub.ID, cycle, expected)
			return errors.ErrUnexpectedPaymentCycle
		}

		stats, err := uc.statsRepo.GetForUpdate(ctx, sub.RestaurantID)
		if err != nil {
			return err
		}
		if stats == nil {
			return errors.ErrBillingStatsNotFound
		}

		// 周期推进时旧行被取代：先终结再重置额度
		advancing := cycle > sub.CurrentCycle
		if advancing {
			prev, err := uc.paymentRepo.GetBySubscriptionAndCycle(ctx, sub.ID, &sub.CurrentCycle)
			if err != nil {
				return err
			}
			if prev != nil {
				if err := uc.FinalizeSupersededCycle(ctx, prev.ID, stats.SubscriptionRemainingOrders); err != nil {
					return err
				}
			}
			stats.SubscriptionRemainingOrders = plan.NoOfOrders
			stats.SubscriptionGracePeriodRemainingOrders = plan.NoOfGracePeriodOrders
		}

		txAt := payment.TransactionAt
		row := &SubscriptionPayment{
			SubscriptionID:                sub.ID,
			PartnerPaymentID:              payment.PartnerPaymentID,
			Status:                        constants.PaymentStatusSuccess,
			Cycle:                         &cycle,
			NoOfOrdersBought:              plan.NoOfOrders,
			NoOfGracePeriodOrdersAllotted: plan.NoOfGracePeriodOrders,
			TransactionAt:                 &txAt,
		}
		if err := uc.paymentRepo.UpsertCycleRow(ctx, sub.ID, cycle, row); err != nil {
			return err
		}

		if advancing {
			sub.CurrentCycle = cycle
		}

		end := plan.AddInterval(txAt)
		sub.EndTime = end
		stats.SubscriptionEndTime = &end
		if ev.NextPaymentOn != nil {
			sub.NextPaymentOn = ev.NextPaymentOn
		} else {
			next := end
			sub.NextPaymentOn = &next
		}
		if err := uc.statsRepo.Save(ctx, stats); err != nil {
			return err
		}

		now := time.Now().UTC()
		// 迟到的扣款成功解除挂起
		if sub.Status == constants.SubscriptionStatusOnHold {
			from := sub.Status
			sub.Status = constants.SubscriptionStatusActive
			if err := uc.historyRepo.Add(ctx, &SubscriptionHistory{
				SubscriptionID: sub.ID,
				RestaurantID:   sub.RestaurantID,
				PlanID:         sub.PlanID,
				FromStatus:     from,
				ToStatus:       constants.SubscriptionStatusActive,
				Action:         constants.ActionReactivated,
				Actor:          constants.ActorPartner,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
		sub.UpdatedAt = now
		return uc.subRepo.Update(ctx, sub)
	})
}

// HandlePaymentDeclined 处理伙伴扣款失败事件
// 只更新/补插账本行，绝不直接改订阅状态——挂起与否由对账任务基于
// 到期事实判定(失败在截止前仍可重试)
func (uc *BillingUsecase) HandlePaymentDeclined(ctx context.Context, ev *PartnerSubscription, payment *PartnerPayment) error {
	uc.log.Infof("HandlePaymentDeclined: partnerSubID=%s, paymentID=%s", ev.PartnerSubscriptionID, payment.PartnerPaymentID)

	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetByPartnerIDForUpdate(ctx, ev.PartnerSubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.ErrSubscriptionNotFound
		}

		row, err := uc.paymentRepo.GetByPartnerPaymentID(ctx, payment.PartnerPaymentID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if row != nil {
			if row.Status == constants.PaymentStatusFailed && row.FailureReason == payment.FailureReason {
				return nil
			}
			row.Status = constants.PaymentStatusFailed
			row.FailureReason = payment.FailureReason
			row.RetryCount++
			row.UpdatedAt = now
			return uc.paymentRepo.Update(ctx, row)
		}

		// 该周期已有行时原地置 FAILED，避免撞 (subscription_id, cycle) 唯一约束
		cycle := payment.Cycle
		if cycle != nil {
			cycleRow, err := uc.paymentRepo.GetBySubscriptionAndCycle(ctx, sub.ID, cycle)
			if err != nil {
				return err
			}
			if cycleRow != nil {
				if cycleRow.Status == constants.PaymentStatusSuccess {
					// 周期已成功入账，失败事件只能作为无周期归属的流水补记
					cycle = nil
				} else {
					cycleRow.PartnerPaymentID = payment.PartnerPaymentID
					cycleRow.Status = constants.PaymentStatusFailed
					cycleRow.FailureReason = payment.FailureReason
					cycleRow.RetryCount++
					cycleRow.UpdatedAt = now
					return uc.paymentRepo.Update(ctx, cycleRow)
				}
			}
		}

		return uc.paymentRepo.Create(ctx, &SubscriptionPayment{
			SubscriptionID:   sub.ID,
			PartnerPaymentID: payment.PartnerPaymentID,
			Status:           constants.PaymentStatusFailed,
			Cycle:            cycle,
			FailureReason:    payment.FailureReason,
			ScheduledAt:      sub.NextPaymentOn,
		})
	})
}
