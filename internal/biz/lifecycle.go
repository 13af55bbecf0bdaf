package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"
)

// legalPredecessors 状态机迁移表：目标状态 -> 允许的前置状态
var legalPredecessors = map[string][]string{
	constants.SubscriptionStatusInitialized: {
		constants.SubscriptionStatusPending,
	},
	constants.SubscriptionStatusBankApprovalPending: {
		constants.SubscriptionStatusInitialized,
	},
	constants.SubscriptionStatusActive: {
		constants.SubscriptionStatusInitialized,
		constants.SubscriptionStatusBankApprovalPending,
		constants.SubscriptionStatusOnHold,
	},
	constants.SubscriptionStatusOnHold: {
		constants.SubscriptionStatusActive,
	},
	constants.SubscriptionStatusCancelled: {
		constants.SubscriptionStatusPending,
		constants.SubscriptionStatusInitialized,
		constants.SubscriptionStatusBankApprovalPending,
		constants.SubscriptionStatusActive,
		constants.SubscriptionStatusOnHold,
		constants.SubscriptionStatusFailedToCancel,
	},
	constants.SubscriptionStatusFailedToCancel: {
		constants.SubscriptionStatusPending,
		constants.SubscriptionStatusInitialized,
		constants.SubscriptionStatusBankApprovalPending,
		constants.SubscriptionStatusActive,
		constants.SubscriptionStatusOnHold,
	},
	constants.SubscriptionStatusCompleted: {
		constants.SubscriptionStatusActive,
		constants.SubscriptionStatusPending,
	},
}

// canTransition 校验 from -> to 是否为合法迁移
func canTransition(from, to string) bool {
	for _, p := range legalPredecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// HandleSubscriptionEvent 处理伙伴订阅状态事件(幂等入口)
// 完全重复的目标状态提交空事务返回；非法前置状态是需要排查的缺陷，抛错不吸收
func (uc *BillingUsecase) HandleSubscriptionEvent(ctx context.Context, ev *PartnerSubscription) error {
	uc.log.Infof("HandleSubscriptionEvent: partnerSubID=%s, target=%s", ev.PartnerSubscriptionID, ev.Status)

	var notices []notice
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetByPartnerIDForUpdate(ctx, ev.PartnerSubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.ErrSubscriptionNotFound
		}

		// 重复投递的 webhook 是空操作，不是错误
		if sub.Status == ev.Status {
			uc.log.Infof("Subscription %d already in status %s, skipping (idempotent)", sub.ID, ev.Status)
			return nil
		}

		if !canTransition(sub.Status, ev.Status) {
			uc.log.Errorf("Illegal state transition for subscription %d: %s -> %s", sub.ID, sub.Status, ev.Status)
			return errors.ErrIllegalStateTransition
		}

		plan, err := uc.planRepo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errors.ErrPlanNotFound
		}

		now := time.Now().UTC()
		from := sub.Status
		action := ""

		switch ev.Status {
		case constants.SubscriptionStatusInitialized:
			sub.AuthLink = ev.AuthLink
			action = constants.ActionInitialized

		case constants.SubscriptionStatusBankApprovalPending:
			action = constants.ActionInitialized

		case constants.SubscriptionStatusActive:
			// 先落首个扣款时间，种子行的 scheduled_at 依赖它
			if ev.NextPaymentOn != nil {
				sub.NextPaymentOn = ev.NextPaymentOn
			}
			if from == constants.SubscriptionStatusOnHold {
				action = constants.ActionReactivated
			} else {
				// 授权完成，种下首个账本行并重置计费投影
				if err := uc.seedActiveSubscription(ctx, sub, plan, now); err != nil {
					return err
				}
				action = constants.ActionActivated
				notices = append(notices, notice{
					template:  constants.TemplateSubscriptionActivated,
					recipient: sub.CustomerEmail,
					data:      map[string]any{"subscription_id": sub.ID, "plan_id": sub.PlanID},
				})
			}

		case constants.SubscriptionStatusOnHold:
			action = constants.ActionOnHold

		case constants.SubscriptionStatusCancelled:
			sub.CancelledBy = constants.ActorPartner
			sub.CancelReason = "partner reported cancellation"
			sub.EndTime = now
			action = constants.ActionCancelled

		case constants.SubscriptionStatusCompleted:
			sub.EndTime = now
			action = constants.ActionCompleted
		}

		sub.Status = ev.Status
		sub.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, sub); err != nil {
			return err
		}
		return uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			RestaurantID:   sub.RestaurantID,
			PlanID:         sub.PlanID,
			FromStatus:     from,
			ToStatus:       ev.Status,
			Action:         action,
			Actor:          constants.ActorPartner,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return err
	}

	uc.dispatch(ctx, notices)
	return nil
}

// HandleAuthorizationFailed 处理授权失败事件
// 只更新授权字段，订阅停留在原状态等待重试或取消
func (uc *BillingUsecase) HandleAuthorizationFailed(ctx context.Context, ev *PartnerSubscription) error {
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetByPartnerIDForUpdate(ctx, ev.PartnerSubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.ErrSubscriptionNotFound
		}
		if sub.AuthStatus == constants.AuthStatusFailed {
			return nil
		}
		sub.AuthStatus = constants.AuthStatusFailed
		sub.UpdatedAt = time.Now().UTC()
		uc.log.Warnf("Authorization failed for subscription %d (partner %s)", sub.ID, ev.PartnerSubscriptionID)
		return uc.subRepo.Update(ctx, sub)
	})
}

// seedActiveSubscription 激活时的种子操作(调用方已持有订阅行锁)
// 种下 cycle 0 的 PENDING 账本行；end_time 置为 now，表示餐厅在首笔扣款
// 落地前处于初始宽限窗口。
// 扣款成功事件可能先于激活事件到达：cycle 0 已 SUCCESS 入账时不得把种子行
// 回退成 PENDING，end_time 也保持已付的到期时间
func (uc *BillingUsecase) seedActiveSubscription(ctx context.Context, sub *Subscription, plan *Plan, now time.Time) error {
	cycle := 0
	end := now

	existing, err := uc.paymentRepo.GetBySubscriptionAndCycle(ctx, sub.ID, &cycle)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == constants.PaymentStatusSuccess {
		uc.log.Infof("Cycle 0 already booked for subscription %d, keeping paid ledger", sub.ID)
		if sub.EndTime.After(now) {
			end = sub.EndTime
		}
	} else {
		row := &SubscriptionPayment{
			SubscriptionID:                sub.ID,
			Status:                        constants.PaymentStatusPending,
			Cycle:                         &cycle,
			NoOfOrdersBought:              plan.NoOfOrders,
			NoOfGracePeriodOrdersAllotted: plan.NoOfGracePeriodOrders,
			ScheduledAt:                   sub.NextPaymentOn,
		}
		if err := uc.paymentRepo.UpsertCycleRow(ctx, sub.ID, cycle, row); err != nil {
			return err
		}
	}

	if sub.StartTime.IsZero() {
		sub.StartTime = now
	}
	return uc.reseedBillingStats(ctx, sub, plan, end)
}

// reseedBillingStats 切换计费血统：先终结旧订阅的当前账本行，再重置投影
// 保证任一时刻只有一条计费血统处于"live"状态
func (uc *BillingUsecase) reseedBillingStats(ctx context.Context, sub *Subscription, plan *Plan, endTime time.Time) error {
	stats, err := uc.statsRepo.GetForUpdate(ctx, sub.RestaurantID)
	if err != nil {
		return err
	}
	if stats == nil {
		return errors.ErrBillingStatsNotFound
	}

	if stats.SubscriptionID != nil && *stats.SubscriptionID != sub.ID {
		if err := uc.finalizeCurrentRow(ctx, *stats.SubscriptionID, stats.SubscriptionRemainingOrders); err != nil {
			return err
		}
	}

	stats.SubscriptionID = &sub.ID
	stats.SubscriptionEndTime = &endTime
	stats.SubscriptionRemainingOrders = plan.NoOfOrders
	stats.SubscriptionGracePeriodRemainingOrders = plan.NoOfGracePeriodOrders
	return uc.statsRepo.Save(ctx, stats)
}

// finalizeCurrentRow 终结某订阅当前周期的账本行
// 付费订阅按 current_cycle 定位，免费订阅回落到 NULL-cycle 单行
func (uc *BillingUsecase) finalizeCurrentRow(ctx context.Context, subscriptionID uint64, observedRemaining int) error {
	old, err := uc.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if old == nil {
		uc.log.Warnf("Superseded subscription %d no longer exists, skipping finalization", subscriptionID)
		return nil
	}

	row, err := uc.paymentRepo.GetBySubscriptionAndCycle(ctx, old.ID, &old.CurrentCycle)
	if err != nil {
		return err
	}
	if row == nil {
		row, err = uc.paymentRepo.GetBySubscriptionAndCycle(ctx, old.ID, nil)
		if err != nil {
			return err
		}
	}
	if row == nil {
		return nil
	}
	return uc.FinalizeSupersededCycle(ctx, row.ID, observedRemaining)
}

// CancelSubscription 取消订阅
// 付费订阅要求伙伴侧确认取消先于本地提交：伙伴失败回滚本地事务，
// 订阅落入 FAILED_TO_CANCEL(可重试、可运营介入)，而非静默吞掉
func (uc *BillingUsecase) CancelSubscription(ctx context.Context, restaurantID uint64, actor, reason string) error {
	uc.log.Infof("CancelSubscription: restaurantID=%d, actor=%s, reason=%s", restaurantID, actor, reason)

	var partnerFailedSubID uint64
	var notices []notice
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetLiveByRestaurantForUpdate(ctx, restaurantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.ErrSubscriptionNotFound
		}
		if !canTransition(sub.Status, constants.SubscriptionStatusCancelled) {
			return errors.ErrInvalidStatusForAction
		}

		plan, err := uc.planRepo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errors.ErrPlanNotFound
		}

		// 伙伴确认先于本地提交，失败则整个事务回滚
		if !plan.IsFree() && sub.PartnerSubscriptionID != "" {
			if err := uc.gateway.CancelSubscription(ctx, sub.PartnerSubscriptionID); err != nil {
				uc.log.Errorf("Partner cancellation failed for subscription %d: %v", sub.ID, err)
				partnerFailedSubID = sub.ID
				return errors.ErrPartnerCancelFailed
			}
		}

		now := time.Now().UTC()
		from := sub.Status
		sub.Status = constants.SubscriptionStatusCancelled
		sub.CancelledBy = actor
		sub.CancelReason = reason
		sub.EndTime = now
		sub.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, sub); err != nil {
			return err
		}
		if err := uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			RestaurantID:   sub.RestaurantID,
			PlanID:         sub.PlanID,
			FromStatus:     from,
			ToStatus:       constants.SubscriptionStatusCancelled,
			Action:         constants.ActionCancelled,
			Actor:          actor,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		notices = append(notices, notice{
			template:  constants.TemplateSubscriptionCancelled,
			recipient: sub.CustomerEmail,
			data:      map[string]any{"subscription_id": sub.ID, "reason": reason},
		})
		return nil
	})

	if err != nil {
		if partnerFailedSubID != 0 {
			uc.markFailedToCancel(ctx, partnerFailedSubID, actor)
		}
		return err
	}

	uc.dispatch(ctx, notices)
	return nil
}

// markFailedToCancel 伙伴取消失败后的独立小事务，保证该状态对运营可见
func (uc *BillingUsecase) markFailedToCancel(ctx context.Context, subscriptionID uint64, actor string) {
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetByIDForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || sub.IsTerminal() || sub.Status == constants.SubscriptionStatusFailedToCancel {
			return nil
		}
		now := time.Now().UTC()
		from := sub.Status
		sub.Status = constants.SubscriptionStatusFailedToCancel
		sub.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, sub); err != nil {
			return err
		}
		return uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			RestaurantID:   sub.RestaurantID,
			PlanID:         sub.PlanID,
			FromStatus:     from,
			ToStatus:       constants.SubscriptionStatusFailedToCancel,
			Action:         constants.ActionCancelFailed,
			Actor:          actor,
			CreatedAt:      now,
		})
	})
	if err != nil {
		uc.log.Errorf("Failed to mark subscription %d as FAILED_TO_CANCEL: %v", subscriptionID, err)
	}
}
