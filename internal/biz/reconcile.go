package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
)

// SweepSummary 对账任务审计摘要，列出本轮所有被修改的ID
type SweepSummary struct {
	Job          string
	Scanned      int
	MutatedIDs   []uint64
	FailedIDs    []uint64
	Resubscribed []uint64
}

// resubCandidate 自动重订候选
type resubCandidate struct {
	restaurantID uint64
	planID       string
}

// StaleSubscriptionSweep 过期订阅清扫
// 选出计费到期时间连同宽限窗口都已过去的餐厅：终结未终结的账本行，
// 免费 ACTIVE 订阅迁移 COMPLETED，其余未终结订阅走取消流程，最后触发自动重订。
// 每行独立事务，单行失败不回滚已提交的行
func (uc *BillingUsecase) StaleSubscriptionSweep(ctx context.Context) (*SweepSummary, error) {
	summary := &SweepSummary{Job: "stale_subscription_sweep"}
	deadline := time.Now().UTC().Add(-uc.billing().GraceWindow())

	rows, err := uc.statsRepo.ListLapsedBefore(ctx, deadline)
	if err != nil {
		uc.log.Errorf("StaleSubscriptionSweep: failed to list lapsed restaurants: %v", err)
		return nil, err
	}
	summary.Scanned = len(rows)

	var resubs []resubCandidate
	for _, statsRow := range rows {
		if statsRow.SubscriptionID == nil {
			continue
		}
		subID := *statsRow.SubscriptionID

		unlock, err := uc.lockSubscription(ctx, subID)
		if err != nil {
			uc.log.Infof("StaleSubscriptionSweep: subscription %d locked by another instance, skipping", subID)
			continue
		}

		candidate, err := uc.sweepOne(ctx, subID)
		unlock()
		if err != nil {
			uc.log.Errorf("StaleSubscriptionSweep: failed for subscription %d: %v", subID, err)
			summary.FailedIDs = append(summary.FailedIDs, subID)
			continue
		}
		if candidate != nil {
			summary.MutatedIDs = append(summary.MutatedIDs, subID)
			if candidate.planID != "" {
				resubs = append(resubs, *candidate)
			}
		}
	}

	resubscribed, err := uc.AutoResubscribe(ctx, resubs)
	if err != nil {
		uc.log.Errorf("StaleSubscriptionSweep: auto-resubscribe step failed: %v", err)
	}
	summary.Resubscribed = resubscribed

	uc.emitSweepSummary(ctx, summary)
	if len(summary.FailedIDs) > 0 {
		return summary, fmt.Errorf("stale subscription sweep: %d of %d rows failed", len(summary.FailedIDs), summary.Scanned)
	}
	return summary, nil
}

// sweepOne 清扫单个过期订阅(独立事务)
// 返回非 nil 表示该订阅被终结；planID 非空表示它是自动重订候选
func (uc *BillingUsecase) sweepOne(ctx context.Context, subscriptionID uint64) (*resubCandidate, error) {
	var candidate *resubCandidate
	var partnerFailedSubID uint64
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		sub, err := uc.subRepo.GetByIDForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || sub.IsTerminal() {
			return nil
		}
		stats, err := uc.statsRepo.GetForUpdate(ctx, sub.RestaurantID)
		if err != nil {
			return err
		}
		if stats == nil {
			return nil
		}
		plan, err := uc.planRepo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return nil
		}

		if err := uc.finalizeCurrentRow(ctx, sub.ID, stats.SubscriptionRemainingOrders); err != nil {
			return err
		}

		now := time.Now().UTC()
		from := sub.Status
		if plan.IsFree() && sub.Status == constants.SubscriptionStatusActive {
			sub.Status = constants.SubscriptionStatusCompleted
		} else {
			if !plan.IsFree() && sub.PartnerSubscriptionID != "" {
				if err := uc.gateway.CancelSubscription(ctx, sub.PartnerSubscriptionID); err != nil {
					partnerFailedSubID = sub.ID
					return err
				}
			}
			sub.Status = constants.SubscriptionStatusCancelled
			sub.CancelledBy = constants.ActorSystem
			sub.CancelReason = "subscription lapsed beyond grace window"
		}
		sub.EndTime = now
		sub.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, sub); err != nil {
			return err
		}
		action := constants.ActionCancelled
		if sub.Status == constants.SubscriptionStatusCompleted {
			action = constants.ActionCompleted
		}
		if err := uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			RestaurantID:   sub.RestaurantID,
			PlanID:         sub.PlanID,
			FromStatus:     from,
			ToStatus:       sub.Status,
			Action:         action,
			Actor:          constants.ActorSystem,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		candidate = &resubCandidate{restaurantID: sub.RestaurantID}
		if plan.IsFree() {
			candidate.planID = sub.PlanID
		}
		return nil
	})
	if err != nil {
		if partnerFailedSubID != 0 {
			uc.markFailedToCancel(ctx, partnerFailedSubID, constants.ActorSystem)
		}
		return nil, err
	}
	return candidate, nil
}

// OnHoldDetector 挂起检测
// 对次期扣款时间已落入宽限窗口的 ACTIVE 付费订阅，以伙伴侧为准：
// 找到匹配的成功支付则走正常支付路径自愈(补偿丢失的 webhook)；
// 否则迁移 ON_HOLD 并恰好通知客户一次
func (uc *BillingUsecase) OnHoldDetector(ctx context.Context) (*SweepSummary, error) {
	summary := &SweepSummary{Job: "on_hold_detector"}
	now := time.Now().UTC()
	from := now.Add(-uc.billing().GraceWindow())

	subs, err := uc.subRepo.ListPaymentDueBetween(ctx, from, now)
	if err != nil {
		uc.log.Errorf("OnHoldDetector: failed to list due subscriptions: %v", err)
		return nil, err
	}
	summary.Scanned = len(subs)

	for _, sub := range subs {
		unlock, err := uc.lockSubscription(ctx, sub.ID)
		if err != nil {
			uc.log.Infof("OnHoldDetector: subscription %d locked by another instance, skipping", sub.ID)
			continue
		}
		mutated, err := uc.detectOne(ctx, sub)
		unlock()
		if err != nil {
			uc.log.Errorf("OnHoldDetector: failed for subscription %d: %v", sub.ID, err)
			summary.FailedIDs = append(summary.FailedIDs, sub.ID)
			continue
		}
		if mutated {
			summary.MutatedIDs = append(summary.MutatedIDs, sub.ID)
		}
	}

	uc.emitSweepSummary(ctx, summary)
	if len(summary.FailedIDs) > 0 {
		return summary, fmt.Errorf("on-hold detector: %d of %d rows failed", len(summary.FailedIDs), summary.Scanned)
	}
	return summary, nil
}

// detectOne 检测单个到期订阅
func (uc *BillingUsecase) detectOne(ctx context.Context, sub *Subscription) (bool, error) {
	plan, err := uc.planRepo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}
	if plan == nil || plan.IsFree() {
		return false, nil
	}

	expected, err := uc.expectedPaymentCycle(ctx, sub)
	if err != nil {
		return false, err
	}

	// 伙伴侧为事实标准：查询最近的支付记录找正确周期、正确金额的成功扣款
	payments, err := uc.gateway.GetSubscriptionPayments(ctx, sub.PartnerSubscriptionID, "", uc.billing().PartnerPaymentLookback)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.Status == constants.PartnerPaymentStatusSuccess &&
			p.Amount == plan.Amount &&
			p.Cycle != nil && *p.Cycle == expected {
			uc.log.Infof("OnHoldDetector: found missed payment %s for subscription %d, self-healing", p.PartnerPaymentID, sub.ID)
			snapshot := &PartnerSubscription{PartnerSubscriptionID: sub.PartnerSubscriptionID}
			return true, uc.HandlePaymentSucceeded(ctx, snapshot, p)
		}
	}

	// 没有等到扣款：挂起，通知只在状态真正翻转的提交后发出一次
	var notices []notice
	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		locked, err := uc.subRepo.GetByIDForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != constants.SubscriptionStatusActive {
			return nil
		}
		now := time.Now().UTC()
		locked.Status = constants.SubscriptionStatusOnHold
		locked.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, locked); err != nil {
			return err
		}
		if err := uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: locked.ID,
			RestaurantID:   locked.RestaurantID,
			PlanID:         locked.PlanID,
			FromStatus:     constants.SubscriptionStatusActive,
			ToStatus:       constants.SubscriptionStatusOnHold,
			Action:         constants.ActionOnHold,
			Actor:          constants.ActorSystem,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		notices = append(notices, notice{
			template:  constants.TemplateSubscriptionOnHold,
			recipient: locked.CustomerEmail,
			data:      map[string]any{"subscription_id": locked.ID, "plan_id": locked.PlanID},
		})
		return nil
	})
	if err != nil {
		return false, err
	}

	uc.dispatch(ctx, notices)
	return len(notices) > 0, nil
}

// AutoResubscribe 自动重订
// 免费订阅过期后，同套餐自动重订次数未达上限的餐厅自动获得一份新的免费订阅。
// 上限按历史里的 resubscribed 记录计数，首个(人工创建的)订阅本身不占额度
func (uc *BillingUsecase) AutoResubscribe(ctx context.Context, candidates []resubCandidate) ([]uint64, error) {
	var resubscribed []uint64
	limit := uc.billing().AutoResubscribeLimit

	for _, c := range candidates {
		count, err := uc.historyRepo.CountResubscriptions(ctx, c.restaurantID, c.planID)
		if err != nil {
			uc.log.Errorf("AutoResubscribe: failed to count resubscriptions for restaurant %d: %v", c.restaurantID, err)
			continue
		}
		if count >= limit {
			uc.log.Infof("AutoResubscribe: restaurant %d reached resubscription ceiling (%d) for plan %s", c.restaurantID, limit, c.planID)
			continue
		}

		contact := uc.contactSnapshot(ctx, c.restaurantID)
		sub, err := uc.CreateFreeSubscription(ctx, c.restaurantID, c.planID, contact)
		if err != nil {
			uc.log.Errorf("AutoResubscribe: failed to resubscribe restaurant %d: %v", c.restaurantID, err)
			continue
		}
		if err := uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			RestaurantID:   sub.RestaurantID,
			PlanID:         sub.PlanID,
			FromStatus:     constants.SubscriptionStatusPending,
			ToStatus:       constants.SubscriptionStatusActive,
			Action:         constants.ActionResubscribed,
			Actor:          constants.ActorSystem,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			uc.log.Errorf("AutoResubscribe: failed to record resubscription for subscription %d: %v", sub.ID, err)
		}
		uc.log.Infof("AutoResubscribe: restaurant %d resubscribed to plan %s as subscription %d", c.restaurantID, c.planID, sub.ID)
		resubscribed = append(resubscribed, sub.ID)
	}
	return resubscribed, nil
}

// contactSnapshot 沿用该餐厅最近一次订阅的联系方式快照
func (uc *BillingUsecase) contactSnapshot(ctx context.Context, restaurantID uint64) CustomerContact {
	stats, err := uc.statsRepo.Get(ctx, restaurantID)
	if err != nil || stats == nil || stats.SubscriptionID == nil {
		return CustomerContact{}
	}
	sub, err := uc.subRepo.GetByID(ctx, *stats.SubscriptionID)
	if err != nil || sub == nil {
		return CustomerContact{}
	}
	return CustomerContact{Name: sub.CustomerName, Email: sub.CustomerEmail, Phone: sub.CustomerPhone}
}

// emitSweepSummary 每轮清扫恰好发出一条运营审计摘要
func (uc *BillingUsecase) emitSweepSummary(ctx context.Context, s *SweepSummary) {
	uc.log.Infof("Sweep %s finished: scanned=%d, mutated=%v, failed=%v, resubscribed=%v",
		s.Job, s.Scanned, s.MutatedIDs, s.FailedIDs, s.Resubscribed)
	uc.dispatch(ctx, []notice{{
		template:  constants.TemplateSweepSummary,
		recipient: uc.billing().OperatorRecipient,
		data: map[string]any{
			"job":          s.Job,
			"scanned":      s.Scanned,
			"mutated":      s.MutatedIDs,
			"failed":       s.FailedIDs,
			"resubscribed": s.Resubscribed,
		},
	}})
}
