package biz

import (
	"context"
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnHoldDetector_MovesLapsedToOnHold(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)
	due := time.Now().UTC().AddDate(0, 0, -1)
	sub.NextPaymentOn = &due
	require.NoError(t, f.subs.Update(context.Background(), sub))

	summary, err := f.uc.OnHoldDetector(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, []uint64{sub.ID}, summary.MutatedIDs)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusOnHold, got.Status)

	// 客户通知恰好一次
	assert.Equal(t, 1, f.notifier.countTemplate(constants.TemplateSubscriptionOnHold))
	assert.Equal(t, 1, f.notifier.countTemplate(constants.TemplateSweepSummary))

	// 重跑不产生第二次通知
	_, err = f.uc.OnHoldDetector(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.countTemplate(constants.TemplateSubscriptionOnHold))
}

func TestOnHoldDetector_SelfHealsFromPartnerPayments(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)
	due := time.Now().UTC().AddDate(0, 0, -1)
	sub.NextPaymentOn = &due
	require.NoError(t, f.subs.Update(context.Background(), sub))

	// 伙伴侧已有下一周期的成功扣款，webhook 丢失
	txAt := time.Now().UTC()
	f.gateway.payments = []*PartnerPayment{
		{PartnerPaymentID: "pay_missed", Status: constants.PartnerPaymentStatusSuccess, Amount: plan.Amount, Cycle: intPtr(1), TransactionAt: txAt},
	}

	summary, err := f.uc.OnHoldDetector(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{sub.ID}, summary.MutatedIDs)

	// 自愈走正常支付路径：周期推进、订阅保持 ACTIVE
	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusActive, got.Status)
	assert.Equal(t, 1, got.CurrentCycle)
	assert.Equal(t, 0, f.notifier.countTemplate(constants.TemplateSubscriptionOnHold))

	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(1))
	require.NotNil(t, row)
	assert.Equal(t, constants.PaymentStatusSuccess, row.Status)
}

func TestOnHoldDetector_SkipsFreePlans(t *testing.T) {
	f := newFixture()
	plan := seedFreePlan(f, "plan-free")
	due := time.Now().UTC().AddDate(0, 0, -1)
	seedSubscription(f, &Subscription{
		PartnerSubscriptionID: "psub_free",
		RestaurantID:          11,
		PlanID:                plan.PlanID,
		Status:                constants.SubscriptionStatusActive,
		NextPaymentOn:         &due,
	})

	summary, err := f.uc.OnHoldDetector(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.MutatedIDs)
}

func TestStaleSubscriptionSweep_FreeCompletesAndResubscribes(t *testing.T) {
	f := newFixture() // AutoResubscribeLimit = 1
	plan := seedFreePlan(f, "plan-free")
	sub := seedSubscription(f, &Subscription{
		RestaurantID:  11,
		PlanID:        plan.PlanID,
		Status:        constants.SubscriptionStatusActive,
		CustomerEmail: "owner@restaurant.example",
	})
	row := &SubscriptionPayment{
		SubscriptionID:   sub.ID,
		Status:           constants.PaymentStatusSuccess,
		NoOfOrdersBought: plan.NoOfOrders,
	}
	require.NoError(t, f.payments.Create(context.Background(), row))
	end := time.Now().UTC().AddDate(0, 0, -10)
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:                11,
		SubscriptionID:              &sub.ID,
		SubscriptionEndTime:         &end,
		SubscriptionRemainingOrders: 8,
	})

	summary, err := f.uc.StaleSubscriptionSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, []uint64{sub.ID}, summary.MutatedIDs)
	require.Len(t, summary.Resubscribed, 1)

	// 旧订阅 COMPLETED，账本行终结
	old, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusCompleted, old.Status)
	finalized, _ := f.payments.GetByID(context.Background(), row.ID)
	require.NotNil(t, finalized.NoOfOrdersConsumed)
	assert.Equal(t, 42, *finalized.NoOfOrdersConsumed)

	// 自动重订：新的免费订阅沿用联系方式快照，并留下 resubscribed 审计记录
	fresh, _ := f.subs.GetByID(context.Background(), summary.Resubscribed[0])
	require.NotNil(t, fresh)
	assert.Equal(t, constants.SubscriptionStatusActive, fresh.Status)
	assert.Equal(t, plan.PlanID, fresh.PlanID)
	assert.Equal(t, "owner@restaurant.example", fresh.CustomerEmail)
	last := f.history.last()
	require.NotNil(t, last)
	assert.Equal(t, constants.ActionResubscribed, last.Action)
	assert.Equal(t, fresh.ID, last.SubscriptionID)
	resubs, _ := f.history.CountResubscriptions(context.Background(), 11, plan.PlanID)
	assert.Equal(t, 1, resubs)
}

func TestStaleSubscriptionSweep_ResubscribeCeiling(t *testing.T) {
	f := newFixture() // AutoResubscribeLimit = 1
	plan := seedFreePlan(f, "plan-free")
	sub := seedSubscription(f, &Subscription{
		RestaurantID: 11,
		PlanID:       plan.PlanID,
		Status:       constants.SubscriptionStatusActive,
	})
	end := time.Now().UTC().AddDate(0, 0, -10)
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:        11,
		SubscriptionID:      &sub.ID,
		SubscriptionEndTime: &end,
	})
	// 该订阅本身已是一次自动重订的产物，额度耗尽
	require.NoError(t, f.history.Add(context.Background(), &SubscriptionHistory{
		SubscriptionID: sub.ID,
		RestaurantID:   11,
		PlanID:         plan.PlanID,
		Action:         constants.ActionResubscribed,
		Actor:          constants.ActorSystem,
	}))

	summary, err := f.uc.StaleSubscriptionSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{sub.ID}, summary.MutatedIDs)
	assert.Empty(t, summary.Resubscribed)
}

func TestStaleSubscriptionSweep_OriginalSubscriptionDoesNotConsumeCeiling(t *testing.T) {
	f := newFixture() // AutoResubscribeLimit = 1
	plan := seedFreePlan(f, "plan-free")
	sub := seedSubscription(f, &Subscription{
		RestaurantID: 11,
		PlanID:       plan.PlanID,
		Status:       constants.SubscriptionStatusActive,
	})
	end := time.Now().UTC().AddDate(0, 0, -10)
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:        11,
		SubscriptionID:      &sub.ID,
		SubscriptionEndTime: &end,
	})

	// 首个订阅过期即触发重订：默认上限 1 计的是自动重订次数，不含原订阅
	summary, err := f.uc.StaleSubscriptionSweep(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Resubscribed, 1)
	assert.NotEqual(t, sub.ID, summary.Resubscribed[0])
}

func TestStaleSubscriptionSweep_PaidCancelsViaPartner(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)
	end := time.Now().UTC().AddDate(0, 0, -10)
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:        11,
		SubscriptionID:      &sub.ID,
		SubscriptionEndTime: &end,
	})

	summary, err := f.uc.StaleSubscriptionSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{sub.ID}, summary.MutatedIDs)
	assert.Empty(t, summary.Resubscribed)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusCancelled, got.Status)
	assert.Equal(t, constants.ActorSystem, got.CancelledBy)
	assert.Equal(t, []string{"psub_1"}, f.gateway.cancelCalls)
}

func TestStaleSubscriptionSweep_PartnerFailureMarksFailedToCancel(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)
	end := time.Now().UTC().AddDate(0, 0, -10)
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:        11,
		SubscriptionID:      &sub.ID,
		SubscriptionEndTime: &end,
	})
	f.gateway.cancelErr = assert.AnError

	summary, err := f.uc.StaleSubscriptionSweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, []uint64{sub.ID}, summary.FailedIDs)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusFailedToCancel, got.Status)
}

func TestStaleSubscriptionSweep_EmitsOneSummary(t *testing.T) {
	f := newFixture()
	summary, err := f.uc.StaleSubscriptionSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scanned)
	assert.Equal(t, 1, f.notifier.countTemplate(constants.TemplateSweepSummary))
}
