package biz

import (
	"context"
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedActivePaidSub 铺设一条 cycle 0 已种子的 ACTIVE 付费订阅
func seedActivePaidSub(f *fixture, plan *Plan, restaurantID uint64, seedStatus string) *Subscription {
	sub := seedSubscription(f, &Subscription{
		PartnerSubscriptionID: "psub_1",
		RestaurantID:          restaurantID,
		PlanID:                plan.PlanID,
		Status:                constants.SubscriptionStatusActive,
		CustomerEmail:         "owner@restaurant.example",
		CurrentCycle:          0,
	})
	_ = f.payments.Create(context.Background(), &SubscriptionPayment{
		SubscriptionID:                sub.ID,
		Status:                        seedStatus,
		Cycle:                         intPtr(0),
		NoOfOrdersBought:              plan.NoOfOrders,
		NoOfGracePeriodOrdersAllotted: plan.NoOfGracePeriodOrders,
	})
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:                           restaurantID,
		SubscriptionID:                         &sub.ID,
		SubscriptionRemainingOrders:            plan.NoOfOrders,
		SubscriptionGracePeriodRemainingOrders: plan.NoOfGracePeriodOrders,
	})
	return sub
}

func TestHandlePaymentSucceeded_AuthProof(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusPending)

	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_auth", Amount: plan.AuthAmount, TransactionAt: time.Now().UTC()})
	require.NoError(t, err)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.AuthStatusAuthorized, got.AuthStatus)

	// 授权证明不触碰账本
	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, constants.PaymentStatusPending, row.Status)
}

func TestHandlePaymentSucceeded_CycleZeroFlipsSeedRow(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusPending)

	txAt := time.Now().UTC()
	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_0", Amount: plan.Amount, Cycle: intPtr(0), TransactionAt: txAt})
	require.NoError(t, err)

	// 种子行原地翻转而非新插行，周期号不推进
	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, constants.PaymentStatusSuccess, row.Status)
	assert.Equal(t, "pay_0", row.PartnerPaymentID)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, 0, got.CurrentCycle)
	assert.Equal(t, plan.AddInterval(txAt), got.EndTime)
	require.NotNil(t, got.NextPaymentOn)

	stats, _ := f.stats.Get(context.Background(), 11)
	require.NotNil(t, stats.SubscriptionEndTime)
	assert.Equal(t, plan.AddInterval(txAt), *stats.SubscriptionEndTime)
}

func TestHandlePaymentSucceeded_AdvanceFinalizesAndReseeds(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)

	// 周期 0 已消耗到剩 7 单
	_ = f.stats.Save(context.Background(), &BillingStats{
		RestaurantID:                11,
		SubscriptionID:              &sub.ID,
		SubscriptionRemainingOrders: 7,
	})

	txAt := time.Now().UTC()
	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_1", Amount: plan.Amount, Cycle: intPtr(1), TransactionAt: txAt})
	require.NoError(t, err)

	// 旧行终结：consumed = 200 - 7
	prev, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	require.NotNil(t, prev.NoOfOrdersConsumed)
	assert.Equal(t, 193, *prev.NoOfOrdersConsumed)

	// 新行入账，周期推进，额度重置
	cur, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(1))
	require.NotNil(t, cur)
	assert.Equal(t, constants.PaymentStatusSuccess, cur.Status)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, 1, got.CurrentCycle)

	stats, _ := f.stats.Get(context.Background(), 11)
	assert.Equal(t, plan.NoOfOrders, stats.SubscriptionRemainingOrders)
	assert.Equal(t, plan.NoOfGracePeriodOrders, stats.SubscriptionGracePeriodRemainingOrders)
}

func TestHandlePaymentSucceeded_DuplicateIsNoOp(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)
	before, _ := f.subs.GetByID(context.Background(), sub.ID)

	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_dup", Amount: plan.Amount, Cycle: intPtr(0), TransactionAt: time.Now().UTC()})
	require.NoError(t, err)

	after, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, before.CurrentCycle, after.CurrentCycle)
	assert.Equal(t, before.EndTime, after.EndTime)
}

func TestHandlePaymentSucceeded_CycleMismatch(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)

	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_5", Amount: plan.Amount, Cycle: intPtr(5), TransactionAt: time.Now().UTC()})
	assert.ErrorIs(t, err, errors.ErrUnexpectedPaymentCycle)
}

func TestHandlePaymentSucceeded_AmountMismatchIgnored(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusPending)

	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_x", Amount: 123.45, Cycle: intPtr(0), TransactionAt: time.Now().UTC()})
	require.NoError(t, err)

	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, constants.PaymentStatusPending, row.Status)
}

func TestHandlePaymentSucceeded_LiftsOnHold(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)
	sub.Status = constants.SubscriptionStatusOnHold
	_ = f.subs.Update(context.Background(), sub)

	err := f.uc.HandlePaymentSucceeded(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_1", Amount: plan.Amount, Cycle: intPtr(1), TransactionAt: time.Now().UTC()})
	require.NoError(t, err)

	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusActive, got.Status)

	h := f.history.last()
	require.NotNil(t, h)
	assert.Equal(t, constants.ActionReactivated, h.Action)
}

func TestHandlePaymentDeclined_FlipsCycleRowInPlace(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusPending)

	err := f.uc.HandlePaymentDeclined(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_f", Cycle: intPtr(0), FailureReason: "insufficient funds"})
	require.NoError(t, err)

	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, constants.PaymentStatusFailed, row.Status)
	assert.Equal(t, "insufficient funds", row.FailureReason)
	assert.Equal(t, 1, row.RetryCount)

	// 扣款失败绝不直接改订阅状态
	got, _ := f.subs.GetByID(context.Background(), sub.ID)
	assert.Equal(t, constants.SubscriptionStatusActive, got.Status)
}

func TestHandlePaymentDeclined_RepeatBumpsRetryCount(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusPending)

	decline := func(reason string) error {
		return f.uc.HandlePaymentDeclined(context.Background(),
			&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
			&PartnerPayment{PartnerPaymentID: "pay_f", Cycle: intPtr(0), FailureReason: reason})
	}
	require.NoError(t, decline("insufficient funds"))
	// 同支付同原因的重复投递是空操作
	require.NoError(t, decline("insufficient funds"))
	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, 1, row.RetryCount)

	// 新的失败原因计一次重试
	require.NoError(t, decline("card expired"))
	row, _ = f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, 2, row.RetryCount)
	assert.Equal(t, "card expired", row.FailureReason)
}

func TestHandlePaymentDeclined_SuccessRowKeepsCycle(t *testing.T) {
	f := newFixture()
	plan := seedPeriodicPlan(f, "plan-1")
	sub := seedActivePaidSub(f, plan, 11, constants.PaymentStatusSuccess)

	err := f.uc.HandlePaymentDeclined(context.Background(),
		&PartnerSubscription{PartnerSubscriptionID: "psub_1"},
		&PartnerPayment{PartnerPaymentID: "pay_late_f", Cycle: intPtr(0), FailureReason: "stale decline"})
	require.NoError(t, err)

	// 已成功入账的周期不被覆盖，失败作为无周期归属的流水补记
	row, _ := f.payments.GetBySubscriptionAndCycle(context.Background(), sub.ID, intPtr(0))
	assert.Equal(t, constants.PaymentStatusSuccess, row.Status)

	orphan, _ := f.payments.GetByPartnerPaymentID(context.Background(), "pay_late_f")
	require.NotNil(t, orphan)
	assert.Nil(t, orphan.Cycle)
	assert.Equal(t, constants.PaymentStatusFailed, orphan.Status)
}
