package biz

import (
	"context"
	"io"
	"sync"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// 内存仓库假件，复制语义模拟数据库行为：
// 读出和写入都经过克隆，未 Update 的修改不会泄漏回存储

type fakeTx struct{}

func (fakeTx) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakePlanRepo struct {
	mu    sync.Mutex
	plans map[string]*Plan
}

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{plans: map[string]*Plan{}}
}

func (r *fakePlanRepo) GetPlan(_ context.Context, planID string) (*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *fakePlanRepo) ListPlans(_ context.Context, category string) ([]*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Plan
	for _, p := range r.plans {
		if category == "" || p.Category == category {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakePlanRepo) CreatePlan(_ context.Context, plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *plan
	r.plans[plan.PlanID] = &c
	return nil
}

func (r *fakePlanRepo) UpdatePlan(_ context.Context, plan *Plan) error {
	return r.CreatePlan(context.Background(), plan)
}

type fakeSubscriptionRepo struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: map[uint64]*Subscription{}}
}

func (r *fakeSubscriptionRepo) GetByID(_ context.Context, id uint64) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *fakeSubscriptionRepo) GetByIDForUpdate(ctx context.Context, id uint64) (*Subscription, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeSubscriptionRepo) GetByPartnerIDForUpdate(_ context.Context, partnerID string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.PartnerSubscriptionID == partnerID {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeSubscriptionRepo) GetLiveByRestaurant(_ context.Context, restaurantID uint64) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.RestaurantID == restaurantID && !s.IsTerminal() {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeSubscriptionRepo) GetLiveByRestaurantForUpdate(ctx context.Context, restaurantID uint64) (*Subscription, error) {
	return r.GetLiveByRestaurant(ctx, restaurantID)
}

func (r *fakeSubscriptionRepo) Create(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	c := *sub
	r.subs[sub.ID] = &c
	return nil
}

func (r *fakeSubscriptionRepo) Update(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *sub
	r.subs[sub.ID] = &c
	return nil
}

func (r *fakeSubscriptionRepo) ListPaymentDueBetween(_ context.Context, from, to time.Time) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, s := range r.subs {
		if s.Status != constants.SubscriptionStatusActive || s.PartnerSubscriptionID == "" || s.NextPaymentOn == nil {
			continue
		}
		if s.NextPaymentOn.Before(from) || s.NextPaymentOn.After(to) {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

type fakePaymentRepo struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*SubscriptionPayment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{rows: map[uint64]*SubscriptionPayment{}}
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id uint64) (*SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func cycleMatches(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *fakePaymentRepo) GetBySubscriptionAndCycle(_ context.Context, subscriptionID uint64, cycle *int) (*SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SubscriptionID == subscriptionID && cycleMatches(row.Cycle, cycle) {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakePaymentRepo) GetByPartnerPaymentID(_ context.Context, partnerPaymentID string) (*SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if partnerPaymentID == "" {
		return nil, nil
	}
	for _, row := range r.rows {
		if row.PartnerPaymentID == partnerPaymentID {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakePaymentRepo) Create(_ context.Context, row *SubscriptionPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	row.ID = r.nextID
	c := *row
	r.rows[row.ID] = &c
	return nil
}

func (r *fakePaymentRepo) Update(_ context.Context, row *SubscriptionPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *row
	r.rows[row.ID] = &c
	return nil
}

func (r *fakePaymentRepo) UpsertCycleRow(ctx context.Context, subscriptionID uint64, cycle int, row *SubscriptionPayment) error {
	existing, _ := r.GetBySubscriptionAndCycle(ctx, subscriptionID, &cycle)
	if existing == nil {
		return r.Create(ctx, row)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.rows[existing.ID]
	stored.PartnerPaymentID = row.PartnerPaymentID
	stored.Status = row.Status
	stored.NoOfOrdersBought = row.NoOfOrdersBought
	stored.NoOfGracePeriodOrdersAllotted = row.NoOfGracePeriodOrdersAllotted
	stored.TransactionAt = row.TransactionAt
	row.ID = existing.ID
	return nil
}

func (r *fakePaymentRepo) FinalizeConsumed(_ context.Context, id uint64, consumed int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.NoOfOrdersConsumed != nil {
		return false, nil
	}
	row.NoOfOrdersConsumed = &consumed
	return true, nil
}

type fakeStatsRepo struct {
	mu   sync.Mutex
	rows map[uint64]*BillingStats
}

func newFakeStatsRepo() *fakeStatsRepo {
	return &fakeStatsRepo{rows: map[uint64]*BillingStats{}}
}

func (r *fakeStatsRepo) Get(_ context.Context, restaurantID uint64) (*BillingStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[restaurantID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *fakeStatsRepo) GetForUpdate(ctx context.Context, restaurantID uint64) (*BillingStats, error) {
	return r.Get(ctx, restaurantID)
}

func (r *fakeStatsRepo) Save(_ context.Context, stats *BillingStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *stats
	r.rows[stats.RestaurantID] = &c
	return nil
}

func (r *fakeStatsRepo) ListLapsedBefore(_ context.Context, deadline time.Time) ([]*BillingStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*BillingStats
	for _, s := range r.rows {
		if s.SubscriptionID != nil && s.SubscriptionEndTime != nil && s.SubscriptionEndTime.Before(deadline) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*SubscriptionHistory
}

func (r *fakeHistoryRepo) Add(_ context.Context, h *SubscriptionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *h
	r.entries = append(r.entries, &c)
	return nil
}

func (r *fakeHistoryRepo) CountResubscriptions(_ context.Context, restaurantID uint64, planID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, h := range r.entries {
		if h.RestaurantID == restaurantID && h.PlanID == planID && h.Action == constants.ActionResubscribed {
			count++
		}
	}
	return count, nil
}

func (r *fakeHistoryRepo) last() *SubscriptionHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type fakeGateway struct {
	mu sync.Mutex

	createSubResult *PartnerSubscription
	cancelErr       error
	payments        []*PartnerPayment
	paymentsErr     error

	cancelCalls   []string
	retryCalls    []string
	activateCalls []string
}

func (g *fakeGateway) CreatePlan(_ context.Context, plan *Plan) (string, error) {
	return "partner_plan_" + plan.PlanID, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, _ *Plan, _ *Subscription) (*PartnerSubscription, error) {
	if g.createSubResult != nil {
		return g.createSubResult, nil
	}
	return &PartnerSubscription{PartnerSubscriptionID: "psub_default", AuthLink: "https://pay.example.com/auth"}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, partnerSubscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, partnerSubscriptionID)
	return g.cancelErr
}

func (g *fakeGateway) GetSubscription(_ context.Context, partnerSubscriptionID string) (*PartnerSubscription, error) {
	return &PartnerSubscription{PartnerSubscriptionID: partnerSubscriptionID}, nil
}

func (g *fakeGateway) GetSubscriptionPayments(_ context.Context, _, _ string, _ int) ([]*PartnerPayment, error) {
	return g.payments, g.paymentsErr
}

func (g *fakeGateway) RetrySubscriptionPayment(_ context.Context, partnerSubscriptionID string, _ *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retryCalls = append(g.retryCalls, partnerSubscriptionID)
	return nil
}

func (g *fakeGateway) ManualActivateSubscription(_ context.Context, partnerSubscriptionID string, _ *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activateCalls = append(g.activateCalls, partnerSubscriptionID)
	return nil
}

type sentNotice struct {
	template  string
	recipient string
	data      map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *fakeNotifier) Notify(_ context.Context, template, recipient string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{template: template, recipient: recipient, data: data})
	return nil
}

func (n *fakeNotifier) countTemplate(template string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.template == template {
			count++
		}
	}
	return count
}

// fixture 组装一套假件和业务用例
type fixture struct {
	plans    *fakePlanRepo
	subs     *fakeSubscriptionRepo
	payments *fakePaymentRepo
	stats    *fakeStatsRepo
	history  *fakeHistoryRepo
	gateway  *fakeGateway
	notifier *fakeNotifier
	cfg      *conf.Bootstrap
	uc       *BillingUsecase
}

func newFixture() *fixture {
	f := &fixture{
		plans:    newFakePlanRepo(),
		subs:     newFakeSubscriptionRepo(),
		payments: newFakePaymentRepo(),
		stats:    newFakeStatsRepo(),
		history:  &fakeHistoryRepo{},
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		cfg: &conf.Bootstrap{
			Billing: &conf.Billing{
				GracePeriodDays:        3,
				AutoResubscribeLimit:   1,
				PartnerPaymentLookback: 10,
				OperatorRecipient:      "ops@example.com",
			},
		},
	}
	f.uc = NewBillingUsecase(
		f.plans, f.subs, f.payments, f.stats, f.history,
		f.gateway, f.notifier, fakeTx{}, nil, f.cfg,
		log.NewStdLogger(io.Discard),
	)
	return f
}

func intPtr(v int) *int { return &v }
