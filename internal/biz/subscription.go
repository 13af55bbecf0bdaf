package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// Subscription 餐厅订阅
type Subscription struct {
	ID                    uint64
	PartnerSubscriptionID string
	RestaurantID          uint64
	PlanID                string
	Status                string
	AuthStatus            string
	AuthLink              string
	CancelledBy           string
	CancelReason          string
	CustomerName          string
	CustomerEmail         string
	CustomerPhone         string
	StartTime             time.Time
	EndTime               time.Time
	CurrentCycle          int
	NextPaymentOn         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsTerminal 是否终结状态(FAILED_TO_CANCEL 可重试，不算终结)
func (s *Subscription) IsTerminal() bool {
	return s.Status == constants.SubscriptionStatusCancelled ||
		s.Status == constants.SubscriptionStatusCompleted
}

// CustomerContact 客户联系方式快照
type CustomerContact struct {
	Name  string
	Email string
	Phone string
}

// SubscriptionHistory 订阅状态迁移审计记录
type SubscriptionHistory struct {
	SubscriptionID uint64
	RestaurantID   uint64
	PlanID         string
	FromStatus     string
	ToStatus       string
	Action         string
	Actor          string
	CreatedAt      time.Time
}

// SubscriptionRepo 订阅仓库接口
// ForUpdate 变体在当前事务内对行加 FOR UPDATE 锁
type SubscriptionRepo interface {
	GetByID(ctx context.Context, id uint64) (*Subscription, error)
	GetByIDForUpdate(ctx context.Context, id uint64) (*Subscription, error)
	GetByPartnerIDForUpdate(ctx context.Context, partnerSubscriptionID string) (*Subscription, error)
	GetLiveByRestaurant(ctx context.Context, restaurantID uint64) (*Subscription, error)
	GetLiveByRestaurantForUpdate(ctx context.Context, restaurantID uint64) (*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	// ListPaymentDueBetween 次期扣款时间落在 [from, to] 内的 ACTIVE 付费订阅
	ListPaymentDueBetween(ctx context.Context, from, to time.Time) ([]*Subscription, error)
}

// SubscriptionHistoryRepo 订阅历史仓库接口
type SubscriptionHistoryRepo interface {
	Add(ctx context.Context, history *SubscriptionHistory) error
	// CountResubscriptions 统计餐厅在某套餐上已发生的自动重订次数
	CountResubscriptions(ctx context.Context, restaurantID uint64, planID string) (int, error)
}

// notice 事务提交后投递的通知
type notice struct {
	template  string
	recipient string
	data      map[string]any
}

// BillingUsecase 计费核心业务逻辑
// 订阅生命周期状态机 + 周期账本 + 订单扣减 + 对账自愈
type BillingUsecase struct {
	planRepo    PlanRepo
	subRepo     SubscriptionRepo
	paymentRepo SubscriptionPaymentRepo
	statsRepo   BillingStatsRepo
	historyRepo SubscriptionHistoryRepo
	gateway     ExternalBillingGateway
	notifier    Notifier
	tm          Transaction
	rs          *redsync.Redsync
	config      *conf.Bootstrap
	log         *log.Helper
}

// NewBillingUsecase 创建计费业务用例
func NewBillingUsecase(
	planRepo PlanRepo,
	subRepo SubscriptionRepo,
	paymentRepo SubscriptionPaymentRepo,
	statsRepo BillingStatsRepo,
	historyRepo SubscriptionHistoryRepo,
	gateway ExternalBillingGateway,
	notifier Notifier,
	tm Transaction,
	rs *redsync.Redsync,
	config *conf.Bootstrap,
	logger log.Logger,
) *BillingUsecase {
	return &BillingUsecase{
		planRepo:    planRepo,
		subRepo:     subRepo,
		paymentRepo: paymentRepo,
		statsRepo:   statsRepo,
		historyRepo: historyRepo,
		gateway:     gateway,
		notifier:    notifier,
		tm:          tm,
		rs:          rs,
		config:      config,
		log:         log.NewHelper(logger),
	}
}

func (uc *BillingUsecase) billing() *conf.Billing {
	if uc.config != nil && uc.config.Billing != nil {
		return uc.config.Billing
	}
	return &conf.Billing{GracePeriodDays: 3, AutoResubscribeLimit: 1, PartnerPaymentLookback: 10}
}

// dispatch 投递事务提交后的通知，失败只记录日志
func (uc *BillingUsecase) dispatch(ctx context.Context, notices []notice) {
	for _, n := range notices {
		if err := uc.notifier.Notify(ctx, n.template, n.recipient, n.data); err != nil {
			uc.log.Warnf("Failed to dispatch notification %s to %s: %v", n.template, n.recipient, err)
		}
	}
}

// lockSubscription 对账任务用的跨实例订阅锁，返回解锁函数
// 获取失败说明其他实例正在处理该订阅
func (uc *BillingUsecase) lockSubscription(ctx context.Context, subscriptionID uint64) (func(), error) {
	if uc.rs == nil {
		return func() {}, nil
	}
	mutex := uc.rs.NewMutex(
		fmt.Sprintf("billing_sweep_lock:subscription:%d", subscriptionID),
		redsync.WithExpiry(constants.SweepLockExpiration),
		redsync.WithTries(constants.SweepLockRetries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock subscription %d: %v", subscriptionID, err)
		}
	}, nil
}

// CreateSubscription 订阅入口，按套餐类型分流
func (uc *BillingUsecase) CreateSubscription(ctx context.Context, restaurantID uint64, planID string, contact CustomerContact) (*Subscription, error) {
	plan, err := uc.planRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.ErrPlanNotFound
	}
	if !plan.Active {
		return nil, errors.ErrPlanInactive
	}
	if plan.IsFree() {
		return uc.CreateFreeSubscription(ctx, restaurantID, planID, contact)
	}
	return uc.CreatePaidSubscription(ctx, restaurantID, planID, contact)
}

// CreateFreeSubscription 创建免费订阅
// 免费套餐跳过伙伴流程直接 ACTIVE：落一条 cycle 为 NULL 的 SUCCESS 账本行，
// 终结被取代订阅的账本行后重置餐厅计费投影
func (uc *BillingUsecase) CreateFreeSubscription(ctx context.Context, restaurantID uint64, planID string, contact CustomerContact) (*Subscription, error) {
	uc.log.Infof("CreateFreeSubscription: restaurantID=%d, planID=%s", restaurantID, planID)

	var sub *Subscription
	var notices []notice
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		plan, err := uc.planRepo.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errors.ErrPlanNotFound
		}
		if !plan.Active {
			return errors.ErrPlanInactive
		}
		if !plan.IsFree() {
			return errors.ErrPlanTypeMismatch
		}

		live, err := uc.subRepo.GetLiveByRestaurantForUpdate(ctx, restaurantID)
		if err != nil {
			return err
		}
		if live != nil {
			return errors.ErrAlreadySubscribed
		}

		now := time.Now().UTC()
		sub = &Subscription{
			RestaurantID:  restaurantID,
			PlanID:        planID,
			Status:        constants.SubscriptionStatusActive,
			AuthStatus:    constants.AuthStatusAuthorized,
			CustomerName:  contact.Name,
			CustomerEmail: contact.Email,
			CustomerPhone: contact.Phone,
			StartTime:     now,
			EndTime:       plan.AddInterval(now),
			CurrentCycle:  0,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := uc.subRepo.Create(ctx, sub); err != nil {
			uc.log.Errorf("Failed to create free subscription: %v", err)
			return err
		}

		// 免费套餐单行账本，cycle 为 NULL
		row := &SubscriptionPayment{
			SubscriptionID:                sub.ID,
			Status:                        constants.PaymentStatusSuccess,
			NoOfOrdersBought:              plan.NoOfOrders,
			NoOfGracePeriodOrdersAllotted: plan.NoOfGracePeriodOrders,
			TransactionAt:                 &now,
		}
		if err := uc.paymentRepo.Create(ctx, row); err != nil {
			return err
		}

		if err := uc.reseedBillingStats(ctx, sub, plan, sub.EndTime); err != nil {
			return err
		}

		if err := uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			RestaurantID:   restaurantID,
			PlanID:         planID,
			FromStatus:     constants.SubscriptionStatusPending,
			ToStatus:       constants.SubscriptionStatusActive,
			Action:         constants.ActionActivated,
			Actor:          constants.ActorSystem,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		notices = append(notices, notice{
			template:  constants.TemplateSubscriptionActivated,
			recipient: sub.CustomerEmail,
			data:      map[string]any{"subscription_id": sub.ID, "plan_id": planID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.dispatch(ctx, notices)
	return sub, nil
}

// CreatePaidSubscription 创建付费订阅
// 先落 PENDING 行再调伙伴(伙伴调用在事务边界外)，伙伴初始化成功后迁移到 INITIALIZED
func (uc *BillingUsecase) CreatePaidSubscription(ctx context.Context, restaurantID uint64, planID string, contact CustomerContact) (*Subscription, error) {
	uc.log.Infof("CreatePaidSubscription: restaurantID=%d, planID=%s", restaurantID, planID)

	var sub *Subscription
	var plan *Plan
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		var err error
		plan, err = uc.planRepo.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errors.ErrPlanNotFound
		}
		if !plan.Active {
			return errors.ErrPlanInactive
		}
		if plan.IsFree() {
			return errors.ErrPlanTypeMismatch
		}

		live, err := uc.subRepo.GetLiveByRestaurantForUpdate(ctx, restaurantID)
		if err != nil {
			return err
		}
		if live != nil {
			return errors.ErrAlreadySubscribed
		}

		now := time.Now().UTC()
		sub = &Subscription{
			RestaurantID:  restaurantID,
			PlanID:        planID,
			Status:        constants.SubscriptionStatusPending,
			AuthStatus:    constants.AuthStatusPending,
			CustomerName:  contact.Name,
			CustomerEmail: contact.Email,
			CustomerPhone: contact.Phone,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return uc.subRepo.Create(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	// 伙伴调用在本地事务之外，失败时订阅停留在 PENDING，可人工重试
	ps, err := uc.gateway.CreateSubscription(ctx, plan, sub)
	if err != nil {
		uc.log.Errorf("Failed to create partner subscription for restaurant %d: %v", restaurantID, err)
		return nil, errors.ErrPartnerUnavailable
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		locked, err := uc.subRepo.GetByIDForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return errors.ErrSubscriptionNotFound
		}
		now := time.Now().UTC()
		locked.PartnerSubscriptionID = ps.PartnerSubscriptionID
		locked.AuthLink = ps.AuthLink
		locked.Status = constants.SubscriptionStatusInitialized
		if ps.NextPaymentOn != nil {
			locked.NextPaymentOn = ps.NextPaymentOn
		}
		locked.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, locked); err != nil {
			return err
		}
		sub = locked
		return uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: locked.ID,
			RestaurantID:   locked.RestaurantID,
			PlanID:         locked.PlanID,
			FromStatus:     constants.SubscriptionStatusPending,
			ToStatus:       constants.SubscriptionStatusInitialized,
			Action:         constants.ActionInitialized,
			Actor:          constants.ActorPartner,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RetryPayment 人工触发一次伙伴侧扣款重试
// 核心不做自动重试；重试结果仍通过正常的支付事件路径回流
func (uc *BillingUsecase) RetryPayment(ctx context.Context, subscriptionID uint64, nextPaymentOn *time.Time) error {
	sub, err := uc.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return errors.ErrSubscriptionNotFound
	}
	if sub.PartnerSubscriptionID == "" {
		return errors.ErrInvalidStatusForAction
	}
	if err := uc.gateway.RetrySubscriptionPayment(ctx, sub.PartnerSubscriptionID, nextPaymentOn); err != nil {
		uc.log.Errorf("Failed to retry payment for subscription %d: %v", subscriptionID, err)
		return errors.ErrPartnerUnavailable
	}
	uc.log.Infof("Payment retry triggered for subscription %d", subscriptionID)
	return nil
}

// ManualReactivate 人工恢复 ON_HOLD 订阅
func (uc *BillingUsecase) ManualReactivate(ctx context.Context, subscriptionID uint64, nextPaymentOn *time.Time) error {
	sub, err := uc.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return errors.ErrSubscriptionNotFound
	}
	if sub.Status != constants.SubscriptionStatusOnHold {
		return errors.ErrInvalidStatusForAction
	}
	if err := uc.gateway.ManualActivateSubscription(ctx, sub.PartnerSubscriptionID, nextPaymentOn); err != nil {
		uc.log.Errorf("Failed to manually activate subscription %d: %v", subscriptionID, err)
		return errors.ErrPartnerUnavailable
	}

	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		locked, err := uc.subRepo.GetByIDForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if locked == nil {
			return errors.ErrSubscriptionNotFound
		}
		if locked.Status != constants.SubscriptionStatusOnHold {
			// 并发的支付事件已经解除挂起，视为幂等
			return nil
		}
		now := time.Now().UTC()
		locked.Status = constants.SubscriptionStatusActive
		if nextPaymentOn != nil {
			locked.NextPaymentOn = nextPaymentOn
		}
		locked.UpdatedAt = now
		if err := uc.subRepo.Update(ctx, locked); err != nil {
			return err
		}
		return uc.historyRepo.Add(ctx, &SubscriptionHistory{
			SubscriptionID: locked.ID,
			RestaurantID:   locked.RestaurantID,
			PlanID:         locked.PlanID,
			FromStatus:     constants.SubscriptionStatusOnHold,
			ToStatus:       constants.SubscriptionStatusActive,
			Action:         constants.ActionReactivated,
			Actor:          constants.ActorAdmin,
			CreatedAt:      now,
		})
	})
}

// GetSubscription 查询餐厅当前订阅
func (uc *BillingUsecase) GetSubscription(ctx context.Context, restaurantID uint64) (*Subscription, error) {
	return uc.subRepo.GetLiveByRestaurant(ctx, restaurantID)
}
