package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// BillingService 计费服务门面
// 消费伙伴事件与订单事件两条队列，解析信封后调用业务用例
type BillingService struct {
	uc  *biz.BillingUsecase
	log *log.Helper
}

// NewBillingService 创建计费服务
func NewBillingService(uc *biz.BillingUsecase, logger log.Logger) *BillingService {
	return &BillingService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// 伙伴事件名(与伙伴 webhook 转发方约定)
const (
	eventSubscriptionStatusChanged = "subscription-status-changed"
	eventNewPaymentSucceeded       = "new-payment-succeeded"
	eventPaymentDeclined           = "payment-declined"
	eventAuthorizationFailed       = "authorization-failed"
)

// partnerEventEnvelope 伙伴事件信封
// payload 里的金额为最小货币单位，时间戳为 unix 秒
type partnerEventEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			ShortURL  string `json:"short_url"`
			PaidCount int    `json:"paid_count"`
			ChargeAt  int64  `json:"charge_at"`
			EndAt     int64  `json:"end_at"`
		} `json:"subscription"`
		Payment *struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			Amount      int64  `json:"amount"`
			Cycle       *int   `json:"cycle"`
			ErrorReason string `json:"error_reason"`
			CreatedAt   int64  `json:"created_at"`
		} `json:"payment"`
	} `json:"payload"`
}

// parsePartnerEvent 解析伙伴事件信封并翻译为本地防腐层 DTO
// 伙伴侧状态在这里完成到本地状态枚举的映射，未知状态原样透传交由状态机拒绝
func parsePartnerEvent(raw []byte) (event string, sub *biz.PartnerSubscription, payment *biz.PartnerPayment, err error) {
	var env partnerEventEnvelope
	if err = json.Unmarshal(raw, &env); err != nil {
		return "", nil, nil, fmt.Errorf("malformed partner event: %w", err)
	}
	if env.Event == "" {
		return "", nil, nil, fmt.Errorf("partner event missing event name")
	}
	if env.Payload.Subscription.ID == "" {
		return "", nil, nil, fmt.Errorf("partner event %s missing subscription id", env.Event)
	}

	s := env.Payload.Subscription
	status := s.Status
	if mapped, ok := constants.PartnerStatusMap[s.Status]; ok {
		status = mapped
	}
	sub = &biz.PartnerSubscription{
		PartnerSubscriptionID: s.ID,
		Status:                status,
		AuthLink:              s.ShortURL,
		CurrentCycle:          s.PaidCount,
	}
	if s.ChargeAt != 0 {
		t := time.Unix(s.ChargeAt, 0).UTC()
		sub.NextPaymentOn = &t
	}
	if s.EndAt != 0 {
		t := time.Unix(s.EndAt, 0).UTC()
		sub.EndTime = &t
	}

	if p := env.Payload.Payment; p != nil {
		payment = &biz.PartnerPayment{
			PartnerPaymentID: p.ID,
			Status:           p.Status,
			Amount:           float64(p.Amount) / 100,
			Cycle:            p.Cycle,
			FailureReason:    p.ErrorReason,
			TransactionAt:    time.Unix(p.CreatedAt, 0).UTC(),
		}
	}
	return env.Event, sub, payment, nil
}

// HandlePartnerEvent 处理一条伙伴事件
// 解析失败返回错误由消费方决定丢弃或重试；未知事件名只记录日志
func (s *BillingService) HandlePartnerEvent(ctx context.Context, raw []byte) error {
	event, sub, payment, err := parsePartnerEvent(raw)
	if err != nil {
		s.log.Errorf("Failed to parse partner event: %v", err)
		return err
	}
	s.log.Infof("Partner event received: event=%s, partnerSubID=%s", event, sub.PartnerSubscriptionID)

	switch event {
	case eventSubscriptionStatusChanged:
		return s.uc.HandleSubscriptionEvent(ctx, sub)
	case eventNewPaymentSucceeded:
		if payment == nil {
			return fmt.Errorf("event %s missing payment payload", event)
		}
		return s.uc.HandlePaymentSucceeded(ctx, sub, payment)
	case eventPaymentDeclined:
		if payment == nil {
			return fmt.Errorf("event %s missing payment payload", event)
		}
		return s.uc.HandlePaymentDeclined(ctx, sub, payment)
	case eventAuthorizationFailed:
		return s.uc.HandleAuthorizationFailed(ctx, sub)
	default:
		s.log.Warnf("Unknown partner event %s, ignoring", event)
		return nil
	}
}

// orderEventEnvelope 订单事件信封
type orderEventEnvelope struct {
	Event        string `json:"event"`
	RestaurantID uint64 `json:"restaurant_id"`
	OrderID      string `json:"order_id"`
}

const eventOrderFulfilled = "order-fulfilled"

// HandleOrderEvent 处理一条订单事件：每完成一笔订单扣减一次订单额度
func (s *BillingService) HandleOrderEvent(ctx context.Context, raw []byte) error {
	var env orderEventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Errorf("Failed to parse order event: %v", err)
		return err
	}
	if env.Event != eventOrderFulfilled {
		s.log.Warnf("Unknown order event %s, ignoring", env.Event)
		return nil
	}
	if env.RestaurantID == 0 {
		return fmt.Errorf("order event %s missing restaurant id", env.Event)
	}
	s.log.Infof("Order fulfilled: restaurantID=%d, orderID=%s", env.RestaurantID, env.OrderID)
	return s.uc.DebitOneOrder(ctx, env.RestaurantID)
}
