package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultPartnerTimeout = 15 * time.Second

// partnerGatewayClient 外部循环扣款伙伴 REST 客户端
// 防腐层实现：伙伴侧状态、金额单位和时间戳在这里完成到本地模型的翻译
type partnerGatewayClient struct {
	httpClient *http.Client
	baseURL    string
	keyID      string
	keySecret  string
	log        *log.Helper
}

// NewPartnerGatewayClient 创建伙伴客户端
func NewPartnerGatewayClient(c *conf.Bootstrap, logger log.Logger) (biz.ExternalBillingGateway, error) {
	pg := c.Client.PartnerGateway
	timeout := defaultPartnerTimeout
	if pg.Timeout != "" {
		d, err := time.ParseDuration(pg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid partner gateway timeout %q: %w", pg.Timeout, err)
		}
		timeout = d
	}
	return &partnerGatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    pg.BaseURL,
		keyID:      pg.KeyID,
		keySecret:  pg.KeySecret,
		log:        log.NewHelper(logger),
	}, nil
}

// partnerSubscriptionResp 伙伴侧订阅响应
type partnerSubscriptionResp struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ShortURL  string `json:"short_url"`
	PaidCount int    `json:"paid_count"`
	ChargeAt  int64  `json:"charge_at"`
	EndAt     int64  `json:"end_at"`
}

// partnerPaymentResp 伙伴侧支付记录响应，金额为最小货币单位
type partnerPaymentResp struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Cycle       *int   `json:"cycle"`
	ErrorReason string `json:"error_reason"`
	CreatedAt   int64  `json:"created_at"`
}

type partnerListPaymentsResp struct {
	Items []partnerPaymentResp `json:"items"`
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func (c *partnerGatewayClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Errorf("Partner request %s %s failed: %v", method, path, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Errorf("Partner request %s %s returned %d: %s", method, path, resp.StatusCode, string(raw))
		return fmt.Errorf("partner gateway: %s %s returned %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *partnerGatewayClient) toPartnerSubscription(r *partnerSubscriptionResp) *biz.PartnerSubscription {
	status, ok := constants.PartnerStatusMap[r.Status]
	if !ok {
		c.log.Warnf("Unknown partner subscription status %q, keeping raw value", r.Status)
		status = r.Status
	}
	return &biz.PartnerSubscription{
		PartnerSubscriptionID: r.ID,
		Status:                status,
		AuthLink:              r.ShortURL,
		CurrentCycle:          r.PaidCount,
		NextPaymentOn:         unixPtr(r.ChargeAt),
		EndTime:               unixPtr(r.EndAt),
	}
}

// CreatePlan 在伙伴侧登记周期套餐，金额换算为最小货币单位
func (c *partnerGatewayClient) CreatePlan(ctx context.Context, plan *biz.Plan) (string, error) {
	payload := map[string]interface{}{
		"period":   plan.IntervalUnit,
		"interval": 1,
		"item": map[string]interface{}{
			"name":        plan.Name,
			"description": plan.Description,
			"amount":      int64(plan.Amount * 100),
			"currency":    "INR",
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/plans", payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateSubscription 在伙伴侧创建订阅，返回授权链接和首次扣款时间
func (c *partnerGatewayClient) CreateSubscription(ctx context.Context, plan *biz.Plan, sub *biz.Subscription) (*biz.PartnerSubscription, error) {
	payload := map[string]interface{}{
		"plan_id":         plan.PartnerPlanID,
		"total_count":     plan.MaxCycles,
		"customer_notify": 1,
		"notes": map[string]interface{}{
			"restaurant_id":   fmt.Sprintf("%d", sub.RestaurantID),
			"subscription_id": fmt.Sprintf("%d", sub.ID),
		},
	}
	var out partnerSubscriptionResp
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", payload, &out); err != nil {
		return nil, err
	}
	return c.toPartnerSubscription(&out), nil
}

// CancelSubscription 取消伙伴侧订阅
func (c *partnerGatewayClient) CancelSubscription(ctx context.Context, partnerSubscriptionID string) error {
	payload := map[string]interface{}{"cancel_at_cycle_end": 0}
	return c.do(ctx, http.MethodPost, "/v1/subscriptions/"+partnerSubscriptionID+"/cancel", payload, nil)
}

// GetSubscription 查询伙伴侧订阅快照
func (c *partnerGatewayClient) GetSubscription(ctx context.Context, partnerSubscriptionID string) (*biz.PartnerSubscription, error) {
	var out partnerSubscriptionResp
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+partnerSubscriptionID, nil, &out); err != nil {
		return nil, err
	}
	return c.toPartnerSubscription(&out), nil
}

// GetSubscriptionPayments 拉取伙伴侧最近支付记录，对账自愈用
func (c *partnerGatewayClient) GetSubscriptionPayments(ctx context.Context, partnerSubscriptionID, lastPaymentID string, count int) ([]*biz.PartnerPayment, error) {
	path := fmt.Sprintf("/v1/subscriptions/%s/payments?count=%d", partnerSubscriptionID, count)
	if lastPaymentID != "" {
		path += "&after=" + lastPaymentID
	}
	var out partnerListPaymentsResp
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	payments := make([]*biz.PartnerPayment, 0, len(out.Items))
	for i := range out.Items {
		item := &out.Items[i]
		payments = append(payments, &biz.PartnerPayment{
			PartnerPaymentID: item.ID,
			Status:           item.Status,
			Amount:           float64(item.Amount) / 100,
			Cycle:            item.Cycle,
			FailureReason:    item.ErrorReason,
			TransactionAt:    time.Unix(item.CreatedAt, 0).UTC(),
		})
	}
	return payments, nil
}

// RetrySubscriptionPayment 触发伙伴侧扣款重试
func (c *partnerGatewayClient) RetrySubscriptionPayment(ctx context.Context, partnerSubscriptionID string, nextPaymentOn *time.Time) error {
	payload := map[string]interface{}{}
	if nextPaymentOn != nil {
		payload["charge_at"] = nextPaymentOn.Unix()
	}
	return c.do(ctx, http.MethodPost, "/v1/subscriptions/"+partnerSubscriptionID+"/retry", payload, nil)
}

// ManualActivateSubscription 人工恢复伙伴侧挂起的订阅
func (c *partnerGatewayClient) ManualActivateSubscription(ctx context.Context, partnerSubscriptionID string, nextPaymentOn *time.Time) error {
	payload := map[string]interface{}{}
	if nextPaymentOn != nil {
		payload["charge_at"] = nextPaymentOn.Unix()
	}
	return c.do(ctx, http.MethodPost, "/v1/subscriptions/"+partnerSubscriptionID+"/activate", payload, nil)
}
