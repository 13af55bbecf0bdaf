package conf

import (
	"fmt"
	"time"
)

type Bootstrap struct {
	Data    *Data    `yaml:"data" json:"data"`
	Client  *Client  `yaml:"client" json:"client"`
	Billing *Billing `yaml:"billing" json:"billing"`
	Cron    *Cron    `yaml:"cron" json:"cron"`
	Log     *Log     `yaml:"log" json:"log"`
}

type Data struct {
	Database struct {
		Driver          string `yaml:"driver" json:"driver"`
		Source          string `yaml:"source" json:"source"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
		DialTimeout  string `yaml:"dial_timeout" json:"dial_timeout"`
		PoolSize     int32  `yaml:"pool_size" json:"pool_size"`
		MinIdleConns int32  `yaml:"min_idle_conns" json:"min_idle_conns"`
	} `yaml:"redis" json:"redis"`
}

type Client struct {
	PartnerGateway *PartnerGateway `yaml:"partner_gateway" json:"partner_gateway"`
}

// PartnerGateway 外部循环扣款伙伴 REST API 接入配置
type PartnerGateway struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	KeyID     string `yaml:"key_id" json:"key_id"`
	KeySecret string `yaml:"key_secret" json:"key_secret"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// Billing 计费核心可调参数
// 显式配置对象，按操作向下传递，不使用进程级单例
type Billing struct {
	// GracePeriodDays 订阅到期后仍享受宽限订单额度的天数(时间级宽限窗口)
	GracePeriodDays int `yaml:"grace_period_days" json:"grace_period_days"`
	// AutoResubscribeLimit 同一餐厅同一免费套餐的自动重订上限
	AutoResubscribeLimit int `yaml:"auto_resubscribe_limit" json:"auto_resubscribe_limit"`
	// PartnerPaymentLookback 对账时向伙伴查询支付记录的条数
	PartnerPaymentLookback int `yaml:"partner_payment_lookback" json:"partner_payment_lookback"`
	// OperatorRecipient 运营告警接收方
	OperatorRecipient string `yaml:"operator_recipient" json:"operator_recipient"`
}

// Cron 对账任务调度表达式(秒级)
type Cron struct {
	StaleSubscriptionSweep string `yaml:"stale_subscription_sweep" json:"stale_subscription_sweep"`
	OnHoldDetector         string `yaml:"on_hold_detector" json:"on_hold_detector"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// GraceWindow 时间级宽限窗口时长
func (b *Billing) GraceWindow() time.Duration {
	return time.Duration(b.GracePeriodDays) * 24 * time.Hour
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Data.Redis.Addr == "" {
		return fmt.Errorf("data.redis.addr is required")
	}
	if b.Client == nil || b.Client.PartnerGateway == nil || b.Client.PartnerGateway.BaseURL == "" {
		return fmt.Errorf("client.partner_gateway.base_url is required")
	}
	if b.Billing == nil {
		return fmt.Errorf("billing configuration is required")
	}
	if b.Billing.GracePeriodDays <= 0 {
		return fmt.Errorf("billing.grace_period_days must be positive")
	}
	if b.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}
