package constants

import "time"

// 订阅状态
const (
	SubscriptionStatusPending             = "PENDING"
	SubscriptionStatusInitialized         = "INITIALIZED"
	SubscriptionStatusBankApprovalPending = "BANK_APPROVAL_PENDING"
	SubscriptionStatusActive              = "ACTIVE"
	SubscriptionStatusOnHold              = "ON_HOLD"
	SubscriptionStatusCancelled           = "CANCELLED"
	SubscriptionStatusFailedToCancel      = "FAILED_TO_CANCEL"
	SubscriptionStatusCompleted           = "COMPLETED"
)

// 支付状态(账单流水)
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// 授权状态
const (
	AuthStatusPending    = "PENDING"
	AuthStatusAuthorized = "AUTHORIZED"
	AuthStatusFailed     = "FAILED"
)

// 套餐计费类型
const (
	PlanTypeFree     = "FREE"
	PlanTypePeriodic = "PERIODIC"
)

// 计费周期单位
const (
	IntervalDay   = "day"
	IntervalWeek  = "week"
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// 操作发起方
const (
	ActorCustomer = "customer"
	ActorAdmin    = "admin"
	ActorPartner  = "partner"
	ActorSystem   = "system"
)

// 订阅历史操作类型
const (
	ActionCreated      = "created"
	ActionInitialized  = "initialized"
	ActionAuthorized   = "authorized"
	ActionActivated    = "activated"
	ActionOnHold       = "on_hold"
	ActionReactivated  = "reactivated"
	ActionCancelled    = "cancelled"
	ActionCancelFailed = "cancel_failed"
	ActionCompleted    = "completed"
	ActionResubscribed = "resubscribed"
)

// 通知模板名称(通知服务负责渲染，核心只传模板名和数据)
const (
	TemplateSubscriptionActivated = "subscription_activated"
	TemplateSubscriptionOnHold    = "subscription_on_hold"
	TemplateSubscriptionCancelled = "subscription_cancelled"
	TemplateTopUpReminder         = "subscription_top_up_reminder"
	TemplateOperatorAlert         = "billing_operator_alert"
	TemplateSweepSummary          = "billing_sweep_summary"
)

// 队列 key(与消息分发方约定)
const (
	PartnerEventQueue = "billing:events:partner"
	OrderEventQueue   = "billing:events:orders"
	NotificationQueue = "notification:jobs"
	QueuePopTimeout   = 5 * time.Second
)

// 分布式锁相关常量
const (
	// SweepLockExpiration 对账任务单订阅锁过期时间
	SweepLockExpiration = 10 * time.Minute
	// SweepLockRetries 对账任务锁重试次数(失败说明其他实例正在处理)
	SweepLockRetries = 1
)

// 外部支付伙伴状态 -> 本地订阅状态
var PartnerStatusMap = map[string]string{
	"created":               SubscriptionStatusPending,
	"authenticated":         SubscriptionStatusInitialized,
	"bank_approval_pending": SubscriptionStatusBankApprovalPending,
	"active":                SubscriptionStatusActive,
	"halted":                SubscriptionStatusOnHold,
	"cancelled":             SubscriptionStatusCancelled,
	"completed":             SubscriptionStatusCompleted,
}

// 外部支付伙伴支付状态
const (
	PartnerPaymentStatusSuccess = "captured"
	PartnerPaymentStatusFailed  = "failed"
)
