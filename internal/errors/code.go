package errors

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// 计费服务错误定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 billing-service
// 模块划分：
//   01: 套餐模块
//   02: 订阅生命周期
//   03: 账单流水模块
//   04: 订单扣减模块
//   05: 外部支付伙伴

// 套餐模块 (140100-140199)
var (
	// ErrPlanNotFound 套餐不存在
	ErrPlanNotFound = errors.New(404, "PLAN_NOT_FOUND", "plan not found")
	// ErrPlanInactive 套餐已停用
	ErrPlanInactive = errors.New(400, "PLAN_INACTIVE", "plan is not active")
	// ErrPlanTypeMismatch 套餐计费类型与请求入口不匹配
	ErrPlanTypeMismatch = errors.New(400, "PLAN_TYPE_MISMATCH", "plan billing type does not match the requested operation")
	// ErrPlanImmutableField 金额/类型/周期等创建后不可修改
	ErrPlanImmutableField = errors.New(400, "PLAN_IMMUTABLE_FIELD", "amount, billing type and interval cannot be changed after creation")
)

// 订阅生命周期模块 (140200-140299)
var (
	// ErrSubscriptionNotFound 订阅不存在
	ErrSubscriptionNotFound = errors.New(404, "SUBSCRIPTION_NOT_FOUND", "subscription not found")
	// ErrAlreadySubscribed 餐厅已有未终结的订阅
	ErrAlreadySubscribed = errors.New(409, "ALREADY_SUBSCRIBED", "restaurant already has a live subscription")
	// ErrInvalidStatusForAction 当前状态不允许该操作
	ErrInvalidStatusForAction = errors.New(400, "INVALID_STATUS_FOR_ACTION", "subscription is not in the required status for this action")
	// ErrIllegalStateTransition 非法状态迁移，属于需要排查的缺陷而非可吸收的重复事件
	ErrIllegalStateTransition = errors.New(500, "ILLEGAL_STATE_TRANSITION", "illegal subscription state transition")
	// ErrPartnerCancelFailed 支付伙伴侧取消失败，订阅进入 FAILED_TO_CANCEL
	ErrPartnerCancelFailed = errors.New(502, "PARTNER_CANCEL_FAILED", "partner-side cancellation failed, subscription marked FAILED_TO_CANCEL")
)

// 账单流水模块 (140300-140399)
var (
	// ErrLedgerRowNotFound 账单流水不存在
	ErrLedgerRowNotFound = errors.New(404, "LEDGER_ROW_NOT_FOUND", "subscription payment row not found")
	// ErrUnexpectedPaymentCycle 支付事件周期号与本地账本无法对齐
	ErrUnexpectedPaymentCycle = errors.New(500, "UNEXPECTED_PAYMENT_CYCLE", "payment cycle does not align with the local ledger")
)

// 订单扣减模块 (140400-140499)
var (
	// ErrBillingStatsNotFound 餐厅计费投影缺失
	ErrBillingStatsNotFound = errors.New(404, "BILLING_STATS_NOT_FOUND", "restaurant billing stats row not found")
)

// 外部支付伙伴 (140500-140599)
var (
	// ErrPartnerUnavailable 支付伙伴调用失败
	ErrPartnerUnavailable = errors.New(503, "PARTNER_UNAVAILABLE", "external billing partner call failed")
)
