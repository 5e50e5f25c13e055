// Package errors 定义编排核心的通用错误类型
package errors

import (
	"errors"
	"fmt"
)

// 通用错误
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrContextCanceled 上下文被取消
	ErrContextCanceled = errors.New("context canceled")
	// ErrNotFound 记录未找到
	ErrNotFound = errors.New("not found")
)

// 身份与会话相关错误
var (
	// ErrIdentityMismatch 会话归属与请求身份不一致
	ErrIdentityMismatch = errors.New("conversation identity mismatch")
	// ErrConversationNotFound 会话未找到
	ErrConversationNotFound = errors.New("conversation not found")
)

// 检索相关错误
var (
	// ErrRetrievalUnavailable 检索服务不可用
	ErrRetrievalUnavailable = errors.New("retrieval service unavailable")
)

// 搜索提供商相关错误
var (
	// ErrSearchQuotaExceeded 搜索配额已用尽（429）
	ErrSearchQuotaExceeded = errors.New("search quota exceeded")
	// ErrSearchAuth 搜索凭据无效（403）
	ErrSearchAuth = errors.New("search authentication failed")
	// ErrSearchTimeout 搜索提供商超时
	ErrSearchTimeout = errors.New("search provider timeout")
	// ErrSearchProvider 搜索提供商其他错误
	ErrSearchProvider = errors.New("search provider error")
)

// 模型调用相关错误
var (
	// ErrModelUnavailable 模型服务不可用
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrRateLimited 请求被限速
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout 请求超时
	ErrTimeout = errors.New("request timeout")
	// ErrInvalidAPIKey API 密钥无效
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrInvalidResponse 模型响应无效
	ErrInvalidResponse = errors.New("invalid model response")
)

// 预算跟踪相关错误
var (
	// ErrTrackingUnavailable 用量跟踪存储不可达
	ErrTrackingUnavailable = errors.New("token tracking unavailable")
	// ErrNegativeTokens 增量为负
	ErrNegativeTokens = errors.New("negative token amount")
)

// WrapError 包装错误并添加上下文信息
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrModelUnavailable)
}

// IsFatal 判断错误是否为致命错误（终止整个回合）
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrIdentityMismatch) ||
		errors.Is(err, ErrInvalidAPIKey) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsRecoverable 判断错误是否可在组件内部降级处理
//
// 检索、搜索与用量跟踪失败均以诊断信息或禁用标记降级，回合继续。
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRetrievalUnavailable) ||
		errors.Is(err, ErrTrackingUnavailable) ||
		IsSearchError(err)
}

// IsSearchError 判断错误是否属于搜索提供商失败分类
func IsSearchError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSearchQuotaExceeded) ||
		errors.Is(err, ErrSearchAuth) ||
		errors.Is(err, ErrSearchTimeout) ||
		errors.Is(err, ErrSearchProvider)
}
