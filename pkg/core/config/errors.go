package config

import "errors"

// 配置相关错误
var (
	// ErrMissingAPIKey 缺少 API 密钥
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrMissingModel 缺少模型名称
	ErrMissingModel = errors.New("missing model name")
	// ErrUnknownTenant 租户未注册
	ErrUnknownTenant = errors.New("unknown tenant")
)
