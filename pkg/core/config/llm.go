package config

import "time"

// LLMConfig 模型服务配置
type LLMConfig struct {
	// Provider 提供商名称（openai 兼容端点均可）
	Provider string `koanf:"provider"`
	// APIKey API 密钥
	APIKey string `koanf:"api_key"`
	// BaseURL 自定义 API 端点
	BaseURL string `koanf:"base_url"`
	// Model 模型名称
	Model string `koanf:"model"`
	// Timeout 请求超时
	Timeout time.Duration `koanf:"timeout"`
	// MaxRetries 最大重试次数
	MaxRetries int `koanf:"max_retries"`
	// RetryDelay 重试间隔基数
	RetryDelay time.Duration `koanf:"retry_delay"`
	// Temperature 默认温度
	Temperature float64 `koanf:"temperature"`
	// MaxTokens 默认最大输出 token
	MaxTokens int `koanf:"max_tokens"`
}

// Validate 验证 LLM 配置
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	return nil
}
