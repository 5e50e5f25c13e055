// Package config 提供配置加载和管理功能
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config 全局配置结构
type Config struct {
	// LLM 模型服务配置
	LLM LLMConfig `koanf:"llm"`
	// Retrieval 检索服务配置
	Retrieval RetrievalConfig `koanf:"retrieval"`
	// Search 网络搜索配置
	Search SearchConfig `koanf:"search"`
	// Pulse 每日摘要配置
	Pulse PulseConfig `koanf:"pulse"`
	// Tenant 租户默认配置
	Tenant TenantConfig `koanf:"tenant"`
	// Observability 可观测性配置
	Observability ObservabilityConfig `koanf:"observability"`
}

// RetrievalConfig 检索服务配置
type RetrievalConfig struct {
	// BaseURL 检索服务地址
	BaseURL string `koanf:"base_url"`
	// Timeout 请求超时
	Timeout time.Duration `koanf:"timeout"`
	// Rerank 是否要求服务端重排
	Rerank bool `koanf:"rerank"`
}

// SearchConfig 网络搜索配置
type SearchConfig struct {
	// APIKey Google Custom Search API 密钥
	APIKey string `koanf:"api_key"`
	// EngineID 搜索引擎标识
	EngineID string `koanf:"engine_id"`
	// Endpoint 自定义端点（测试用）
	Endpoint string `koanf:"endpoint"`
	// Timeout 请求超时
	Timeout time.Duration `koanf:"timeout"`
}

// PulseConfig 每日摘要配置
type PulseConfig struct {
	// Enabled 是否启用定时生成
	Enabled bool `koanf:"enabled"`
	// Hour 每日生成时刻（UTC 小时）
	Hour int `koanf:"hour"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	// Enabled 是否启用
	Enabled bool `koanf:"enabled"`
	// ServiceName 服务名称
	ServiceName string `koanf:"service_name"`
	// Endpoint OTLP 端点
	Endpoint string `koanf:"endpoint"`
	// SampleRate 采样率 [0, 1]
	SampleRate float64 `koanf:"sample_rate"`
}

// Loader 配置加载器
type Loader struct {
	k *koanf.Koanf
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New("."),
	}
}

// LoadEnv 从环境变量加载配置
func (l *Loader) LoadEnv(prefix string) error {
	return l.k.Load(env.Provider(prefix, ".", func(s string) string {
		// 转换环境变量名: ORCHA_LLM_API_KEY -> llm.api_key
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "_", ".")
		return s
	}), nil)
}

// Unmarshal 解析配置到结构体
func (l *Loader) Unmarshal(cfg *Config) error {
	return l.k.Unmarshal("", cfg)
}

// GetString 获取字符串配置值
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetDuration 获取时间间隔配置值
func (l *Loader) GetDuration(key string) time.Duration {
	return l.k.Duration(key)
}

// Load 加载完整配置（环境变量 + 默认值）
func Load() (*Config, error) {
	loader := NewLoader()

	if err := loader.LoadEnv("ORCHA_"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults 应用默认配置值
func applyDefaults(cfg *Config) {
	// LLM 默认值
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	// 检索默认值
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 15 * time.Second
	}

	// 搜索默认值
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 10 * time.Second
	}

	// 每日摘要默认值
	if cfg.Pulse.Hour == 0 {
		cfg.Pulse.Hour = 21
	}

	// 租户默认值
	cfg.Tenant.applyDefaults()

	// 可观测性默认值
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "orcha"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}
