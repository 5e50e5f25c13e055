package config

import "sync"

// TenantConfig 租户配置
//
// 请求期间只读；由配置拥有，编排核心不会修改。
type TenantConfig struct {
	// TenantID 租户标识
	TenantID string `koanf:"tenant_id"`
	// DefaultUserID 请求未携带用户时使用的默认用户
	DefaultUserID string `koanf:"default_user_id"`
	// DefaultTenantID 请求未携带租户时回落的租户标识
	DefaultTenantID string `koanf:"default_tenant_id"`
	// MemoryTokenCap 用户记忆块的 token 上限
	MemoryTokenCap int `koanf:"memory_token_cap"`
	// SearchResultCap 搜索结果条数上限
	SearchResultCap int `koanf:"search_result_cap"`
	// RAGTokenCap 检索来源块的 token 上限
	RAGTokenCap int `koanf:"rag_token_cap"`
	// RAGTopK 检索返回的候选分块数量
	RAGTopK int `koanf:"rag_top_k"`
	// HistoryLimit 注入上下文的历史消息条数上限
	HistoryLimit int `koanf:"history_limit"`
}

// applyDefaults 填充零值字段
func (t *TenantConfig) applyDefaults() {
	if t.MemoryTokenCap == 0 {
		t.MemoryTokenCap = 2000
	}
	if t.SearchResultCap == 0 {
		t.SearchResultCap = 5
	}
	if t.RAGTokenCap == 0 {
		t.RAGTokenCap = 3200
	}
	if t.RAGTopK == 0 {
		t.RAGTopK = 8
	}
	if t.HistoryLimit == 0 {
		t.HistoryLimit = 10
	}
}

// DefaultTenantConfig 返回带默认值的租户配置
func DefaultTenantConfig(tenantID string) TenantConfig {
	t := TenantConfig{TenantID: tenantID}
	t.applyDefaults()
	return t
}

// Tenants 租户配置注册表
//
// 并发安全；未注册租户返回带默认值的配置。
type Tenants struct {
	mu       sync.RWMutex
	configs  map[string]TenantConfig
	fallback TenantConfig
}

// NewTenants 创建租户注册表
func NewTenants(fallback TenantConfig) *Tenants {
	fallback.applyDefaults()
	return &Tenants{
		configs:  make(map[string]TenantConfig),
		fallback: fallback,
	}
}

// Register 注册租户配置
func (t *Tenants) Register(cfg TenantConfig) {
	cfg.applyDefaults()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configs[cfg.TenantID] = cfg
}

// Get 获取租户配置
//
// 未注册的租户返回以该租户标识填充的默认配置。
func (t *Tenants) Get(tenantID string) TenantConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if cfg, ok := t.configs[tenantID]; ok {
		return cfg
	}

	cfg := t.fallback
	cfg.TenantID = tenantID
	return cfg
}

// Lookup 获取已注册的租户配置
//
// 与 Get 不同，未注册的租户返回 ErrUnknownTenant 而非回落配置。
func (t *Tenants) Lookup(tenantID string) (TenantConfig, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cfg, ok := t.configs[tenantID]
	if !ok {
		return TenantConfig{}, ErrUnknownTenant
	}
	return cfg, nil
}
