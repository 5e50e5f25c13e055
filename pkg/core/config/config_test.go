package config

import (
	"errors"
	"testing"
)

func TestTenantConfig_Defaults(t *testing.T) {
	cfg := DefaultTenantConfig("acme")

	if cfg.TenantID != "acme" {
		t.Errorf("unexpected tenant id %q", cfg.TenantID)
	}
	if cfg.MemoryTokenCap != 2000 {
		t.Errorf("unexpected memory cap %d", cfg.MemoryTokenCap)
	}
	if cfg.SearchResultCap != 5 {
		t.Errorf("unexpected search cap %d", cfg.SearchResultCap)
	}
	if cfg.RAGTokenCap != 3200 {
		t.Errorf("unexpected rag cap %d", cfg.RAGTokenCap)
	}
	if cfg.RAGTopK != 8 {
		t.Errorf("unexpected top-k %d", cfg.RAGTopK)
	}
	if cfg.HistoryLimit != 10 {
		t.Errorf("unexpected history limit %d", cfg.HistoryLimit)
	}
}

func TestTenants_GetFallsBack(t *testing.T) {
	tenants := NewTenants(TenantConfig{TenantID: "default", MemoryTokenCap: 500})

	got := tenants.Get("unknown")
	if got.TenantID != "unknown" {
		t.Errorf("expected tenant id filled in, got %q", got.TenantID)
	}
	if got.MemoryTokenCap != 500 {
		t.Errorf("expected fallback memory cap, got %d", got.MemoryTokenCap)
	}
}

func TestTenants_RegisterOverrides(t *testing.T) {
	tenants := NewTenants(DefaultTenantConfig("default"))
	tenants.Register(TenantConfig{TenantID: "acme", RAGTopK: 3})

	got := tenants.Get("acme")
	if got.RAGTopK != 3 {
		t.Errorf("expected registered top-k, got %d", got.RAGTopK)
	}
	// Unset fields are filled from defaults on registration.
	if got.HistoryLimit != 10 {
		t.Errorf("expected default history limit, got %d", got.HistoryLimit)
	}
}

func TestTenants_Lookup(t *testing.T) {
	tenants := NewTenants(DefaultTenantConfig("default"))
	tenants.Register(TenantConfig{TenantID: "acme"})

	if _, err := tenants.Lookup("acme"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := tenants.Lookup("ghost"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
}

func TestLLMConfig_Validate(t *testing.T) {
	cfg := LLMConfig{APIKey: "sk-test", Model: "gpt-4o"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := (&LLMConfig{Model: "gpt-4o"}).Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	if err := (&LLMConfig{APIKey: "sk-test"}).Validate(); !errors.Is(err, ErrMissingModel) {
		t.Errorf("expected ErrMissingModel, got %v", err)
	}
}
