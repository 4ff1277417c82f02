package config

import (
	"testing"
	"time"
)

// clearEnv unsets every variable the loader reads so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "CORS_ORIGINS", "ADMIN_ALLOW_CIDRS",
		"OPENAI_BASE_URL", "UPSTREAM_MODE", "OPENAI_API_KEY",
		"HTTP_TIMEOUT_SECONDS", "SSE_KEEPALIVE_SECONDS",
		"ROUTER_URL", "ROUTER_TIMEOUT_MS", "ROUTER_STRICT",
		"ROUTER_PRIVACY_MODE", "PLAN_CACHE_MAX_TTL_MS", "PREFIX_RULES",
		"KEY_STORE", "KEY_REDIS_URL", "KEYS_REQUIRE_EXPIRATION",
		"KEYS_ALLOW_NO_EXPIRATION", "KEYS_DEFAULT_TTL_SECONDS",
		"ANALYTICS_BACKEND", "ANALYTICS_JSONL_PATH", "ANALYTICS_REDIS_URL",
		"ANALYTICS_CLICKHOUSE_DSN", "ANALYTICS_TTL_SECONDS",
		"ANALYTICS_MAX_EVENTS", "PRICING_CONFIG_PATH",
		"MCP_CONFIG_PATH", "SYSTEM_PROMPT_CONFIG_PATH", "EXTRACT_INSTRUCTIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("UPSTREAM_MODE", "responses")
	t.Setenv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	t.Setenv("ROUTER_PRIVACY_MODE", "features")
	t.Setenv("PORT", "8088")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "120")
	t.Setenv("SSE_KEEPALIVE_SECONDS", "15")
	t.Setenv("ROUTER_TIMEOUT_MS", "15")
	t.Setenv("PLAN_CACHE_MAX_TTL_MS", "300000")
	t.Setenv("ANALYTICS_JSONL_PATH", "data/analytics.jsonl")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8088 || cfg.LogLevel != "info" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Upstream.Mode != "responses" || cfg.Upstream.Timeout != 120*time.Second {
		t.Errorf("upstream = %+v", cfg.Upstream)
	}
	if cfg.Router.Timeout != 15*time.Millisecond {
		t.Errorf("router timeout = %v", cfg.Router.Timeout)
	}
	if cfg.Managed() {
		t.Error("managed without OPENAI_API_KEY")
	}
}

func TestLoadManagedMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("UPSTREAM_MODE", "chat")
	t.Setenv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	t.Setenv("ROUTER_PRIVACY_MODE", "features")
	t.Setenv("PORT", "9000")
	t.Setenv("OPENAI_API_KEY", "sk-prov")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Managed() {
		t.Error("managed mode not detected")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors = %v", cfg.CORSOrigins)
	}
}

func TestValidation(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:     8088,
			LogLevel: "info",
			Upstream: UpstreamConfig{BaseURL: "https://x", Mode: "chat"},
			Router:   RouterConfig{Privacy: "features"},
		}
	}

	if err := base().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := base()
	bad.Upstream.Mode = "grpc"
	if err := bad.validate(); err == nil {
		t.Error("bad mode accepted")
	}

	bad = base()
	bad.LogLevel = "loud"
	if err := bad.validate(); err == nil {
		t.Error("bad log level accepted")
	}

	bad = base()
	bad.Keys.Store = "redis"
	if err := bad.validate(); err == nil {
		t.Error("redis store without URL accepted")
	}

	bad = base()
	bad.Router.Privacy = "everything"
	if err := bad.validate(); err == nil {
		t.Error("bad privacy mode accepted")
	}
}
