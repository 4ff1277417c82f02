// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file, and a .env file
// is auto-loaded when present.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example ROUTER_URL becomes router_url
// in YAML.
//
// The gateway starts with no external dependencies: keys and analytics fall
// back to in-process backends, and upstream resolution falls back to
// OPENAI_BASE_URL when neither a router nor prefix rules are configured.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8088.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn,
	// error. Default: info.
	LogLevel string

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string

	// AdminCIDRs restricts the management surfaces (/keys*, /reload/*,
	// /analytics/*) to these networks in addition to loopback.
	AdminCIDRs []string

	Upstream  UpstreamConfig
	Router    RouterConfig
	Keys      KeysConfig
	Analytics AnalyticsConfig
	Compose   ComposeConfig
}

// UpstreamConfig describes the default upstream and HTTP behaviour.
type UpstreamConfig struct {
	// BaseURL is the default upstream, e.g. "https://api.openai.com/v1".
	BaseURL string
	// Mode is the default upstream surface: "chat" or "responses".
	Mode string
	// APIKey is the provider key used in managed mode (OPENAI_API_KEY).
	APIKey string
	// Timeout bounds the whole upstream HTTP exchange. Default 120s.
	Timeout time.Duration
	// SSEKeepAlive is the idle interval after which a keep-alive comment is
	// emitted on open streams. Default 15s.
	SSEKeepAlive time.Duration
}

// RouterConfig describes the optional remote policy router.
type RouterConfig struct {
	// URL enables the router client when non-empty.
	URL string
	// Timeout bounds each route lookup. Default 15ms.
	Timeout time.Duration
	// Strict fails resolution instead of falling back when the router
	// rejects an alias.
	Strict bool
	// Privacy is one of features, summary, full. Default features.
	Privacy string
	// PlanCacheMaxTTL caps plan cache lifetimes. Default 5m.
	PlanCacheMaxTTL time.Duration
	// PrefixRules is the raw fallback rule string,
	// "prefix=claude-;base=https://…;key_env=ANTHROPIC_API_KEY;mode=responses".
	PrefixRules string
}

// KeysConfig controls managed-token authentication.
type KeysConfig struct {
	// Store selects the backend: "redis", "memory", or "" for automatic
	// (redis when RedisURL is set, memory otherwise).
	Store string
	// RedisURL is the key-store Redis connection URL.
	RedisURL string
	// RequireExpiration rejects key creation without a TTL. Default true.
	RequireExpiration bool
	// AllowNoExpiration permits explicitly non-expiring keys.
	AllowNoExpiration bool
	// DefaultTTL fills in the TTL when creation omits one.
	DefaultTTL time.Duration
}

// AnalyticsConfig selects the analytics backend.
type AnalyticsConfig struct {
	// Backend is one of jsonl, redis, clickhouse, memory, or "" for
	// automatic selection (redis URL > clickhouse DSN > jsonl).
	Backend string
	// JSONLPath is the append-only events file. Default data/analytics.jsonl.
	JSONLPath string
	// RedisURL is the analytics Redis connection URL.
	RedisURL string
	// ClickHouseDSN enables the ClickHouse backend.
	ClickHouseDSN string
	// TTL bounds event lifetime in backends that support expiry.
	TTL time.Duration
	// MaxEvents bounds the in-memory ring buffer.
	MaxEvents int
	// PricingPath points at a pricing JSON file. Empty uses built-in rates.
	PricingPath string
}

// ComposeConfig points at the reloadable composition config files.
type ComposeConfig struct {
	// MCPConfigPath is the mcp.json path. Empty disables MCP federation.
	MCPConfigPath string
	// SystemPromptPath is the system-prompt JSON path. Empty disables
	// injection.
	SystemPromptPath string
	// ExtractInstructions lifts a leading system message into the Responses
	// `instructions` field during chat→responses conversion.
	ExtractInstructions bool
}

// Load reads configuration from the environment (and optional config.yaml /
// .env files) and validates it.
func Load() (*Config, error) {
	_ = gotenv.Load() // .env is optional

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	_ = v.ReadInConfig() // the YAML file is optional

	v.SetDefault("PORT", 8088)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("UPSTREAM_MODE", "responses")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 120)
	v.SetDefault("SSE_KEEPALIVE_SECONDS", 15)
	v.SetDefault("ROUTER_TIMEOUT_MS", 15)
	v.SetDefault("ROUTER_PRIVACY_MODE", "features")
	v.SetDefault("PLAN_CACHE_MAX_TTL_MS", 300_000)
	v.SetDefault("KEYS_REQUIRE_EXPIRATION", true)
	v.SetDefault("ANALYTICS_JSONL_PATH", "data/analytics.jsonl")
	v.SetDefault("ANALYTICS_MAX_EVENTS", 10_000)

	cfg := &Config{
		Port:       v.GetInt("PORT"),
		LogLevel:   strings.ToLower(v.GetString("LOG_LEVEL")),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		AdminCIDRs:  splitList(v.GetString("ADMIN_ALLOW_CIDRS")),

		Upstream: UpstreamConfig{
			BaseURL:      strings.TrimSuffix(v.GetString("OPENAI_BASE_URL"), "/"),
			Mode:         strings.ToLower(v.GetString("UPSTREAM_MODE")),
			APIKey:       v.GetString("OPENAI_API_KEY"),
			Timeout:      time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
			SSEKeepAlive: time.Duration(v.GetInt("SSE_KEEPALIVE_SECONDS")) * time.Second,
		},

		Router: RouterConfig{
			URL:             v.GetString("ROUTER_URL"),
			Timeout:         time.Duration(v.GetInt("ROUTER_TIMEOUT_MS")) * time.Millisecond,
			Strict:          v.GetBool("ROUTER_STRICT"),
			Privacy:         strings.ToLower(v.GetString("ROUTER_PRIVACY_MODE")),
			PlanCacheMaxTTL: time.Duration(v.GetInt("PLAN_CACHE_MAX_TTL_MS")) * time.Millisecond,
			PrefixRules:     v.GetString("PREFIX_RULES"),
		},

		Keys: KeysConfig{
			Store:             strings.ToLower(v.GetString("KEY_STORE")),
			RedisURL:          v.GetString("KEY_REDIS_URL"),
			RequireExpiration: v.GetBool("KEYS_REQUIRE_EXPIRATION"),
			AllowNoExpiration: v.GetBool("KEYS_ALLOW_NO_EXPIRATION"),
			DefaultTTL:        time.Duration(v.GetInt("KEYS_DEFAULT_TTL_SECONDS")) * time.Second,
		},

		Analytics: AnalyticsConfig{
			Backend:       strings.ToLower(v.GetString("ANALYTICS_BACKEND")),
			JSONLPath:     v.GetString("ANALYTICS_JSONL_PATH"),
			RedisURL:      v.GetString("ANALYTICS_REDIS_URL"),
			ClickHouseDSN: v.GetString("ANALYTICS_CLICKHOUSE_DSN"),
			TTL:           time.Duration(v.GetInt("ANALYTICS_TTL_SECONDS")) * time.Second,
			MaxEvents:     v.GetInt("ANALYTICS_MAX_EVENTS"),
			PricingPath:   v.GetString("PRICING_CONFIG_PATH"),
		},

		Compose: ComposeConfig{
			MCPConfigPath:       v.GetString("MCP_CONFIG_PATH"),
			SystemPromptPath:    v.GetString("SYSTEM_PROMPT_CONFIG_PATH"),
			ExtractInstructions: v.GetBool("EXTRACT_INSTRUCTIONS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q", c.LogLevel)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("config: OPENAI_BASE_URL must not be empty")
	}
	switch c.Upstream.Mode {
	case "chat", "responses":
	default:
		return fmt.Errorf("config: invalid UPSTREAM_MODE %q (want chat or responses)", c.Upstream.Mode)
	}
	switch c.Router.Privacy {
	case "features", "summary", "full":
	default:
		return fmt.Errorf("config: invalid ROUTER_PRIVACY_MODE %q", c.Router.Privacy)
	}
	switch c.Keys.Store {
	case "", "redis", "memory":
	default:
		return fmt.Errorf("config: invalid KEY_STORE %q", c.Keys.Store)
	}
	if c.Keys.Store == "redis" && c.Keys.RedisURL == "" {
		return fmt.Errorf("config: KEY_STORE=redis requires KEY_REDIS_URL")
	}
	switch c.Analytics.Backend {
	case "", "jsonl", "redis", "clickhouse", "memory":
	default:
		return fmt.Errorf("config: invalid ANALYTICS_BACKEND %q", c.Analytics.Backend)
	}
	return nil
}

// Managed reports whether the gateway holds the provider key and validates
// its own issued tokens (managed mode) rather than forwarding the client's
// bearer (passthrough mode).
func (c *Config) Managed() bool {
	return c.Upstream.APIKey != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
