// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initKeys      — managed-token store (Redis when configured)
//  2. initAnalytics — analytics backend + pricing + async pipeline
//  3. initCompose   — system prompt store + MCP manager
//  4. initGateway   — resolver, metrics, proxy
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/routiium/routiium/internal/analytics"
	"github.com/routiium/routiium/internal/compose"
	"github.com/routiium/routiium/internal/config"
	"github.com/routiium/routiium/internal/keys"
	"github.com/routiium/routiium/internal/mcp"
	"github.com/routiium/routiium/internal/metrics"
	"github.com/routiium/routiium/internal/prompt"
	"github.com/routiium/routiium/internal/proxy"
	"github.com/routiium/routiium/internal/router"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	keyManager *keys.Manager
	analytics  *analytics.Manager
	prompts    *prompt.Store
	mcpManager *mcp.Manager
	resolver   *router.Resolver
	prom       *metrics.Registry
	gw         *proxy.Gateway

	// MCPDialer establishes MCP server connections. Nil leaves federation
	// configured but inert (no servers connect).
	MCPDialer mcp.Dialer
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"keys", a.initKeys},
		{"analytics", a.initAnalytics},
		{"compose", a.initCompose},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}
	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("upstream", a.cfg.Upstream.BaseURL),
		slog.String("upstream_mode", a.cfg.Upstream.Mode),
		slog.Bool("managed_auth", a.cfg.Managed()),
		slog.Bool("router", a.cfg.Router.URL != ""),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.Start(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources. Idempotent.
func (a *App) Close() {
	if a.mcpManager != nil {
		a.mcpManager.Close()
		a.mcpManager = nil
	}
	if a.analytics != nil {
		if err := a.analytics.Close(); err != nil {
			a.log.Warn("analytics_close_failed", slog.String("error", err.Error()))
		}
		a.analytics = nil
	}
	if a.keyManager != nil {
		if err := a.keyManager.Close(); err != nil {
			a.log.Warn("keys_close_failed", slog.String("error", err.Error()))
		}
		a.keyManager = nil
	}
}

func (a *App) initKeys(ctx context.Context) error {
	if !a.cfg.Managed() {
		a.log.Info("passthrough mode: client bearers forwarded, key manager disabled")
		return nil
	}

	var store keys.Store
	switch {
	case a.cfg.Keys.Store == "redis" || (a.cfg.Keys.Store == "" && a.cfg.Keys.RedisURL != ""):
		s, err := keys.NewRedisStore(ctx, a.cfg.Keys.RedisURL)
		if err != nil {
			return err
		}
		store = s
		a.log.Info("key store: redis")
	default:
		store = keys.NewMemoryStore()
		a.log.Info("key store: memory")
	}

	a.keyManager = keys.NewManager(store, keys.Policy{
		RequireExpiration: a.cfg.Keys.RequireExpiration,
		AllowNoExpiration: a.cfg.Keys.AllowNoExpiration,
		DefaultTTL:        a.cfg.Keys.DefaultTTL,
	})

	// Prune long-expired keys in the background.
	km := a.keyManager
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-a.baseCtx.Done():
				return
			case <-ticker.C:
				if n, err := km.DeleteExpired(a.baseCtx); err == nil && n > 0 {
					a.log.Info("pruned expired keys", slog.Int("count", n))
				}
			}
		}
	}()
	return nil
}

func (a *App) initAnalytics(ctx context.Context) error {
	backend, name, err := a.pickAnalyticsBackend(ctx)
	if err != nil {
		return err
	}
	a.log.Info("analytics backend: " + name)

	pricing := analytics.DefaultPricing()
	if path := a.cfg.Analytics.PricingPath; path != "" {
		loaded, err := analytics.LoadPricingFile(path)
		if err != nil {
			return err
		}
		pricing = loaded
	}

	a.analytics = analytics.NewManager(a.baseCtx, backend, pricing, a.log)
	return nil
}

func (a *App) pickAnalyticsBackend(ctx context.Context) (analytics.Backend, string, error) {
	cfg := a.cfg.Analytics
	selected := cfg.Backend
	if selected == "" {
		switch {
		case cfg.RedisURL != "":
			selected = "redis"
		case cfg.ClickHouseDSN != "":
			selected = "clickhouse"
		default:
			selected = "jsonl"
		}
	}

	switch selected {
	case "redis":
		b, err := analytics.NewRedisBackend(ctx, cfg.RedisURL, cfg.TTL)
		return b, "redis", err
	case "clickhouse":
		b, err := analytics.NewClickHouseBackend(ctx, cfg.ClickHouseDSN)
		return b, "clickhouse", err
	case "memory":
		return analytics.NewMemoryBackend(cfg.MaxEvents), "memory", nil
	default:
		b, err := analytics.NewJSONLBackend(cfg.JSONLPath)
		if err != nil {
			// A read-only filesystem should not keep the gateway down.
			a.log.Warn("jsonl backend unavailable, falling back to memory",
				slog.String("error", err.Error()))
			return analytics.NewMemoryBackend(cfg.MaxEvents), "memory", nil
		}
		return b, "jsonl", nil
	}
}

func (a *App) initCompose(ctx context.Context) error {
	promptCfg := prompt.Empty()
	if path := a.cfg.Compose.SystemPromptPath; path != "" {
		loaded, err := prompt.LoadFile(path)
		if err != nil {
			return err
		}
		promptCfg = loaded
	}
	a.prompts = prompt.NewStore(promptCfg, a.cfg.Compose.SystemPromptPath)

	if path := a.cfg.Compose.MCPConfigPath; path != "" {
		mcpCfg, err := mcp.LoadFile(path)
		if err != nil {
			return err
		}
		dial := a.MCPDialer
		if dial == nil {
			dial = func(context.Context, string, mcp.ServerConfig) (mcp.Conn, error) {
				return nil, fmt.Errorf("mcp: no dialer configured")
			}
		}
		a.mcpManager = mcp.NewManager(ctx, mcpCfg, path, dial, a.log)
	}
	return nil
}

func (a *App) initGateway(_ context.Context) error {
	var client router.Client
	if a.cfg.Router.URL != "" {
		client = router.NewHTTPClient(a.cfg.Router.URL, nil, a.cfg.Router.Timeout)
	}

	a.resolver = router.NewResolver(router.Options{
		Client:   client,
		Rules:    router.ParsePrefixRules(a.cfg.Router.PrefixRules),
		Defaults: router.Defaults{
			BaseURL: a.cfg.Upstream.BaseURL,
			Mode:    a.cfg.Upstream.Mode,
			AuthEnv: "OPENAI_API_KEY",
		},
		Strict:  a.cfg.Router.Strict,
		Privacy: a.cfg.Router.Privacy,
		MaxTTL:  a.cfg.Router.PlanCacheMaxTTL,
		Logger:  a.log,
	})

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	a.gw = proxy.NewGateway(a.baseCtx, proxy.Options{
		Config:    a.cfg,
		Resolver:  a.resolver,
		Composer:  compose.New(a.prompts, a.mcpManager),
		Prompts:   a.prompts,
		MCP:       a.mcpManager,
		Keys:      a.keyManager,
		Analytics: a.analytics,
		Metrics:   a.prom,
		Logger:    a.log,
		Version:   a.version,
	})
	return nil
}

// NewLogger builds the process-wide JSON logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
