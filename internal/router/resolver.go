package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Cache states reported via the x-route-cache header.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// ErrUnavailable is returned under strict mode when the router rejects an
// alias and fallback is disabled.
var ErrUnavailable = errors.New("router: no upstream available for model")

// Defaults is the final fallback target when neither the router nor a prefix
// rule resolves a request.
type Defaults struct {
	BaseURL string
	Mode    string
	AuthEnv string
}

// Options configures a Resolver.
type Options struct {
	// Client is the remote router transport. Nil disables step 1.
	Client Client
	// Rules is the ordered prefix-rule table for step 2.
	Rules []PrefixRule
	// Defaults is the step-3 fallback. BaseURL must be set.
	Defaults Defaults
	// Strict surfaces router rejections instead of falling back.
	Strict bool
	// Privacy selects how much content rides in route requests.
	// One of features, summary, full. Default features.
	Privacy string
	// MaxTTL caps how long a router plan may be cached. Default 5m.
	MaxTTL time.Duration
	// HistoryTurns bounds content_messages in full privacy mode. Default 8.
	HistoryTurns int
	Logger       *slog.Logger
}

// Resolver picks the upstream plan for each request. Safe for concurrent use.
type Resolver struct {
	client  Client
	rules   []PrefixRule
	def     Defaults
	strict  bool
	privacy string
	maxTTL  time.Duration
	history int
	log     *slog.Logger

	mu     sync.RWMutex
	plans  map[string]cachedPlan
	sticky map[string]string // conversation id -> plan_token

	now func() time.Time
}

type cachedPlan struct {
	plan       *RoutePlan
	validUntil time.Time
}

// NewResolver creates a Resolver from opts.
func NewResolver(opts Options) *Resolver {
	if opts.Privacy == "" {
		opts.Privacy = PrivacyFeatures
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = 5 * time.Minute
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 8
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		client:  opts.Client,
		rules:   opts.Rules,
		def:     opts.Defaults,
		strict:  opts.Strict,
		privacy: opts.Privacy,
		maxTTL:  opts.MaxTTL,
		history: opts.HistoryTurns,
		log:     log,
		plans:   make(map[string]cachedPlan),
		sticky:  make(map[string]string),
		now:     time.Now,
	}
}

// SetRules swaps the prefix-rule table (used by /reload/routing).
func (r *Resolver) SetRules(rules []PrefixRule) {
	r.mu.Lock()
	r.rules = rules
	r.plans = make(map[string]cachedPlan)
	r.mu.Unlock()
}

// Input describes one request to resolve.
type Input struct {
	Model          string
	Surface        string
	Capabilities   Capabilities
	Temperature    *float64
	TokenEstimate  int
	LastUserText   string
	Turns          []Turn
	ConversationID string
	RequestID      string
}

// Resolve walks the three-step resolution chain. The returned cache state is
// one of hit/miss/stale ("" when the router was not consulted).
func (r *Resolver) Resolve(ctx context.Context, in Input) (*RoutePlan, string, error) {
	if r.client != nil {
		plan, state, err := r.resolveRemote(ctx, in)
		if err == nil {
			return plan, state, nil
		}
		if r.strict && errors.Is(err, ErrRejected) {
			return nil, state, ErrUnavailable
		}
		r.log.Debug("router_fallback",
			slog.String("model", in.Model),
			slog.String("error", err.Error()),
		)
		if plan, ok := r.resolveRules(in.Model); ok {
			return plan, state, nil
		}
		return r.resolveDefault(in.Model), state, nil
	}

	if plan, ok := r.resolveRules(in.Model); ok {
		return plan, "", nil
	}
	return r.resolveDefault(in.Model), "", nil
}

func (r *Resolver) resolveRemote(ctx context.Context, in Input) (*RoutePlan, string, error) {
	now := r.now()
	key := r.cacheKey(in)

	r.mu.RLock()
	cached, ok := r.plans[key]
	token := r.sticky[r.stickyKey(in)]
	r.mu.RUnlock()

	if ok && now.Before(cached.validUntil) {
		return cached.plan, CacheHit, nil
	}

	req := r.buildRouteRequest(in, token)
	plan, err := r.client.Route(ctx, req)
	if err != nil {
		// Serve a stale plan over a transport failure when one exists.
		if ok && !errors.Is(err, ErrRejected) {
			return cached.plan, CacheStale, nil
		}
		return nil, CacheMiss, err
	}

	r.mu.Lock()
	r.plans[key] = cachedPlan{plan: plan, validUntil: plan.validUntil(now, r.maxTTL)}
	if plan.Stickiness.PlanToken != "" {
		r.sticky[r.stickyKey(in)] = plan.Stickiness.PlanToken
	}
	r.mu.Unlock()

	return plan, CacheMiss, nil
}

func (r *Resolver) resolveRules(model string) (*RoutePlan, bool) {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	rule := MatchPrefixRule(rules, model)
	if rule == nil {
		return nil, false
	}
	return planFromRule(rule, model), true
}

func (r *Resolver) resolveDefault(model string) *RoutePlan {
	return &RoutePlan{
		BaseURL: r.def.BaseURL,
		Mode:    r.def.Mode,
		ModelID: model,
		AuthEnv: r.def.AuthEnv,
		RouteID: "default",
	}
}

func (r *Resolver) buildRouteRequest(in Input, token string) *RouteRequest {
	req := &RouteRequest{
		Alias:         in.Model,
		Surface:       in.Surface,
		Capabilities:  in.Capabilities,
		Temperature:   in.Temperature,
		TokenEstimate: in.TokenEstimate,
		ContentMode:   r.privacy,
		PlanToken:     token,
		RequestID:     in.RequestID,
	}
	switch r.privacy {
	case PrivacySummary:
		req.ContentSummary = summarize(in.LastUserText)
	case PrivacyFull:
		turns := in.Turns
		if len(turns) > r.history {
			turns = turns[len(turns)-r.history:]
		}
		req.ContentMessages = turns
	}
	return req
}

// Feedback submits outcome data to the router in a fire-and-forget task.
// Failures are logged and never affect the caller.
func (r *Resolver) Feedback(fb *RouteFeedback) {
	if r.client == nil || fb == nil || fb.RouteID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.client.Feedback(ctx, fb); err != nil {
			r.log.Debug("route_feedback_failed", slog.String("error", err.Error()))
		}
	}()
}

// Stats reports cache occupancy for /status.
func (r *Resolver) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]any{
		"cached_plans":      len(r.plans),
		"sticky_sessions":   len(r.sticky),
		"prefix_rules":      len(r.rules),
		"router_configured": r.client != nil,
		"strict":            r.strict,
		"privacy_mode":      r.privacy,
	}
}

// cacheKey keys cached plans by (alias, surface). The plan's freeze_key is
// opaque: it is not part of the key and the resolver never reads it.
func (r *Resolver) cacheKey(in Input) string {
	return in.Model + "|" + in.Surface
}

// stickyKey binds plan tokens to an explicit conversation when present,
// otherwise to the request id so retries of one request stay coherent.
func (r *Resolver) stickyKey(in Input) string {
	if in.ConversationID != "" {
		return in.ConversationID
	}
	return in.RequestID
}

// summarize produces the brief last-user-message digest shared under the
// summary privacy mode.
func summarize(text string) string {
	const max = 140
	if len(text) <= max {
		return text
	}
	return text[:max]
}
