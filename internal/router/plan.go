// Package router resolves the upstream plan for a request: a remote policy
// router with a TTL plan cache and stickiness, falling back to an ordered
// prefix-rule table, falling back to the configured default upstream.
package router

import "time"

// Upstream API surfaces.
const (
	ModeChat      = "chat"
	ModeResponses = "responses"
)

// Privacy modes controlling how much request content is shared with the
// remote router.
const (
	PrivacyFeatures = "features"
	PrivacySummary  = "summary"
	PrivacyFull     = "full"
)

// RoutePlan is the resolved upstream target and policy for one request.
type RoutePlan struct {
	SchemaVersion string            `json:"schema_version,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	BaseURL       string            `json:"base_url"`
	Mode          string            `json:"mode"`
	ModelID       string            `json:"model_id"`
	AuthEnv       string            `json:"auth_env,omitempty"`
	ExtraHeaders  map[string]string `json:"extra_headers,omitempty"`
	Cache         PlanCache         `json:"cache,omitempty"`
	Stickiness    PlanStickiness    `json:"stickiness,omitempty"`
	PolicyRev     string            `json:"policy_rev,omitempty"`
	ContentUsed   string            `json:"content_used,omitempty"`
	RouteID       string            `json:"route_id,omitempty"`
}

// PlanCache carries the router's caching directives for a plan.
type PlanCache struct {
	TTLMs      int64  `json:"ttl_ms,omitempty"`
	ValidUntil int64  `json:"valid_until,omitempty"`
	FreezeKey  string `json:"freeze_key,omitempty"`
}

// PlanStickiness carries the opaque token binding follow-up requests in a
// conversation to this plan.
type PlanStickiness struct {
	PlanToken string `json:"plan_token,omitempty"`
}

// Valid reports whether the plan satisfies the required-field invariants.
func (p *RoutePlan) Valid() bool {
	return p != nil && p.BaseURL != "" && p.ModelID != "" &&
		(p.Mode == ModeChat || p.Mode == ModeResponses)
}

// validUntil returns the wall-clock expiry of a cached plan, clamped to
// maxTTL from now.
func (p *RoutePlan) validUntil(now time.Time, maxTTL time.Duration) time.Time {
	until := now.Add(maxTTL)
	if p.Cache.ValidUntil > 0 {
		if t := time.UnixMilli(p.Cache.ValidUntil); t.Before(until) {
			until = t
		}
	} else if p.Cache.TTLMs > 0 {
		if t := now.Add(time.Duration(p.Cache.TTLMs) * time.Millisecond); t.Before(until) {
			until = t
		}
	}
	return until
}

// Capabilities describes what the request needs from an upstream.
type Capabilities struct {
	Text      bool `json:"text"`
	Tools     bool `json:"tools,omitempty"`
	Vision    bool `json:"vision,omitempty"`
	JSONMode  bool `json:"json_mode,omitempty"`
	Streaming bool `json:"streaming,omitempty"`
}

// RouteRequest is the payload sent to the remote router.
type RouteRequest struct {
	Alias           string       `json:"alias"`
	Surface         string       `json:"surface"`
	Capabilities    Capabilities `json:"capabilities"`
	Temperature     *float64     `json:"temperature,omitempty"`
	TokenEstimate   int          `json:"token_estimate,omitempty"`
	ContentMode     string       `json:"content_mode"`
	ContentSummary  string       `json:"content_summary,omitempty"`
	ContentMessages []Turn       `json:"content_messages,omitempty"`
	PlanToken       string       `json:"plan_token,omitempty"`
	RequestID       string       `json:"request_id,omitempty"`
}

// Turn is one conversation turn shared with the router in full privacy mode.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// RouteFeedback reports request outcome back to the router, fire-and-forget.
type RouteFeedback struct {
	RouteID      string `json:"route_id"`
	RequestID    string `json:"request_id,omitempty"`
	Status       int    `json:"status"`
	LatencyMs    int64  `json:"latency_ms"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}
