// Package analytics captures the full request lifecycle as append-only
// events with cost attribution, written to a pluggable storage backend.
//
// Appends never block the request path: events go through a buffered
// channel drained by a background goroutine, and are dropped (counted) on
// backpressure.
package analytics

// Event captures everything observable about one request.
type Event struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Request   RequestMeta `json:"request"`
	Response  ResponseMeta `json:"response"`
	Performance PerformanceMeta `json:"performance"`
	Auth    AuthMeta    `json:"auth"`
	Routing RoutingMeta `json:"routing"`
	Usage   *Usage      `json:"usage,omitempty"`
	Cost    *Cost       `json:"cost,omitempty"`
}

// RequestMeta describes the inbound request.
type RequestMeta struct {
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	Model        string `json:"model,omitempty"`
	Stream       bool   `json:"stream"`
	SizeBytes    int    `json:"size_bytes"`
	MessageCount int    `json:"message_count,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	ClientIP     string `json:"client_ip,omitempty"`
}

// ResponseMeta describes the outcome.
type ResponseMeta struct {
	Status       int    `json:"status"`
	SizeBytes    int    `json:"size_bytes"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// PerformanceMeta carries timing measurements in milliseconds.
type PerformanceMeta struct {
	DurationMs int64 `json:"duration_ms"`
	TTFBMs     int64 `json:"ttfb_ms,omitempty"`
	UpstreamMs int64 `json:"upstream_ms,omitempty"`
}

// AuthMeta describes how the request authenticated.
type AuthMeta struct {
	Authenticated bool   `json:"authenticated"`
	KeyID         string `json:"key_id,omitempty"`
	KeyLabel      string `json:"key_label,omitempty"`
	Method        string `json:"method,omitempty"`
}

// RoutingMeta describes where the request went.
type RoutingMeta struct {
	Backend             string   `json:"backend"`
	UpstreamMode        string   `json:"upstream_mode"`
	MCPEnabled          bool     `json:"mcp_enabled"`
	MCPServers          []string `json:"mcp_servers,omitempty"`
	SystemPromptApplied bool     `json:"system_prompt_applied"`
}

// Usage is the upstream-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

// Cost is the computed cost attribution in integer micro-dollars (1e-6 USD)
// so aggregation stays exact.
type Cost struct {
	InputMicros  int64 `json:"input"`
	OutputMicros int64 `json:"output"`
	CachedMicros int64 `json:"cached"`
	TotalMicros  int64 `json:"total"`
}

// Aggregation summarizes a time window of events.
type Aggregation struct {
	TotalRequests       int64            `json:"total_requests"`
	SuccessfulRequests  int64            `json:"successful_requests"`
	FailedRequests      int64            `json:"failed_requests"`
	TotalInputTokens    int64            `json:"total_input_tokens"`
	TotalOutputTokens   int64            `json:"total_output_tokens"`
	TotalCachedTokens   int64            `json:"total_cached_tokens"`
	TotalReasoningTokens int64           `json:"total_reasoning_tokens"`
	AvgDurationMs       float64          `json:"avg_duration_ms"`
	TotalCostMicros     int64            `json:"total_cost_micros"`
	CostByModelMicros   map[string]int64 `json:"cost_by_model_micros"`
	ModelsUsed          map[string]int64 `json:"models_used"`
	EndpointsHit        map[string]int64 `json:"endpoints_hit"`
	BackendsUsed        map[string]int64 `json:"backends_used"`
	PeriodStart         int64            `json:"period_start"`
	PeriodEnd           int64            `json:"period_end"`
}

// Aggregate folds events into an Aggregation.
func Aggregate(events []*Event, start, end int64) *Aggregation {
	agg := &Aggregation{
		CostByModelMicros: make(map[string]int64),
		ModelsUsed:        make(map[string]int64),
		EndpointsHit:      make(map[string]int64),
		BackendsUsed:      make(map[string]int64),
		PeriodStart:       start,
		PeriodEnd:         end,
	}
	var totalDuration int64
	for _, e := range events {
		agg.TotalRequests++
		if e.Response.Success {
			agg.SuccessfulRequests++
		} else {
			agg.FailedRequests++
		}
		if e.Usage != nil {
			agg.TotalInputTokens += int64(e.Usage.PromptTokens)
			agg.TotalOutputTokens += int64(e.Usage.CompletionTokens)
			agg.TotalCachedTokens += int64(e.Usage.CachedTokens)
			agg.TotalReasoningTokens += int64(e.Usage.ReasoningTokens)
		}
		if e.Cost != nil {
			agg.TotalCostMicros += e.Cost.TotalMicros
			if e.Request.Model != "" {
				agg.CostByModelMicros[e.Request.Model] += e.Cost.TotalMicros
			}
		}
		if e.Request.Model != "" {
			agg.ModelsUsed[e.Request.Model]++
		}
		agg.EndpointsHit[e.Request.Endpoint]++
		if e.Routing.Backend != "" {
			agg.BackendsUsed[e.Routing.Backend]++
		}
		totalDuration += e.Performance.DurationMs
	}
	if agg.TotalRequests > 0 {
		agg.AvgDurationMs = float64(totalDuration) / float64(agg.TotalRequests)
	}
	return agg
}
