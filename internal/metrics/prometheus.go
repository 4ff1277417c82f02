// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	inFlight          prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpReqSize       *prometheus.HistogramVec
	httpRespSize      *prometheus.HistogramVec

	upstreamDuration *prometheus.HistogramVec
	routeCacheTotal  *prometheus.CounterVec
	conversionsTotal *prometheus.CounterVec
	sseEventsTotal   *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	analyticsDropped prometheus.Counter
	buildInfo        *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "End-to-end request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		httpReqSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_size_bytes",
				Help:    "Request body size",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"route"},
		),

		httpRespSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_response_size_bytes",
				Help:    "Response body size for buffered responses",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"route"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Upstream call duration by backend and mode",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "mode", "outcome"},
		),

		routeCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_route_cache_total",
				Help: "Router plan cache lookups by state (hit, miss, stale)",
			},
			[]string{"state"},
		),

		conversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_conversions_total",
				Help: "Payload conversions between client surface and upstream mode",
			},
			[]string{"from", "to"},
		),

		sseEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_sse_events_total",
				Help: "SSE frames forwarded to clients, by bridge direction",
			},
			[]string{"bridge"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Upstream-reported token usage",
			},
			[]string{"model", "direction"},
		),

		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_failures_total",
				Help: "Rejected managed-auth attempts by reason",
			},
			[]string{"reason"},
		),

		analyticsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_analytics_dropped_total",
			Help: "Analytics events dropped on backpressure",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight, r.httpRequestsTotal, r.httpDuration, r.httpReqSize,
		r.httpRespSize, r.upstreamDuration, r.routeCacheTotal,
		r.conversionsTotal, r.sseEventsTotal, r.tokensTotal, r.authFailures,
		r.analyticsDropped, r.buildInfo,
	)

	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
	return r
}

// Handler returns the fasthttp /metrics handler.
func (r *Registry) Handler() fasthttp.RequestHandler { return r.metricsHandler }

// SetBuildInfo records the running version.
func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records one finished request. respBytes < 0 (streamed) skips
// the size histogram.
func (r *Registry) ObserveHTTP(route string, status int, dur time.Duration, reqBytes, respBytes int) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	r.httpReqSize.WithLabelValues(route).Observe(float64(reqBytes))
	if respBytes >= 0 {
		r.httpRespSize.WithLabelValues(route).Observe(float64(respBytes))
	}
}

// ObserveUpstream records one upstream attempt.
func (r *Registry) ObserveUpstream(backend, mode, outcome string, dur time.Duration) {
	r.upstreamDuration.WithLabelValues(backend, mode, outcome).Observe(dur.Seconds())
}

// RecordRouteCache counts a plan-cache lookup outcome.
func (r *Registry) RecordRouteCache(state string) {
	if state == "" {
		return
	}
	r.routeCacheTotal.WithLabelValues(state).Inc()
}

// RecordConversion counts a cross-surface payload conversion.
func (r *Registry) RecordConversion(from, to string) {
	r.conversionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSSEEvent counts one forwarded SSE frame. bridge is "passthrough",
// "responses_to_chat" or "chat_to_responses".
func (r *Registry) RecordSSEEvent(bridge string) {
	r.sseEventsTotal.WithLabelValues(bridge).Inc()
}

// AddTokens records upstream-reported usage.
func (r *Registry) AddTokens(model string, input, output int) {
	if input > 0 {
		r.tokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		r.tokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
}

// RecordAuthFailure counts a rejected managed-auth attempt.
func (r *Registry) RecordAuthFailure(reason string) {
	r.authFailures.WithLabelValues(reason).Inc()
}

// RecordAnalyticsDropped counts analytics events lost to backpressure.
func (r *Registry) RecordAnalyticsDropped() { r.analyticsDropped.Inc() }
