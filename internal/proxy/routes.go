package proxy

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// Handler builds the complete fasthttp handler: proxy surfaces, management
// surfaces behind the network ACL, and the middleware chain.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions", g.handleChat)
	r.POST("/v1/responses", g.handleResponses)
	r.POST("/convert", g.handleConvert)
	r.GET("/status", g.handleStatus)

	acl := newAdminACL(g.cfg.AdminCIDRs, g.log)
	r.GET("/keys", acl.guard(g.handleListKeys))
	r.POST("/keys/generate", acl.guard(g.handleGenerateKey))
	r.POST("/keys/revoke", acl.guard(g.handleRevokeKey))
	r.POST("/keys/set_expiration", acl.guard(g.handleSetKeyExpiration))

	r.POST("/reload/mcp", acl.guard(g.handleReloadMCP))
	r.POST("/reload/system_prompt", acl.guard(g.handleReloadSystemPrompt))
	r.POST("/reload/routing", acl.guard(g.handleReloadRouting))
	r.POST("/reload/all", acl.guard(g.handleReloadAll))

	r.GET("/analytics/stats", acl.guard(g.handleAnalyticsStats))
	r.GET("/analytics/events", acl.guard(g.handleAnalyticsEvents))
	r.GET("/analytics/aggregate", acl.guard(g.handleAnalyticsAggregate))
	r.GET("/analytics/export", acl.guard(g.handleAnalyticsExport))
	r.POST("/analytics/clear", acl.guard(g.handleAnalyticsClear))

	if g.metrics != nil {
		r.GET("/metrics", acl.guard(g.metrics.Handler()))
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.cfg.CORSOrigins),
		securityHeaders,
	)
}

// Start starts the HTTP server on addr (e.g. ":8088") and blocks.
func (g *Gateway) Start(addr string) error {
	srv := &fasthttp.Server{
		Handler:            g.Handler(),
		ReadTimeout: 60 * time.Second,
		// Keep-alive comments reset the write deadline on idle streams.
		WriteTimeout:       60 * time.Second,
		MaxRequestBodySize: 64 << 20,
	}
	return srv.ListenAndServe(addr)
}
