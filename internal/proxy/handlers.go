package proxy

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/routiium/routiium/internal/analytics"
	"github.com/routiium/routiium/internal/convert"
	"github.com/routiium/routiium/internal/keys"
	"github.com/routiium/routiium/internal/router"
	"github.com/routiium/routiium/pkg/apierr"
	"github.com/valyala/fasthttp"
)

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}

// handleConvert serves POST /convert: chat in, responses out, no forward.
// Composition (prompt + MCP tools) is applied so the output matches what
// the proxy would send upstream.
func (g *Gateway) handleConvert(ctx *fasthttp.RequestCtx) {
	var req convert.ChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	if g.composer != nil {
		g.composer.ComposeChat(ctx, &req)
	}
	out, err := convert.ChatToResponses(&req, convert.RequestOptions{
		Conversation:        string(ctx.QueryArgs().Peek("conversation_id")),
		ExtractInstructions: g.cfg.Compose.ExtractInstructions,
	})
	if err != nil {
		writeConvertError(ctx, err)
		return
	}
	writeJSON(ctx, out)
}

// handleStatus serves GET /status: feature flags and routing stats.
func (g *Gateway) handleStatus(ctx *fasthttp.RequestCtx) {
	promptCfg := g.prompts.Current()

	status := map[string]any{
		"name":    "routiium",
		"version": g.version,
		"routes": []string{
			"/v1/chat/completions", "/v1/responses", "/convert", "/status",
			"/keys", "/keys/generate", "/keys/revoke", "/keys/set_expiration",
			"/reload/mcp", "/reload/system_prompt", "/reload/routing", "/reload/all",
			"/analytics/stats", "/analytics/events", "/analytics/aggregate",
			"/analytics/export", "/analytics/clear", "/metrics",
		},
		"routing": g.resolver.Stats(),
		"features": map[string]any{
			"managed_auth": g.cfg.Managed(),
			"mcp": map[string]any{
				"enabled":    g.mcp != nil && len(g.mcp.ServerNames()) > 0,
				"servers":    g.mcpServers(),
				"reloadable": g.mcp != nil && g.mcp.Path() != "",
			},
			"system_prompt": map[string]any{
				"enabled":        promptCfg.Enabled && (promptCfg.Global != "" || len(promptCfg.PerModel) > 0 || len(promptCfg.PerAPI) > 0),
				"injection_mode": promptCfg.InjectionMode,
				"reloadable":     g.prompts.Path() != "",
			},
			"analytics": map[string]any{
				"enabled": g.analytics != nil,
			},
		},
	}

	if g.analytics != nil {
		if stats, err := g.analytics.Stats(ctx); err == nil {
			status["features"].(map[string]any)["analytics"].(map[string]any)["stats"] = stats
		}
	}
	writeJSON(ctx, status)
}

func (g *Gateway) mcpServers() []string {
	if g.mcp == nil {
		return nil
	}
	return g.mcp.ServerNames()
}

// ── Key management ───────────────────────────────────────────────────────────

func (g *Gateway) handleListKeys(ctx *fasthttp.RequestCtx) {
	if g.keys == nil {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			"key manager unavailable", apierr.TypeInternal, apierr.CodeInternalError)
		return
	}
	metas, err := g.keys.List(ctx)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to list keys: "+err.Error())
		return
	}
	writeJSON(ctx, map[string]any{"keys": metas, "count": len(metas)})
}

func (g *Gateway) handleGenerateKey(ctx *fasthttp.RequestCtx) {
	if g.keys == nil {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			"key manager unavailable", apierr.TypeInternal, apierr.CodeInternalError)
		return
	}
	var req struct {
		Label      string   `json:"label"`
		TTLSeconds int64    `json:"ttl_seconds"`
		ExpiresAt  int64    `json:"expires_at"`
		Scopes     []string `json:"scopes"`
	}
	if len(ctx.PostBody()) > 0 {
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			apierr.WriteInvalidRequest(ctx, "invalid JSON: "+err.Error())
			return
		}
	}
	gen, err := g.keys.Generate(ctx, keys.GenerateInput{
		Label:      req.Label,
		TTLSeconds: req.TTLSeconds,
		ExpiresAt:  req.ExpiresAt,
		Scopes:     req.Scopes,
	})
	if err != nil {
		apierr.WriteInvalidRequest(ctx, err.Error())
		return
	}
	writeJSON(ctx, gen)
}

func (g *Gateway) handleRevokeKey(ctx *fasthttp.RequestCtx) {
	if g.keys == nil {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			"key manager unavailable", apierr.TypeInternal, apierr.CodeInternalError)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.ID == "" {
		apierr.WriteInvalidRequest(ctx, "body must be {\"id\": \"…\"}")
		return
	}
	ok, err := g.keys.Revoke(ctx, req.ID)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to revoke: "+err.Error())
		return
	}
	writeJSON(ctx, map[string]any{"revoked": ok, "id": req.ID})
}

func (g *Gateway) handleSetKeyExpiration(ctx *fasthttp.RequestCtx) {
	if g.keys == nil {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			"key manager unavailable", apierr.TypeInternal, apierr.CodeInternalError)
		return
	}
	var req struct {
		ID string `json:"id"`
		// Raw so an explicit null (clear the expiry) is distinguishable
		// from an absent field.
		ExpiresAt  json.RawMessage `json:"expires_at"`
		TTLSeconds int64           `json:"ttl_seconds"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.ID == "" {
		apierr.WriteInvalidRequest(ctx, "body must include \"id\"")
		return
	}

	var expiresAt int64
	switch {
	case len(req.ExpiresAt) > 0 && string(req.ExpiresAt) != "null":
		if err := json.Unmarshal(req.ExpiresAt, &expiresAt); err != nil {
			apierr.WriteInvalidRequest(ctx, "expires_at must be a unix timestamp or null")
			return
		}
	case len(req.ExpiresAt) > 0: // explicit null clears the expiry
	case req.TTLSeconds > 0:
		expiresAt = time.Now().Add(time.Duration(req.TTLSeconds) * time.Second).Unix()
	}

	ok, err := g.keys.SetExpiration(ctx, req.ID, expiresAt)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to set expiration: "+err.Error())
		return
	}
	writeJSON(ctx, map[string]any{"updated": ok, "id": req.ID, "expires_at": expiresAt})
}

// ── Reload ───────────────────────────────────────────────────────────────────

func (g *Gateway) handleReloadMCP(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"mcp": g.reloadMCP(ctx)})
}

func (g *Gateway) handleReloadSystemPrompt(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"system_prompt": g.reloadSystemPrompt()})
}

func (g *Gateway) handleReloadRouting(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"routing": g.reloadRouting()})
}

func (g *Gateway) handleReloadAll(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"mcp":           g.reloadMCP(ctx),
		"system_prompt": g.reloadSystemPrompt(),
		"routing":       g.reloadRouting(),
	})
}

func (g *Gateway) reloadMCP(ctx *fasthttp.RequestCtx) map[string]any {
	if g.mcp == nil || g.mcp.Path() == "" {
		return map[string]any{"success": false, "message": "no MCP config path configured"}
	}
	servers, err := g.mcp.Reload(ctx)
	if err != nil {
		return map[string]any{"success": false, "message": err.Error()}
	}
	return map[string]any{
		"success": true,
		"message": "MCP configuration reloaded",
		"servers": servers,
		"count":   len(servers),
	}
}

func (g *Gateway) reloadSystemPrompt() map[string]any {
	if g.prompts.Path() == "" {
		return map[string]any{"success": false, "message": "no system prompt config path configured"}
	}
	cfg, err := g.prompts.Reload()
	if err != nil {
		return map[string]any{"success": false, "message": err.Error()}
	}
	return map[string]any{
		"success":         true,
		"message":         "system prompt configuration reloaded",
		"enabled":         cfg.Enabled,
		"has_global":      cfg.Global != "",
		"per_model_count": len(cfg.PerModel),
		"per_api_count":   len(cfg.PerAPI),
		"injection_mode":  cfg.InjectionMode,
	}
}

func (g *Gateway) reloadRouting() map[string]any {
	rules := router.ParsePrefixRules(g.cfg.Router.PrefixRules)
	g.resolver.SetRules(rules)
	return map[string]any{
		"success": true,
		"message": "routing rules reloaded, plan cache flushed",
		"rules":   len(rules),
	}
}

// ── Analytics ────────────────────────────────────────────────────────────────

func (g *Gateway) analyticsUnavailable(ctx *fasthttp.RequestCtx) bool {
	if g.analytics == nil {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			"analytics not enabled", apierr.TypeInternal, apierr.CodeInternalError)
		return true
	}
	return false
}

func (g *Gateway) handleAnalyticsStats(ctx *fasthttp.RequestCtx) {
	if g.analyticsUnavailable(ctx) {
		return
	}
	stats, err := g.analytics.Stats(ctx)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to get analytics stats: "+err.Error())
		return
	}
	writeJSON(ctx, stats)
}

// timeWindow parses ?start and ?end (unix seconds), defaulting to the last
// hour.
func timeWindow(ctx *fasthttp.RequestCtx) (int64, int64) {
	now := time.Now().Unix()
	start := now - 3600
	end := now
	if v, err := strconv.ParseInt(string(ctx.QueryArgs().Peek("start")), 10, 64); err == nil {
		start = v
	}
	if v, err := strconv.ParseInt(string(ctx.QueryArgs().Peek("end")), 10, 64); err == nil {
		end = v
	}
	return start, end
}

func (g *Gateway) handleAnalyticsEvents(ctx *fasthttp.RequestCtx) {
	if g.analyticsUnavailable(ctx) {
		return
	}
	start, end := timeWindow(ctx)
	limit, _ := strconv.Atoi(string(ctx.QueryArgs().Peek("limit")))

	events, err := g.analytics.Query(ctx, start, end, limit)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to query events: "+err.Error())
		return
	}
	writeJSON(ctx, map[string]any{
		"events": events,
		"count":  len(events),
		"start":  start,
		"end":    end,
	})
}

func (g *Gateway) handleAnalyticsAggregate(ctx *fasthttp.RequestCtx) {
	if g.analyticsUnavailable(ctx) {
		return
	}
	start, end := timeWindow(ctx)
	agg, err := g.analytics.Aggregate(ctx, start, end)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to aggregate: "+err.Error())
		return
	}
	writeJSON(ctx, agg)
}

func (g *Gateway) handleAnalyticsExport(ctx *fasthttp.RequestCtx) {
	if g.analyticsUnavailable(ctx) {
		return
	}
	start, end := timeWindow(ctx)
	events, err := g.analytics.Query(ctx, start, end, 0)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to export: "+err.Error())
		return
	}

	switch string(ctx.QueryArgs().Peek("format")) {
	case "", "json":
		data, err := analytics.ExportJSON(events)
		if err != nil {
			apierr.WriteInternal(ctx, err.Error())
			return
		}
		ctx.SetContentType("application/json")
		ctx.Response.Header.Set("Content-Disposition", "attachment; filename=analytics.json")
		ctx.SetBody(data)
	case "csv":
		data, err := analytics.ExportCSV(events)
		if err != nil {
			apierr.WriteInternal(ctx, err.Error())
			return
		}
		ctx.SetContentType("text/csv")
		ctx.Response.Header.Set("Content-Disposition", "attachment; filename=analytics.csv")
		ctx.SetBody(data)
	default:
		apierr.WriteInvalidRequest(ctx, "format must be json or csv")
	}
}

func (g *Gateway) handleAnalyticsClear(ctx *fasthttp.RequestCtx) {
	if g.analyticsUnavailable(ctx) {
		return
	}
	if err := g.analytics.Clear(ctx); err != nil {
		apierr.WriteInternal(ctx, "failed to clear: "+err.Error())
		return
	}
	writeJSON(ctx, map[string]any{"cleared": true})
}
