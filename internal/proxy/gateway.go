// Package proxy is the core request dispatcher.
//
// The Gateway receives an OpenAI-compatible request on either surface
// (/v1/chat/completions or /v1/responses), authenticates it, composes the
// system prompt and MCP tools into the payload, resolves the upstream plan,
// converts the payload to the upstream's mode when it differs from the
// client surface, forwards it, and reshapes the response (buffered or SSE)
// back to the client's surface.
//
// Key design constraints:
//   - Exactly-once upstream semantics: the gateway never retries LLM calls.
//   - Analytics and route feedback are asynchronous and never fail a request.
//   - All I/O uses context.Context so timeouts and cancellation propagate.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/routiium/routiium/internal/analytics"
	"github.com/routiium/routiium/internal/compose"
	"github.com/routiium/routiium/internal/config"
	"github.com/routiium/routiium/internal/convert"
	"github.com/routiium/routiium/internal/keys"
	"github.com/routiium/routiium/internal/mcp"
	"github.com/routiium/routiium/internal/metrics"
	"github.com/routiium/routiium/internal/prompt"
	"github.com/routiium/routiium/internal/router"
	"github.com/routiium/routiium/pkg/apierr"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

// Options holds the Gateway's injected dependencies. Analytics, Metrics,
// MCP, Prompts and Keys are optional and nil-safe.
type Options struct {
	Config    *config.Config
	Resolver  *router.Resolver
	Composer  *compose.Composer
	Prompts   *prompt.Store
	MCP       *mcp.Manager
	Keys      *keys.Manager
	Analytics *analytics.Manager
	Metrics   *metrics.Registry
	Logger    *slog.Logger
	Version   string
	// HTTPClient overrides the shared upstream client (tests).
	HTTPClient *http.Client
}

// Gateway is the per-request orchestrator. All dependencies are injected so
// they can be replaced with doubles in unit tests.
type Gateway struct {
	cfg       *config.Config
	resolver  *router.Resolver
	composer  *compose.Composer
	prompts   *prompt.Store
	mcp       *mcp.Manager
	keys      *keys.Manager
	analytics *analytics.Manager
	metrics   *metrics.Registry
	http      *http.Client
	log       *slog.Logger
	version   string
	baseCtx   context.Context
}

// NewGateway creates a fully wired Gateway.
func NewGateway(baseCtx context.Context, opts Options) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newUpstreamClient(opts.Config.Upstream.Timeout)
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.NewStore(prompt.Empty(), "")
	}
	return &Gateway{
		cfg:       opts.Config,
		resolver:  opts.Resolver,
		composer:  opts.Composer,
		prompts:   opts.Prompts,
		mcp:       opts.MCP,
		keys:      opts.Keys,
		analytics: opts.Analytics,
		metrics:   opts.Metrics,
		http:      httpClient,
		log:       log,
		version:   opts.Version,
		baseCtx:   baseCtx,
	}
}

// newUpstreamClient builds the single shared upstream HTTP client:
// keep-alive pool, HTTP/2 via ALPN, proxy environment honored.
func newUpstreamClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// inbound is the parsed, surface-tagged client request.
type inbound struct {
	surface string
	chat    *convert.ChatRequest
	resp    *convert.ResponsesRequest

	model          string
	stream         bool
	messageCount   int
	temperature    *float64
	conversationID string
	tokenEstimate  int
}

func (in *inbound) capabilities() router.Capabilities {
	caps := router.Capabilities{Text: true, Streaming: in.stream}
	if in.chat != nil {
		caps.Tools = len(in.chat.Tools) > 0
		caps.JSONMode = len(in.chat.ResponseFormat) > 0
		for _, m := range in.chat.Messages {
			if bytes.Contains(m.Content, []byte(`"image_url"`)) {
				caps.Vision = true
				break
			}
		}
	} else {
		caps.Tools = len(in.resp.Tools) > 0
		caps.JSONMode = len(in.resp.ResponseFormat) > 0
		for _, item := range in.resp.Input {
			for _, p := range item.Content {
				if p.Type == convert.PartInputImage {
					caps.Vision = true
				}
			}
		}
	}
	return caps
}

// turns flattens the conversation into router-visible turns for the full
// privacy mode; lastUser is the summary-mode source.
func (in *inbound) turns() (turns []router.Turn, lastUser string) {
	appendTurn := func(role, text string) {
		if text == "" {
			return
		}
		turns = append(turns, router.Turn{Role: role, Text: text})
		if role == convert.RoleUser {
			lastUser = text
		}
	}
	if in.chat != nil {
		for _, m := range in.chat.Messages {
			var s string
			if json.Unmarshal(m.Content, &s) == nil {
				appendTurn(m.Role, s)
			}
		}
		return turns, lastUser
	}
	for _, item := range in.resp.Input {
		var parts []string
		for _, p := range item.Content {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		appendTurn(item.Role, strings.Join(parts, "\n"))
	}
	return turns, lastUser
}

// handleChat serves POST /v1/chat/completions.
func (g *Gateway) handleChat(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, router.ModeChat)
}

// handleResponses serves POST /v1/responses.
func (g *Gateway) handleResponses(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, router.ModeResponses)
}

// dispatch runs the full pipeline for one request.
func (g *Gateway) dispatch(ctx *fasthttp.RequestCtx, surface string) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}

	event := g.newEvent(ctx)
	streaming := false
	defer func() {
		if streaming {
			return // finalised by the stream writer
		}
		g.finishEvent(ctx, event, start, len(ctx.Response.Body()))
	}()

	// 1. Parse.
	in, err := parseInbound(ctx.PostBody(), surface, string(ctx.QueryArgs().Peek("conversation_id")))
	if err != nil {
		writeConvertError(ctx, err)
		return
	}
	event.Request.Model = in.model
	event.Request.Stream = in.stream
	event.Request.MessageCount = in.messageCount

	// 2. Auth.
	if !g.authenticate(ctx, event) {
		return
	}

	// 3. Compose prompt + MCP tools.
	var comp compose.Result
	if g.composer != nil {
		if in.chat != nil {
			comp = g.composer.ComposeChat(ctx, in.chat)
		} else {
			comp = g.composer.ComposeResponses(ctx, in.resp)
		}
	}
	event.Routing.MCPEnabled = comp.MCPEnabled
	event.Routing.MCPServers = comp.MCPServers
	event.Routing.SystemPromptApplied = comp.PromptApplied

	// 4. Resolve the upstream plan.
	turns, lastUser := in.turns()
	plan, cacheState, err := g.resolver.Resolve(ctx, router.Input{
		Model:          in.model,
		Surface:        surface,
		Capabilities:   in.capabilities(),
		Temperature:    in.temperature,
		TokenEstimate:  in.tokenEstimate,
		LastUserText:   lastUser,
		Turns:          turns,
		ConversationID: in.conversationID,
		RequestID:      reqID,
	})
	if g.metrics != nil {
		g.metrics.RecordRouteCache(cacheState)
	}
	if err != nil {
		if errors.Is(err, router.ErrUnavailable) {
			apierr.WriteUpstreamUnavailable(ctx, fmt.Sprintf("no upstream available for model %q", in.model))
		} else {
			apierr.WriteInternal(ctx, "route resolution failed")
		}
		return
	}
	setPlanHeaders(ctx, plan, cacheState)
	event.Routing.Backend = plan.RouteID
	event.Routing.UpstreamMode = plan.Mode

	// 5. Convert to the upstream mode and substitute the resolved model.
	body, err := g.outboundBody(in, plan)
	if err != nil {
		writeConvertError(ctx, err)
		return
	}

	// 6. Forward.
	upstreamCtx, cancel := context.WithTimeout(g.baseCtx, g.cfg.Upstream.Timeout)
	upStart := time.Now()
	resp, err := g.forward(upstreamCtx, plan, body, in.stream, ctx)
	if err != nil {
		cancel()
		g.observeUpstream(plan, "error", time.Since(upStart))
		g.log.Error("upstream_error",
			slog.String("request_id", reqID),
			slog.String("backend", plan.RouteID),
			slog.String("error", err.Error()),
		)
		event.Response.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			apierr.WriteTimeout(ctx)
		} else {
			apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(),
				apierr.TypeUpstreamUnavailable, apierr.CodeUpstreamUnavailable)
		}
		return
	}
	g.observeUpstream(plan, outcomeFor(resp.StatusCode), time.Since(upStart))
	event.Performance.UpstreamMs = time.Since(upStart).Milliseconds()

	// 7a. Streaming.
	if in.stream && resp.StatusCode == fasthttp.StatusOK {
		streaming = true
		g.writeStream(ctx, streamContext{
			upstream:  resp,
			cancel:    cancel,
			surface:   surface,
			mode:      plan.Mode,
			model:     in.model,
			plan:      plan,
			event:     event,
			start:     start,
			requestID: reqID,
		})
		return
	}

	// 7b. Buffered.
	defer cancel()
	defer resp.Body.Close()
	upBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		event.Response.Error = err.Error()
		apierr.Write(ctx, fasthttp.StatusBadGateway, "reading upstream response failed",
			apierr.TypeUpstreamError, apierr.CodeUpstreamError)
		return
	}
	event.Performance.TTFBMs = time.Since(start).Milliseconds()

	if resp.StatusCode != fasthttp.StatusOK {
		g.writeUpstreamError(ctx, in, resp.StatusCode, upBody)
		event.Response.Error = gjson.GetBytes(upBody, "error.message").String()
		return
	}

	out, usage, err := g.inboundBody(in, plan, upBody)
	if err != nil {
		g.log.Error("reshape_error",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteInternal(ctx, "response reshape failed")
		return
	}
	recordUsage(event, usage)
	if g.metrics != nil && usage != nil {
		g.metrics.AddTokens(in.model, usage.PromptTokens, usage.CompletionTokens)
	}

	g.resolver.Feedback(&router.RouteFeedback{
		RouteID:   plan.RouteID,
		RequestID: reqID,
		Status:    fasthttp.StatusOK,
		LatencyMs: time.Since(start).Milliseconds(),
		InputTokens: func() int {
			if usage != nil {
				return usage.PromptTokens
			}
			return 0
		}(),
		OutputTokens: func() int {
			if usage != nil {
				return usage.CompletionTokens
			}
			return 0
		}(),
	})

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(out)
}

// authenticate enforces managed or passthrough auth. It writes the error
// response itself and returns false on rejection.
func (g *Gateway) authenticate(ctx *fasthttp.RequestCtx, event *analytics.Event) bool {
	bearer := bearerToken(ctx)
	apiKeyHeader := strings.TrimSpace(string(ctx.Request.Header.Peek("X-API-Key")))
	token := bearer
	method := "bearer"
	if token == "" && apiKeyHeader != "" {
		token = apiKeyHeader
		method = "api_key_header"
	}

	if !g.cfg.Managed() {
		// Passthrough: the client's bearer is forwarded to the provider.
		if bearer == "" {
			g.recordAuthFailure(event, "missing_bearer")
			apierr.WriteUnauthorized(ctx, "missing Authorization bearer", apierr.CodeMissingBearer)
			return false
		}
		event.Auth.Authenticated = true
		event.Auth.Method = "passthrough"
		return true
	}

	if g.keys == nil {
		// Managed without a key manager: accept and use the provider key.
		event.Auth.Authenticated = true
		event.Auth.Method = method
		return true
	}

	if token == "" {
		g.recordAuthFailure(event, "missing_token")
		apierr.WriteUnauthorized(ctx, "missing Authorization bearer", apierr.CodeMissingBearer)
		return false
	}

	verdict, meta := g.keys.Verify(ctx, token)
	switch verdict {
	case keys.Valid:
		event.Auth.Authenticated = true
		event.Auth.Method = method
		if meta != nil {
			event.Auth.KeyID = meta.ID
			event.Auth.KeyLabel = meta.Label
		}
		return true
	case keys.Revoked:
		g.recordAuthFailure(event, "revoked")
		apierr.WriteUnauthorized(ctx, "API key revoked", apierr.CodeKeyRevoked)
	case keys.Expired:
		g.recordAuthFailure(event, "expired")
		apierr.WriteUnauthorized(ctx, "API key expired", apierr.CodeKeyExpired)
	default:
		g.recordAuthFailure(event, "invalid")
		apierr.WriteUnauthorized(ctx, "invalid API key", apierr.CodeInvalidAPIKey)
	}
	return false
}

func (g *Gateway) recordAuthFailure(event *analytics.Event, reason string) {
	event.Response.Error = "auth: " + reason
	if g.metrics != nil {
		g.metrics.RecordAuthFailure(reason)
	}
}

// outboundBody serializes the request for the plan's mode, converting
// across surfaces when they differ.
func (g *Gateway) outboundBody(in *inbound, plan *router.RoutePlan) ([]byte, error) {
	if g.metrics != nil && in.surface != plan.Mode {
		g.metrics.RecordConversion(in.surface, plan.Mode)
	}

	switch {
	case in.chat != nil && plan.Mode == router.ModeChat:
		in.chat.Model = plan.ModelID
		return json.Marshal(in.chat)

	case in.chat != nil && plan.Mode == router.ModeResponses:
		conv, err := convert.ChatToResponses(in.chat, convert.RequestOptions{
			Conversation:        in.conversationID,
			ExtractInstructions: g.cfg.Compose.ExtractInstructions,
		})
		if err != nil {
			return nil, err
		}
		conv.Model = plan.ModelID
		return json.Marshal(conv)

	case in.resp != nil && plan.Mode == router.ModeResponses:
		in.resp.Model = plan.ModelID
		return json.Marshal(in.resp)

	default: // responses surface, chat upstream
		conv, err := convert.ResponsesToChat(in.resp)
		if err != nil {
			return nil, err
		}
		conv.Model = plan.ModelID
		return json.Marshal(conv)
	}
}

// inboundBody reshapes a successful upstream body back to the client
// surface and extracts usage for analytics.
func (g *Gateway) inboundBody(in *inbound, plan *router.RoutePlan, upBody []byte) ([]byte, *analytics.Usage, error) {
	switch {
	case in.surface == plan.Mode:
		return upBody, usageFromBody(upBody, plan.Mode), nil

	case in.surface == router.ModeChat: // responses upstream
		var resp convert.ResponsesResponse
		if err := json.Unmarshal(upBody, &resp); err != nil {
			return nil, nil, fmt.Errorf("decode responses body: %w", err)
		}
		out := convert.ResponsesToChatResponse(&resp)
		body, err := json.Marshal(out)
		return body, usageFromChat(out.Usage), err

	default: // responses surface, chat upstream
		var resp convert.ChatResponse
		if err := json.Unmarshal(upBody, &resp); err != nil {
			return nil, nil, fmt.Errorf("decode chat body: %w", err)
		}
		out := convert.ChatToResponsesResponse(&resp)
		body, err := json.Marshal(out)
		return body, usageFromChat(resp.Usage), err
	}
}

// forward issues the upstream HTTP call.
func (g *Gateway) forward(ctx context.Context, plan *router.RoutePlan, body []byte, stream bool, reqCtx *fasthttp.RequestCtx) (*http.Response, error) {
	url := strings.TrimSuffix(plan.BaseURL, "/")
	if plan.Mode == router.ModeResponses {
		url += "/responses"
	} else {
		url += "/chat/completions"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range plan.ExtraHeaders {
		req.Header.Set(k, v)
	}

	if bearer := g.upstreamBearer(plan, reqCtx); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return g.http.Do(req)
}

// upstreamBearer resolves the provider credential: the plan's auth_env in
// managed mode, the configured key as fallback, the client's own bearer in
// passthrough mode.
func (g *Gateway) upstreamBearer(plan *router.RoutePlan, reqCtx *fasthttp.RequestCtx) string {
	if !g.cfg.Managed() {
		return bearerToken(reqCtx)
	}
	if plan.AuthEnv != "" {
		if v := os.Getenv(plan.AuthEnv); v != "" {
			return v
		}
	}
	return g.cfg.Upstream.APIKey
}

// writeUpstreamError forwards a non-2xx upstream response. Error envelopes
// share their shape across both surfaces so JSON bodies pass through; other
// bodies are wrapped. A streaming client gets a single SSE error event then
// the [DONE] sentinel.
func (g *Gateway) writeUpstreamError(ctx *fasthttp.RequestCtx, in *inbound, status int, body []byte) {
	envelope := body
	if !gjson.GetBytes(body, "error").Exists() {
		envelope = apierr.Body(strings.TrimSpace(string(body)), apierr.TypeUpstreamError, apierr.CodeUpstreamError)
	}

	if in.stream {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("text/event-stream")
		ctx.Response.Header.Set("Cache-Control", "no-cache")
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "data: %s\n\n", envelope)
		buf.WriteString("data: [DONE]\n\n")
		ctx.SetBody(buf.Bytes())
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(envelope)
}

func (g *Gateway) observeUpstream(plan *router.RoutePlan, outcome string, dur time.Duration) {
	if g.metrics != nil {
		g.metrics.ObserveUpstream(plan.RouteID, plan.Mode, outcome, dur)
	}
}

func outcomeFor(status int) string {
	if status == fasthttp.StatusOK {
		return "success"
	}
	return fmt.Sprintf("status_%d", status)
}

// parseInbound decodes and validates the client payload for its surface.
func parseInbound(body []byte, surface, conversationQuery string) (*inbound, error) {
	in := &inbound{surface: surface, tokenEstimate: len(body) / 4}

	if surface == router.ModeChat {
		var req convert.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, &convert.InvalidRequestError{Reason: "invalid JSON: " + err.Error()}
		}
		if req.Model == "" {
			return nil, &convert.InvalidRequestError{Path: "model", Reason: "is required"}
		}
		if len(req.Messages) == 0 {
			return nil, &convert.InvalidRequestError{Path: "messages", Reason: "must not be empty"}
		}
		for i, m := range req.Messages {
			switch m.Role {
			case convert.RoleSystem, convert.RoleUser, convert.RoleAssistant,
				convert.RoleTool, convert.RoleFunction:
			default:
				return nil, &convert.InvalidRequestError{
					Path:   fmt.Sprintf("messages[%d].role", i),
					Reason: fmt.Sprintf("unknown role %q", m.Role),
				}
			}
		}
		in.chat = &req
		in.model = req.Model
		in.stream = req.Stream != nil && *req.Stream
		in.messageCount = len(req.Messages)
		in.temperature = req.Temperature
		in.conversationID = conversationQuery
		return in, nil
	}

	var req convert.ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &convert.InvalidRequestError{Reason: "invalid JSON: " + err.Error()}
	}
	if req.Model == "" {
		return nil, &convert.InvalidRequestError{Path: "model", Reason: "is required"}
	}
	if len(req.Input) == 0 {
		return nil, &convert.InvalidRequestError{Path: "input", Reason: "must not be empty"}
	}
	if req.Conversation == "" && conversationQuery != "" {
		req.Conversation = conversationQuery
	}
	in.resp = &req
	in.model = req.Model
	in.stream = req.Stream != nil && *req.Stream
	in.messageCount = len(req.Input)
	in.temperature = req.Temperature
	in.conversationID = req.Conversation
	return in, nil
}

func writeConvertError(ctx *fasthttp.RequestCtx, err error) {
	var invalid *convert.InvalidRequestError
	if errors.As(err, &invalid) {
		apierr.WriteInvalidRequest(ctx, invalid.Error())
		return
	}
	apierr.WriteInternal(ctx, err.Error())
}

func setPlanHeaders(ctx *fasthttp.RequestCtx, plan *router.RoutePlan, cacheState string) {
	h := &ctx.Response.Header
	if plan.RouteID != "" {
		h.Set("x-route-id", plan.RouteID)
	}
	h.Set("x-resolved-model", plan.ModelID)
	if plan.PolicyRev != "" {
		h.Set("x-policy-rev", plan.PolicyRev)
	}
	if plan.SchemaVersion != "" {
		h.Set("router-schema", plan.SchemaVersion)
	}
	if plan.ContentUsed != "" {
		h.Set("x-content-used", plan.ContentUsed)
	}
	if cacheState != "" {
		h.Set("x-route-cache", cacheState)
	}
}

func bearerToken(ctx *fasthttp.RequestCtx) string {
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// usageFromBody extracts usage from a same-surface upstream body.
func usageFromBody(body []byte, mode string) *analytics.Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return nil
	}
	if mode == router.ModeResponses {
		return &analytics.Usage{
			PromptTokens:     int(u.Get("input_tokens").Int()),
			CompletionTokens: int(u.Get("output_tokens").Int()),
			CachedTokens:     int(u.Get("input_tokens_details.cached_tokens").Int()),
			ReasoningTokens:  int(u.Get("output_tokens_details.reasoning_tokens").Int()),
		}
	}
	return &analytics.Usage{
		PromptTokens:     int(u.Get("prompt_tokens").Int()),
		CompletionTokens: int(u.Get("completion_tokens").Int()),
		CachedTokens:     int(u.Get("prompt_tokens_details.cached_tokens").Int()),
		ReasoningTokens:  int(u.Get("completion_tokens_details.reasoning_tokens").Int()),
	}
}

func usageFromChat(u *convert.ChatUsage) *analytics.Usage {
	if u == nil {
		return nil
	}
	out := &analytics.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
	}
	if u.CachedTokens != nil {
		out.CachedTokens = *u.CachedTokens
	}
	if u.ReasoningTokens != nil {
		out.ReasoningTokens = *u.ReasoningTokens
	}
	return out
}

func recordUsage(event *analytics.Event, usage *analytics.Usage) {
	if usage == nil {
		return
	}
	event.Usage = usage
	event.Request.InputTokens = usage.PromptTokens
	event.Response.OutputTokens = usage.CompletionTokens
}

func newEventID() string { return uuid.New().String() }

// newEvent seeds the analytics event from request metadata.
func (g *Gateway) newEvent(ctx *fasthttp.RequestCtx) *analytics.Event {
	return &analytics.Event{
		ID:        newEventID(),
		Timestamp: time.Now().Unix(),
		Request: analytics.RequestMeta{
			Endpoint:  string(ctx.Path()),
			Method:    string(ctx.Method()),
			SizeBytes: len(ctx.PostBody()),
			UserAgent: string(ctx.Request.Header.UserAgent()),
			ClientIP:  clientIP(ctx),
		},
	}
}

// finishEvent completes and enqueues the analytics event. Never fails the
// request.
func (g *Gateway) finishEvent(ctx *fasthttp.RequestCtx, event *analytics.Event, start time.Time, respBytes int) {
	if g.metrics != nil {
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(routeLabel(event.Request.Endpoint), ctx.Response.StatusCode(),
			time.Since(start), event.Request.SizeBytes, respBytes)
	}
	if g.analytics == nil {
		return
	}
	event.Response.Status = ctx.Response.StatusCode()
	event.Response.SizeBytes = respBytes
	event.Response.Success = ctx.Response.StatusCode() < 400 && event.Response.Error == ""
	event.Performance.DurationMs = time.Since(start).Milliseconds()
	dropped := g.analytics.Dropped()
	g.analytics.Record(event)
	if g.metrics != nil && g.analytics.Dropped() > dropped {
		g.metrics.RecordAnalyticsDropped()
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(ctx *fasthttp.RequestCtx) string {
	if fwd := string(ctx.Request.Header.Peek("X-Forwarded-For")); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if real := string(ctx.Request.Header.Peek("X-Real-IP")); real != "" {
		return strings.TrimSpace(real)
	}
	return ctx.RemoteIP().String()
}

func routeLabel(endpoint string) string {
	switch endpoint {
	case "/v1/chat/completions":
		return "chat_completions"
	case "/v1/responses":
		return "responses"
	default:
		return strings.TrimPrefix(endpoint, "/")
	}
}
