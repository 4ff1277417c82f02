package proxy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/routiium/routiium/internal/analytics"
	"github.com/routiium/routiium/internal/convert"
	"github.com/routiium/routiium/internal/router"
	"github.com/valyala/fasthttp"
)

// streamContext carries everything the detached stream writer needs; the
// fasthttp handler returns before the writer runs.
type streamContext struct {
	upstream  *http.Response
	cancel    func()
	surface   string
	mode      string
	model     string
	plan      *router.RoutePlan
	event     *analytics.Event
	start     time.Time
	requestID string
}

// writeStream forwards the upstream SSE stream to the client. Same-surface
// streams pass through frame-by-frame; cross-mode streams run through the
// converter's SSE bridge on the fly. Keep-alive comments are emitted when
// the upstream is idle beyond the configured interval.
func (g *Gateway) writeStream(ctx *fasthttp.RequestCtx, sc streamContext) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	keepAlive := g.cfg.Upstream.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer
		defer sc.cancel()
		defer sc.upstream.Body.Close()

		events := make(chan *convert.Event, 16)
		done := make(chan struct{})
		defer close(done)
		go func() {
			reader := convert.NewSSEReader(sc.upstream.Body)
			for {
				evt, err := reader.Next()
				if err != nil {
					close(events)
					return
				}
				select {
				case events <- evt:
				case <-done:
					return
				}
			}
		}()

		var (
			bridgeR2C  *convert.ResponsesToChatBridge
			bridgeC2R  *convert.ChatToResponsesBridge
			bridgeName = "passthrough"
		)
		switch {
		case sc.surface == router.ModeChat && sc.mode == router.ModeResponses:
			bridgeR2C = convert.NewResponsesToChatBridge(sc.model, time.Now().Unix())
			bridgeName = "responses_to_chat"
		case sc.surface == router.ModeResponses && sc.mode == router.ModeChat:
			bridgeC2R = convert.NewChatToResponsesBridge(sc.model, time.Now().Unix())
			bridgeName = "chat_to_responses"
		}

		clientGone := false
		var usage *analytics.Usage
		firstEvent := true

		emit := func(payload any) error {
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			if g.metrics != nil {
				g.metrics.RecordSSEEvent(bridgeName)
			}
			return w.Flush()
		}

		writeRaw := func(evt *convert.Event) error {
			if evt.NamedEvent {
				if _, err := fmt.Fprintf(w, "event: %s\n", evt.Type); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", evt.Raw); err != nil {
				return err
			}
			if g.metrics != nil {
				g.metrics.RecordSSEEvent(bridgeName)
			}
			return w.Flush()
		}

	loop:
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					break loop
				}
				if firstEvent {
					firstEvent = false
					sc.event.Performance.TTFBMs = time.Since(sc.start).Milliseconds()
				}
				if u := streamUsage(evt, sc.mode); u != nil {
					usage = u
				}

				var err error
				switch {
				case bridgeR2C != nil:
					err = bridgeR2C.Feed(evt, emit)
				case bridgeC2R != nil:
					err = bridgeC2R.Feed(evt, emit)
				default:
					err = writeRaw(evt)
				}
				if err != nil {
					clientGone = true
					break loop
				}

			case <-time.After(keepAlive):
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					clientGone = true
					break loop
				}
				if err := w.Flush(); err != nil {
					clientGone = true
					break loop
				}
			}
		}

		if !clientGone {
			var err error
			switch {
			case bridgeR2C != nil:
				err = bridgeR2C.Finish(emit)
			case bridgeC2R != nil:
				err = bridgeC2R.Finish(emit)
			}
			if err == nil {
				_, err = fmt.Fprint(w, "data: [DONE]\n\n")
			}
			if err == nil {
				err = w.Flush()
			}
			clientGone = err != nil
		}

		g.finishStream(ctx, sc, usage, clientGone)
	})
}

// finishStream records analytics, metrics and route feedback once the
// stream drains or the client disconnects.
func (g *Gateway) finishStream(ctx *fasthttp.RequestCtx, sc streamContext, usage *analytics.Usage, clientGone bool) {
	dur := time.Since(sc.start)

	if clientGone {
		sc.event.Response.Error = "client_disconnected"
	}
	recordUsage(sc.event, usage)
	sc.event.Response.Status = fasthttp.StatusOK
	sc.event.Response.SizeBytes = -1
	sc.event.Response.Success = !clientGone
	sc.event.Performance.DurationMs = dur.Milliseconds()

	if g.metrics != nil {
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(routeLabel(sc.event.Request.Endpoint), fasthttp.StatusOK,
			dur, sc.event.Request.SizeBytes, -1)
		if usage != nil {
			g.metrics.AddTokens(sc.model, usage.PromptTokens, usage.CompletionTokens)
		}
	}
	if g.analytics != nil {
		g.analytics.Record(sc.event)
	}

	inputTokens, outputTokens := 0, 0
	if usage != nil {
		inputTokens = usage.PromptTokens
		outputTokens = usage.CompletionTokens
	}
	g.resolver.Feedback(&router.RouteFeedback{
		RouteID:      sc.plan.RouteID,
		RequestID:    sc.requestID,
		Status:       fasthttp.StatusOK,
		LatencyMs:    dur.Milliseconds(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})

	g.log.Debug("stream_done",
		slog.String("request_id", sc.requestID),
		slog.String("backend", sc.plan.RouteID),
		slog.Bool("client_gone", clientGone),
		slog.Duration("elapsed", dur),
	)
}

// streamUsage pulls token usage out of terminal stream events: the
// response.completed envelope on the Responses surface, the usage field of
// the final chunk on the Chat surface.
func streamUsage(evt *convert.Event, mode string) *analytics.Usage {
	if mode == router.ModeResponses {
		resp, ok := evt.Data["response"].(map[string]any)
		if !ok {
			return nil
		}
		u, ok := resp["usage"].(map[string]any)
		if !ok {
			return nil
		}
		return usageFromAnyMap(u, true)
	}
	u, ok := evt.Data["usage"].(map[string]any)
	if !ok {
		return nil
	}
	return usageFromAnyMap(u, false)
}

func usageFromAnyMap(u map[string]any, responsesNames bool) *analytics.Usage {
	num := func(key string) int {
		if f, ok := u[key].(float64); ok {
			return int(f)
		}
		return 0
	}
	if responsesNames {
		out := &analytics.Usage{
			PromptTokens:     num("input_tokens"),
			CompletionTokens: num("output_tokens"),
		}
		if d, ok := u["input_tokens_details"].(map[string]any); ok {
			if f, ok := d["cached_tokens"].(float64); ok {
				out.CachedTokens = int(f)
			}
		}
		if d, ok := u["output_tokens_details"].(map[string]any); ok {
			if f, ok := d["reasoning_tokens"].(float64); ok {
				out.ReasoningTokens = int(f)
			}
		}
		return out
	}
	out := &analytics.Usage{
		PromptTokens:     num("prompt_tokens"),
		CompletionTokens: num("completion_tokens"),
	}
	if d, ok := u["prompt_tokens_details"].(map[string]any); ok {
		if f, ok := d["cached_tokens"].(float64); ok {
			out.CachedTokens = int(f)
		}
	}
	if d, ok := u["completion_tokens_details"].(map[string]any); ok {
		if f, ok := d["reasoning_tokens"].(float64); ok {
			out.ReasoningTokens = int(f)
		}
	}
	return out
}
