package convert

import (
	"encoding/json"
	"sort"
	"strings"
)

// EmitFunc receives one outbound SSE payload. Implementations serialize it
// as a `data:` frame and flush.
type EmitFunc func(payload any) error

// ResponsesToChatBridge converts typed Responses streaming events into Chat
// Completions chunks. Events are fed in upstream order; argument deltas for
// parallel tool calls are demultiplexed by output_index and assigned chat
// tool_calls indices in first-seen order.
type ResponsesToChatBridge struct {
	Model string

	id        string
	created   int64
	sentRole  bool
	done      bool
	toolIndex map[int]int
	sawTools  bool
	usage     *ChatUsage
}

// NewResponsesToChatBridge returns a bridge for one stream. created stamps
// every emitted chunk.
func NewResponsesToChatBridge(model string, created int64) *ResponsesToChatBridge {
	return &ResponsesToChatBridge{
		Model:     model,
		id:        "chatcmpl-stream",
		created:   created,
		toolIndex: make(map[int]int),
	}
}

// Done reports whether a terminal event has been emitted.
func (b *ResponsesToChatBridge) Done() bool { return b.done }

// Feed translates one upstream event. Unrecognized event types are dropped.
func (b *ResponsesToChatBridge) Feed(evt *Event, emit EmitFunc) error {
	if b.done {
		return nil
	}

	if resp, ok := evt.Data["response"].(map[string]any); ok {
		if id, ok := resp["id"].(string); ok && id != "" {
			b.id = chatIDFor(id)
		}
		if m, ok := resp["model"].(string); ok && m != "" && b.Model == "" {
			b.Model = m
		}
	}

	switch evt.Type {
	case "response.created":
		b.sentRole = true
		return emit(b.chunk(ChatDelta{Role: RoleAssistant}, nil))

	case "response.output_text.delta":
		delta, _ := evt.Data["delta"].(string)
		if err := b.ensureRole(emit); err != nil {
			return err
		}
		return emit(b.chunk(ChatDelta{Content: delta}, nil))

	case "response.output_item.added":
		item, _ := evt.Data["item"].(map[string]any)
		if t, _ := item["type"].(string); t != "function_call" {
			return nil
		}
		idx := b.indexFor(intFrom(evt.Data["output_index"]))
		b.sawTools = true
		if err := b.ensureRole(emit); err != nil {
			return err
		}
		callID, _ := item["call_id"].(string)
		name, _ := item["name"].(string)
		return emit(b.chunk(ChatDelta{ToolCalls: []ChatToolCall{{
			Index:    &idx,
			ID:       callID,
			Type:     "function",
			Function: ChatFunctionCall{Name: name},
		}}}, nil))

	case "response.function_call_arguments.delta", "response.function_call.arguments.delta":
		idx := b.indexFor(intFrom(evt.Data["output_index"]))
		b.sawTools = true
		delta, _ := evt.Data["delta"].(string)
		if err := b.ensureRole(emit); err != nil {
			return err
		}
		return emit(b.chunk(ChatDelta{ToolCalls: []ChatToolCall{{
			Index:    &idx,
			Function: ChatFunctionCall{Arguments: delta},
		}}}, nil))

	case "response.completed", "response.incomplete":
		status := "completed"
		if evt.Type == "response.incomplete" {
			status = "incomplete"
		}
		if resp, ok := evt.Data["response"].(map[string]any); ok {
			if u, ok := resp["usage"].(map[string]any); ok {
				b.usage = chatUsageFromMap(u)
			}
		}
		finish := FinishReasonFor(status, b.sawTools)
		b.done = true
		final := b.chunk(ChatDelta{}, &finish)
		final.Usage = b.usage
		return emit(final)

	case "response.failed", "error":
		b.done = true
		return emit(errorEnvelopeFrom(evt))
	}
	return nil
}

// Finish emits a terminal chunk if the upstream ended without one.
func (b *ResponsesToChatBridge) Finish(emit EmitFunc) error {
	if b.done {
		return nil
	}
	b.done = true
	finish := FinishReasonFor("completed", b.sawTools)
	final := b.chunk(ChatDelta{}, &finish)
	final.Usage = b.usage
	return emit(final)
}

func (b *ResponsesToChatBridge) ensureRole(emit EmitFunc) error {
	if b.sentRole {
		return nil
	}
	b.sentRole = true
	return emit(b.chunk(ChatDelta{Role: RoleAssistant}, nil))
}

func (b *ResponsesToChatBridge) chunk(delta ChatDelta, finish *string) *ChatChunk {
	return &ChatChunk{
		ID:      b.id,
		Object:  "chat.completion.chunk",
		Created: b.created,
		Model:   b.Model,
		Choices: []ChatChoice{{Index: 0, Delta: &delta, FinishReason: finish}},
	}
}

func (b *ResponsesToChatBridge) indexFor(outputIndex int) int {
	if idx, ok := b.toolIndex[outputIndex]; ok {
		return idx
	}
	idx := len(b.toolIndex)
	b.toolIndex[outputIndex] = idx
	return idx
}

// ChatToResponsesBridge converts Chat Completions chunks into typed
// Responses streaming events, the inverse direction for Responses clients
// with Chat upstreams. Text and tool arguments are accumulated so the
// terminal response.completed event carries the assembled output.
type ChatToResponsesBridge struct {
	Model string

	id      string
	created int64
	started bool
	done    bool
	text    strings.Builder
	calls   map[int]*bridgedCall
	usage   *ResponsesUsage
	finish  string
}

type bridgedCall struct {
	id   string
	name string
	args strings.Builder
}

// NewChatToResponsesBridge returns a bridge for one stream.
func NewChatToResponsesBridge(model string, created int64) *ChatToResponsesBridge {
	return &ChatToResponsesBridge{
		Model:   model,
		id:      "resp_stream",
		created: created,
		calls:   make(map[int]*bridgedCall),
	}
}

// Done reports whether a terminal event has been emitted.
func (b *ChatToResponsesBridge) Done() bool { return b.done }

// Feed translates one upstream chat chunk event.
func (b *ChatToResponsesBridge) Feed(evt *Event, emit EmitFunc) error {
	if b.done {
		return nil
	}

	if _, isErr := evt.Data["error"]; isErr {
		b.done = true
		return emit(map[string]any{"type": "response.failed", "response": map[string]any{"error": evt.Data["error"]}})
	}

	var chunk ChatChunk
	if err := json.Unmarshal(evt.Raw, &chunk); err != nil {
		return nil
	}
	if chunk.ID != "" {
		b.id = responsesIDFor(chunk.ID)
	}
	if chunk.Model != "" && b.Model == "" {
		b.Model = chunk.Model
	}
	if chunk.Usage != nil {
		b.usage = chatUsageToResponses(chunk.Usage)
	}

	if !b.started {
		b.started = true
		if err := emit(map[string]any{"type": "response.created", "response": b.skeleton("in_progress")}); err != nil {
			return err
		}
	}

	for _, choice := range chunk.Choices {
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				b.text.WriteString(choice.Delta.Content)
				if err := emit(map[string]any{
					"type":         "response.output_text.delta",
					"output_index": 0,
					"delta":        choice.Delta.Content,
				}); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if err := b.feedToolCall(tc, emit); err != nil {
					return err
				}
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			b.finish = *choice.FinishReason
		}
	}
	return nil
}

func (b *ChatToResponsesBridge) feedToolCall(tc ChatToolCall, emit EmitFunc) error {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	call, seen := b.calls[idx]
	if !seen {
		call = &bridgedCall{}
		b.calls[idx] = call
	}
	if tc.ID != "" {
		call.id = tc.ID
	}
	if tc.Function.Name != "" {
		call.name = tc.Function.Name
	}
	if !seen {
		if err := emit(map[string]any{
			"type":         "response.output_item.added",
			"output_index": idx,
			"item": map[string]any{
				"type":    "function_call",
				"call_id": call.id,
				"name":    call.name,
			},
		}); err != nil {
			return err
		}
	}
	if tc.Function.Arguments != "" {
		call.args.WriteString(tc.Function.Arguments)
		return emit(map[string]any{
			"type":         "response.function_call_arguments.delta",
			"output_index": idx,
			"delta":        tc.Function.Arguments,
		})
	}
	return nil
}

// Finish emits the terminal response.completed event with assembled output.
func (b *ChatToResponsesBridge) Finish(emit EmitFunc) error {
	if b.done {
		return nil
	}
	b.done = true

	status := "completed"
	if b.finish == "length" {
		status = "incomplete"
	}
	resp := b.skeleton(status)
	if b.usage != nil {
		resp["usage"] = b.usage
	}
	return emit(map[string]any{"type": "response." + status, "response": resp})
}

func (b *ChatToResponsesBridge) skeleton(status string) map[string]any {
	resp := map[string]any{
		"id":         b.id,
		"object":     "response",
		"created_at": b.created,
		"model":      b.Model,
		"status":     status,
	}

	var output []OutputItem
	if b.text.Len() > 0 {
		output = append(output, OutputItem{
			Type:    "message",
			Role:    RoleAssistant,
			Status:  "completed",
			Content: []Part{{Type: PartOutputText, Text: b.text.String()}},
		})
	}
	indices := make([]int, 0, len(b.calls))
	for idx := range b.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		call := b.calls[idx]
		output = append(output, OutputItem{
			Type:      "function_call",
			CallID:    call.id,
			Name:      call.name,
			Arguments: call.args.String(),
			Status:    "completed",
		})
	}
	resp["output"] = output
	return resp
}

// errorEnvelopeFrom reshapes an upstream error event into the chat error
// envelope so clients see a consistent shape.
func errorEnvelopeFrom(evt *Event) map[string]any {
	msg := "upstream error"
	if resp, ok := evt.Data["response"].(map[string]any); ok {
		if e, ok := resp["error"].(map[string]any); ok {
			if m, ok := e["message"].(string); ok && m != "" {
				msg = m
			}
		}
	}
	if e, ok := evt.Data["error"].(map[string]any); ok {
		if m, ok := e["message"].(string); ok && m != "" {
			msg = m
		}
	}
	if m, ok := evt.Data["message"].(string); ok && m != "" {
		msg = m
	}
	return map[string]any{"error": map[string]any{
		"message": msg,
		"type":    "upstream_error",
		"code":    "upstream_error",
	}}
}

func chatUsageFromMap(u map[string]any) *ChatUsage {
	out := &ChatUsage{
		PromptTokens:     intFrom(u["input_tokens"]),
		CompletionTokens: intFrom(u["output_tokens"]),
		TotalTokens:      intFrom(u["total_tokens"]),
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	if d, ok := u["input_tokens_details"].(map[string]any); ok {
		if v := intFrom(d["cached_tokens"]); v > 0 {
			out.CachedTokens = &v
		}
	}
	if d, ok := u["output_tokens_details"].(map[string]any); ok {
		if v := intFrom(d["reasoning_tokens"]); v > 0 {
			out.ReasoningTokens = &v
		}
	}
	return out
}

func intFrom(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
