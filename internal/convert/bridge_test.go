package convert

import (
	"encoding/json"
	"strings"
	"testing"
)

func feedEvents(t *testing.T, b *ResponsesToChatBridge, frames []string) []*ChatChunk {
	t.Helper()
	var chunks []*ChatChunk
	emit := func(payload any) error {
		if chunk, ok := payload.(*ChatChunk); ok {
			chunks = append(chunks, chunk)
			return nil
		}
		// Error envelopes arrive as maps; re-marshal for inspection.
		data, _ := json.Marshal(payload)
		var chunk ChatChunk
		_ = json.Unmarshal(data, &chunk)
		chunks = append(chunks, &chunk)
		return nil
	}
	reader := NewSSEReader(strings.NewReader(strings.Join(frames, "")))
	for {
		evt, err := reader.Next()
		if err != nil {
			break
		}
		if err := b.Feed(evt, emit); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	return chunks
}

func frame(v string) string { return "data: " + v + "\n\n" }

func TestBridgeTextDeltas(t *testing.T) {
	b := NewResponsesToChatBridge("gpt-4o-mini", 1700000000)
	chunks := feedEvents(t, b, []string{
		frame(`{"type":"response.created","response":{"id":"resp_1","model":"gpt-4o-mini"}}`),
		frame(`{"type":"response.output_text.delta","output_index":0,"delta":"Hel"}`),
		frame(`{"type":"response.output_text.delta","output_index":0,"delta":"lo"}`),
		frame(`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":4,"output_tokens":2}}}`),
	})

	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != RoleAssistant {
		t.Errorf("first chunk should carry the assistant role: %+v", chunks[0])
	}

	// The concatenation of all content deltas equals the upstream text.
	var text strings.Builder
	for _, c := range chunks {
		if c.Choices[0].Delta != nil {
			text.WriteString(c.Choices[0].Delta.Content)
		}
	}
	if text.String() != "Hello" {
		t.Errorf("assembled text = %q, want Hello", text.String())
	}

	last := chunks[len(chunks)-1]
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "stop" {
		t.Errorf("final finish_reason = %v", last.Choices[0].FinishReason)
	}
	if last.Usage == nil || last.Usage.PromptTokens != 4 || last.Usage.CompletionTokens != 2 {
		t.Errorf("final usage = %+v", last.Usage)
	}
	if !b.Done() {
		t.Error("bridge should be done after response.completed")
	}
}

func TestBridgeParallelToolCallAccumulation(t *testing.T) {
	b := NewResponsesToChatBridge("gpt-4o", 1)
	chunks := feedEvents(t, b, []string{
		frame(`{"type":"response.created","response":{"id":"resp_2"}}`),
		frame(`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"call_a","name":"get_weather"}}`),
		frame(`{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","call_id":"call_b","name":"get_time"}}`),
		frame(`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"loc"}`),
		frame(`{"type":"response.function_call_arguments.delta","output_index":1,"delta":"{}"}`),
		frame(`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"\":\"Oslo\"}"}`),
		frame(`{"type":"response.completed","response":{"id":"resp_2","status":"completed"}}`),
	})

	args := map[int]string{}
	names := map[int]string{}
	for _, c := range chunks {
		if c.Choices[0].Delta == nil {
			continue
		}
		for _, tc := range c.Choices[0].Delta.ToolCalls {
			if tc.Index == nil {
				t.Fatalf("tool call without index: %+v", tc)
			}
			args[*tc.Index] += tc.Function.Arguments
			if tc.Function.Name != "" {
				names[*tc.Index] = tc.Function.Name
			}
		}
	}
	if args[0] != `{"loc":"Oslo"}` {
		t.Errorf("args[0] = %q", args[0])
	}
	if args[1] != "{}" {
		t.Errorf("args[1] = %q", args[1])
	}
	if names[0] != "get_weather" || names[1] != "get_time" {
		t.Errorf("names = %v", names)
	}

	last := chunks[len(chunks)-1]
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %v, want tool_calls", last.Choices[0].FinishReason)
	}
}

func TestBridgeUpstreamError(t *testing.T) {
	b := NewResponsesToChatBridge("gpt-4o", 1)
	var payloads []map[string]any
	emit := func(p any) error {
		data, _ := json.Marshal(p)
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		payloads = append(payloads, m)
		return nil
	}
	reader := NewSSEReader(strings.NewReader(
		frame(`{"type":"response.failed","response":{"error":{"message":"overloaded"}}}`),
	))
	evt, _ := reader.Next()
	if err := b.Feed(evt, emit); err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d", len(payloads))
	}
	errObj, ok := payloads[0]["error"].(map[string]any)
	if !ok || errObj["message"] != "overloaded" {
		t.Errorf("error payload = %v", payloads[0])
	}
	if !b.Done() {
		t.Error("bridge should be done after response.failed")
	}
}

func TestChatToResponsesBridge(t *testing.T) {
	b := NewChatToResponsesBridge("claude-3-5-sonnet", 1)
	var events []map[string]any
	emit := func(p any) error {
		data, _ := json.Marshal(p)
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		events = append(events, m)
		return nil
	}

	frames := []string{
		frame(`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`),
		frame(`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hi "}}]}`),
		frame(`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"there"}}]}`),
		frame(`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`),
	}
	reader := NewSSEReader(strings.NewReader(strings.Join(frames, "")))
	for {
		evt, err := reader.Next()
		if err != nil {
			break
		}
		if err := b.Feed(evt, emit); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Finish(emit); err != nil {
		t.Fatal(err)
	}

	if events[0]["type"] != "response.created" {
		t.Errorf("first event = %v", events[0]["type"])
	}

	var text strings.Builder
	for _, e := range events {
		if e["type"] == "response.output_text.delta" {
			text.WriteString(e["delta"].(string))
		}
	}
	if text.String() != "Hi there" {
		t.Errorf("assembled text = %q", text.String())
	}

	last := events[len(events)-1]
	if last["type"] != "response.completed" {
		t.Fatalf("last event = %v", last["type"])
	}
	resp := last["response"].(map[string]any)
	output := resp["output"].([]any)
	item := output[0].(map[string]any)
	content := item["content"].([]any)[0].(map[string]any)
	if content["text"] != "Hi there" {
		t.Errorf("assembled output = %v", content)
	}
	usage := resp["usage"].(map[string]any)
	if usage["input_tokens"].(float64) != 3 {
		t.Errorf("usage = %v", usage)
	}
}
