package convert

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }
func boolPtr(v bool) *bool          { return &v }
func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestChatToResponsesBasicFields(t *testing.T) {
	req := &ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: json.RawMessage(`"hi"`)},
		},
		MaxTokens:   intPtr(32),
		Temperature: floatPtr(0.3),
		TopP:        floatPtr(0.95),
		User:        "unit",
		Stream:      boolPtr(false),
	}

	out, err := ChatToResponses(req, RequestOptions{Conversation: "conv-xyz"})
	if err != nil {
		t.Fatalf("ChatToResponses: %v", err)
	}
	if out.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", out.Model)
	}
	if out.MaxOutputTokens == nil || *out.MaxOutputTokens != 32 {
		t.Errorf("max_output_tokens = %v, want 32", out.MaxOutputTokens)
	}
	if out.Conversation != "conv-xyz" {
		t.Errorf("conversation = %q", out.Conversation)
	}
	if len(out.Input) != 1 {
		t.Fatalf("input length = %d", len(out.Input))
	}
	item := out.Input[0]
	if item.Role != RoleUser || len(item.Content) != 1 {
		t.Fatalf("item = %+v", item)
	}
	if item.Content[0].Type != PartInputText || item.Content[0].Text != "hi" {
		t.Errorf("part = %+v, want input_text %q", item.Content[0], "hi")
	}
}

func TestChatToResponsesWireShape(t *testing.T) {
	req := &ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: json.RawMessage(`"hi"`)},
		},
		MaxTokens: intPtr(32),
	}
	out, err := ChatToResponses(req, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	data := mustJSON(t, out)

	want := `"input":[{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}]`
	if !bytes.Contains(data, []byte(want)) {
		t.Errorf("serialized request missing %s:\n%s", want, data)
	}
	if !bytes.Contains(data, []byte(`"max_output_tokens":32`)) {
		t.Errorf("serialized request missing max_output_tokens:\n%s", data)
	}
	if bytes.Contains(data, []byte(`max_tokens"`)) && !bytes.Contains(data, []byte("max_output_tokens")) {
		t.Errorf("chat-only field leaked: %s", data)
	}
}

func TestFunctionRoleMapsToTool(t *testing.T) {
	req := &ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{
				Role:       RoleFunction,
				Content:    json.RawMessage(`"result"`),
				Name:       "fn",
				ToolCallID: "t1",
			},
		},
	}
	out, err := ChatToResponses(req, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Input[0].Role != RoleTool {
		t.Errorf("role = %q, want tool", out.Input[0].Role)
	}
	if out.Input[0].Name != "fn" || out.Input[0].ToolCallID != "t1" {
		t.Errorf("name/tool_call_id not preserved: %+v", out.Input[0])
	}
}

func TestMultimodalParts(t *testing.T) {
	content := `[
		{"type":"text","text":"what is this"},
		{"type":"image_url","image_url":{"url":"https://example.com/cat.png","detail":"high"}}
	]`
	req := &ChatRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: RoleUser, Content: json.RawMessage(content)}},
	}
	out, err := ChatToResponses(req, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	parts := out.Input[0].Content
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if parts[0].Type != PartInputText || parts[0].Text != "what is this" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != PartInputImage || parts[1].ImageURL != "https://example.com/cat.png" || parts[1].Detail != "high" {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestToolDefinitionRoundTrip(t *testing.T) {
	params := `{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`
	tool := json.RawMessage(`{"type":"function","function":{"name":"get_weather","parameters":` + params + `}}`)

	flat, err := ChatToolsToResponses([]json.RawMessage{tool})
	if err != nil {
		t.Fatal(err)
	}
	if name := ToolName(flat[0]); name != "get_weather" {
		t.Errorf("flattened name = %q", name)
	}
	var flatObj map[string]json.RawMessage
	if err := json.Unmarshal(flat[0], &flatObj); err != nil {
		t.Fatal(err)
	}
	if _, nested := flatObj["function"]; nested {
		t.Errorf("flattened tool still nests function: %s", flat[0])
	}
	if string(flatObj["parameters"]) != params {
		t.Errorf("parameters changed:\n got %s\nwant %s", flatObj["parameters"], params)
	}

	back, err := ResponsesToolsToChat(flat)
	if err != nil {
		t.Fatal(err)
	}
	var backObj struct {
		Function struct {
			Name       string          `json:"name"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(back[0], &backObj); err != nil {
		t.Fatal(err)
	}
	if backObj.Function.Name != "get_weather" {
		t.Errorf("round-trip name = %q", backObj.Function.Name)
	}
	if string(backObj.Function.Parameters) != params {
		t.Errorf("round-trip parameters differ:\n got %s\nwant %s", backObj.Function.Parameters, params)
	}
}

func TestUnknownToolTypePassesThrough(t *testing.T) {
	raw := json.RawMessage(`{"type":"web_search_preview","search_context_size":"high"}`)
	out, err := ChatToolsToResponses([]json.RawMessage{raw})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[0], raw) {
		t.Errorf("unknown tool mutated:\n got %s\nwant %s", out[0], raw)
	}
}

func TestToolChoiceRenormalization(t *testing.T) {
	choice := json.RawMessage(`{"type":"function","function":{"name":"lookup"}}`)
	flat := ChatToolChoiceToResponses(choice)
	var obj map[string]any
	if err := json.Unmarshal(flat, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["name"] != "lookup" {
		t.Errorf("flat tool_choice = %s", flat)
	}
	if _, nested := obj["function"]; nested {
		t.Errorf("flat tool_choice still nested: %s", flat)
	}

	// String forms pass through untouched.
	for _, s := range []string{`"auto"`, `"none"`, `"required"`} {
		if got := ChatToolChoiceToResponses(json.RawMessage(s)); string(got) != s {
			t.Errorf("tool_choice %s mutated to %s", s, got)
		}
	}

	back := ResponsesToolChoiceToChat(flat)
	if !bytes.Contains(back, []byte(`"function":{"name":"lookup"}`)) {
		t.Errorf("renested tool_choice = %s", back)
	}
}

func TestRoundTripLaw(t *testing.T) {
	original := &ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: json.RawMessage(`"be brief"`)},
			{Role: RoleUser, Content: json.RawMessage(`"hello"`)},
			{Role: RoleAssistant, Content: json.RawMessage(`"hi there"`)},
			{Role: RoleFunction, Content: json.RawMessage(`"42"`), ToolCallID: "call_1"},
		},
		MaxTokens: intPtr(64),
		Tools: []json.RawMessage{
			json.RawMessage(`{"type":"function","function":{"name":"get_weather","parameters":{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}}}`),
		},
		Extra: map[string]json.RawMessage{
			"seed": json.RawMessage(`1234`),
		},
	}

	mid, err := ChatToResponses(original, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	back, err := ResponsesToChat(mid)
	if err != nil {
		t.Fatal(err)
	}

	if back.Model != original.Model {
		t.Errorf("model = %q", back.Model)
	}
	if back.MaxTokens == nil || *back.MaxTokens != 64 {
		t.Errorf("max_tokens = %v", back.MaxTokens)
	}
	if len(back.Messages) != len(original.Messages) {
		t.Fatalf("messages = %d, want %d", len(back.Messages), len(original.Messages))
	}
	wantRoles := []string{RoleSystem, RoleUser, RoleAssistant, RoleTool}
	for i, want := range wantRoles {
		if back.Messages[i].Role != want {
			t.Errorf("messages[%d].role = %q, want %q", i, back.Messages[i].Role, want)
		}
	}
	if string(back.Messages[1].Content) != `"hello"` {
		t.Errorf("messages[1].content = %s", back.Messages[1].Content)
	}
	if back.Messages[3].ToolCallID != "call_1" {
		t.Errorf("tool_call_id lost: %+v", back.Messages[3])
	}

	var origTool, backTool struct {
		Function struct {
			Name       string          `json:"name"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(original.Tools[0], &origTool); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(back.Tools[0], &backTool); err != nil {
		t.Fatal(err)
	}
	if backTool.Function.Name != origTool.Function.Name {
		t.Errorf("tool name = %q", backTool.Function.Name)
	}
	if string(backTool.Function.Parameters) != string(origTool.Function.Parameters) {
		t.Errorf("tool parameters differ after round-trip")
	}

	if string(back.Extra["seed"]) != "1234" {
		t.Errorf("unknown field dropped: %v", back.Extra)
	}
}

func TestUnknownTopLevelFieldsSurviveSerialization(t *testing.T) {
	payload := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"x"}],"seed":42,"metadata":{"a":"b"}}`)
	var req ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatal(err)
	}
	out := mustJSON(t, req)
	if !bytes.Contains(out, []byte(`"seed":42`)) || !bytes.Contains(out, []byte(`"metadata":{"a":"b"}`)) {
		t.Errorf("unknown fields dropped: %s", out)
	}
}

func TestEmptyMessagesRejected(t *testing.T) {
	_, err := ChatToResponses(&ChatRequest{Model: "gpt-4o"}, RequestOptions{})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidRequestError", err)
	}
	if invalid.Path != "messages" {
		t.Errorf("path = %q", invalid.Path)
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	req := &ChatRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "narrator", Content: json.RawMessage(`"x"`)}},
	}
	_, err := ChatToResponses(req, RequestOptions{})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidRequestError", err)
	}
	if invalid.Path != "messages[0].role" {
		t.Errorf("path = %q", invalid.Path)
	}
}

func TestMalformedPartNamesPath(t *testing.T) {
	req := &ChatRequest{
		Model: "gpt-4o",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: json.RawMessage(`[{"type":"text","text":"ok"},{"type":"audio","data":"…"}]`)},
		},
	}
	_, err := ChatToResponses(req, RequestOptions{})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v", err)
	}
	if invalid.Path != "messages[0].content[1]" {
		t.Errorf("path = %q", invalid.Path)
	}
}

func TestInstructionsExtractionOptIn(t *testing.T) {
	req := &ChatRequest{
		Model: "gpt-4o",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: json.RawMessage(`"be terse"`)},
			{Role: RoleUser, Content: json.RawMessage(`"hi"`)},
		},
	}

	plain, err := ChatToResponses(req, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Instructions != "" || len(plain.Input) != 2 {
		t.Errorf("default should keep system inline: instructions=%q items=%d", plain.Instructions, len(plain.Input))
	}

	extracted, err := ChatToResponses(req, RequestOptions{ExtractInstructions: true})
	if err != nil {
		t.Fatal(err)
	}
	if extracted.Instructions != "be terse" || len(extracted.Input) != 1 {
		t.Errorf("extraction failed: instructions=%q items=%d", extracted.Instructions, len(extracted.Input))
	}
}

func TestReasoningPassThroughForCapableModels(t *testing.T) {
	base := ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: json.RawMessage(`"x"`)}},
		Extra:    map[string]json.RawMessage{"reasoning_effort": json.RawMessage(`"high"`)},
	}

	o3 := base
	o3.Model = "o3-mini"
	out, err := ChatToResponses(&o3, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out.Reasoning, []byte(`"effort":"high"`)) {
		t.Errorf("reasoning = %s", out.Reasoning)
	}
	if _, leaked := out.Extra["reasoning_effort"]; leaked {
		t.Errorf("reasoning_effort left in extras")
	}

	plain := base
	plain.Model = "gpt-4o"
	out, err = ChatToResponses(&plain, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reasoning != nil {
		t.Errorf("non-reasoning model got reasoning: %s", out.Reasoning)
	}
}

func TestMaxTokensZeroForwards(t *testing.T) {
	req := &ChatRequest{
		Model:     "gpt-4o",
		Messages:  []ChatMessage{{Role: RoleUser, Content: json.RawMessage(`"x"`)}},
		MaxTokens: intPtr(0),
	}
	out, err := ChatToResponses(req, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.MaxOutputTokens == nil || *out.MaxOutputTokens != 0 {
		t.Errorf("max_output_tokens = %v, want 0 forwarded", out.MaxOutputTokens)
	}
}
