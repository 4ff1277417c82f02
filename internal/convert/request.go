package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// reasoningPrefixes marks model families that accept a reasoning parameter.
var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// ReasoningCapable reports whether the model accepts reasoning parameters.
func ReasoningCapable(model string) bool {
	for _, p := range reasoningPrefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// RequestOptions tunes the request-direction transforms.
type RequestOptions struct {
	// Conversation, when set, becomes the Responses `conversation` field.
	Conversation string
	// ExtractInstructions lifts the text of a leading system message into the
	// top-level `instructions` field instead of keeping it as an input item.
	// Off by default: some clients use system messages for few-shot turns.
	ExtractInstructions bool
}

// ChatToResponses translates a Chat Completions request into a Responses
// request. The input is not mutated.
func ChatToResponses(req *ChatRequest, opts RequestOptions) (*ResponsesRequest, error) {
	if len(req.Messages) == 0 {
		return nil, invalidf("messages", "must not be empty")
	}

	out := &ResponsesRequest{
		Model:            req.Model,
		MaxOutputTokens:  req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		LogitBias:        req.LogitBias,
		User:             req.User,
		N:                req.N,
		ResponseFormat:   req.ResponseFormat,
		Stream:           req.Stream,
		Conversation:     opts.Conversation,
	}

	msgs := req.Messages
	if opts.ExtractInstructions && msgs[0].Role == RoleSystem {
		text, ok := contentAsString(msgs[0].Content)
		if ok {
			out.Instructions = text
			msgs = msgs[1:]
		}
	}

	for i, m := range msgs {
		items, err := chatMessageToItems(m, fmt.Sprintf("messages[%d]", i))
		if err != nil {
			return nil, err
		}
		out.Input = append(out.Input, items...)
	}

	tools, err := ChatToolsToResponses(req.Tools)
	if err != nil {
		return nil, invalidf("tools", "%v", err)
	}
	out.Tools = tools
	out.ToolChoice = ChatToolChoiceToResponses(req.ToolChoice)

	extra := cloneExtra(req.Extra)
	if ReasoningCapable(req.Model) {
		if raw, ok := extra["reasoning"]; ok {
			out.Reasoning = raw
			delete(extra, "reasoning")
		} else if raw, ok := extra["reasoning_effort"]; ok {
			if r, err := sjson.SetRawBytes([]byte(`{}`), "effort", raw); err == nil {
				out.Reasoning = r
				delete(extra, "reasoning_effort")
			}
		}
	}
	out.Extra = extra

	return out, nil
}

// chatMessageToItems maps one chat message onto one or more input items:
// the message itself (when it has content), plus a function_call item per
// assistant tool call.
func chatMessageToItems(m ChatMessage, path string) ([]InputItem, error) {
	role := m.Role
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	case RoleFunction:
		role = RoleTool
	default:
		return nil, invalidf(path+".role", "unknown role %q", m.Role)
	}

	var items []InputItem

	if len(m.Content) > 0 && string(m.Content) != "null" {
		parts, err := contentToParts(m.Content, role, path+".content")
		if err != nil {
			return nil, err
		}
		items = append(items, InputItem{
			Type:       "message",
			Role:       role,
			Content:    parts,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		})
	}

	for _, tc := range m.ToolCalls {
		items = append(items, InputItem{
			Type:      "function_call",
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	if len(items) == 0 {
		return nil, invalidf(path, "message has neither content nor tool_calls")
	}
	return items, nil
}

// contentToParts maps a chat content value (string or part array) to typed
// Responses parts. Assistant text becomes output_text, everything else
// input_text.
func contentToParts(raw json.RawMessage, role, path string) ([]Part, error) {
	textType := PartInputText
	if role == RoleAssistant {
		textType = PartOutputText
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []Part{{Type: textType, Text: s}}, nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, invalidf(path, "content must be a string or an array of parts")
	}

	parts := make([]Part, 0, len(arr))
	for i, p := range arr {
		ppath := fmt.Sprintf("%s[%d]", path, i)
		switch gjson.GetBytes(p, "type").String() {
		case "text":
			t := gjson.GetBytes(p, "text")
			if !t.Exists() {
				return nil, invalidf(ppath, "text part missing text")
			}
			parts = append(parts, Part{Type: textType, Text: t.String()})
		case "image_url":
			u := gjson.GetBytes(p, "image_url.url")
			if !u.Exists() {
				return nil, invalidf(ppath, "image_url part missing image_url.url")
			}
			parts = append(parts, Part{
				Type:     PartInputImage,
				ImageURL: u.String(),
				Detail:   gjson.GetBytes(p, "image_url.detail").String(),
			})
		case "input_text":
			parts = append(parts, Part{Type: textType, Text: gjson.GetBytes(p, "text").String()})
		case "input_image":
			parts = append(parts, Part{
				Type:     PartInputImage,
				ImageURL: gjson.GetBytes(p, "image_url").String(),
				Detail:   gjson.GetBytes(p, "detail").String(),
			})
		default:
			return nil, invalidf(ppath, "unsupported content part type %q", gjson.GetBytes(p, "type").String())
		}
	}
	return parts, nil
}

// ResponsesToChat translates a Responses request into a Chat Completions
// request, the inverse direction for Responses clients with Chat upstreams.
func ResponsesToChat(req *ResponsesRequest) (*ChatRequest, error) {
	out := &ChatRequest{
		Model:            req.Model,
		MaxTokens:        req.MaxOutputTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		LogitBias:        req.LogitBias,
		User:             req.User,
		N:                req.N,
		ResponseFormat:   req.ResponseFormat,
		Stream:           req.Stream,
	}

	if req.Instructions != "" {
		content, _ := json.Marshal(req.Instructions)
		out.Messages = append(out.Messages, ChatMessage{Role: RoleSystem, Content: content})
	}

	for i, item := range req.Input {
		path := fmt.Sprintf("input[%d]", i)
		msg, err := itemToChatMessage(item, path)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			out.Messages = append(out.Messages, *msg)
		}
	}
	if len(out.Messages) == 0 {
		return nil, invalidf("input", "must not be empty")
	}
	out.Messages = mergeAssistantToolCalls(out.Messages)

	tools, err := ResponsesToolsToChat(req.Tools)
	if err != nil {
		return nil, invalidf("tools", "%v", err)
	}
	out.Tools = tools
	out.ToolChoice = ResponsesToolChoiceToChat(req.ToolChoice)

	extra := cloneExtra(req.Extra)
	if len(req.Reasoning) > 0 && ReasoningCapable(req.Model) {
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra["reasoning"] = req.Reasoning
	}
	out.Extra = extra

	return out, nil
}

func itemToChatMessage(item InputItem, path string) (*ChatMessage, error) {
	switch item.Type {
	case "function_call":
		return &ChatMessage{
			Role: RoleAssistant,
			ToolCalls: []ChatToolCall{{
				ID:       item.CallID,
				Type:     "function",
				Function: ChatFunctionCall{Name: item.Name, Arguments: item.Arguments},
			}},
		}, nil
	case "function_call_output":
		content, _ := json.Marshal(item.Output)
		return &ChatMessage{Role: RoleTool, Content: content, ToolCallID: item.CallID}, nil
	case "", "message":
	default:
		return nil, invalidf(path, "unsupported input item type %q", item.Type)
	}

	switch item.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, "developer":
	default:
		return nil, invalidf(path+".role", "unknown role %q", item.Role)
	}
	role := item.Role
	if role == "developer" {
		role = RoleSystem
	}

	content, err := partsToChatContent(item.Content, path+".content")
	if err != nil {
		return nil, err
	}
	return &ChatMessage{
		Role:       role,
		Content:    content,
		Name:       item.Name,
		ToolCallID: item.ToolCallID,
	}, nil
}

// partsToChatContent collapses a single text part to a plain string, the
// chat-idiomatic shape; anything else becomes a part array.
func partsToChatContent(parts []Part, path string) (json.RawMessage, error) {
	if len(parts) == 1 && (parts[0].Type == PartInputText || parts[0].Type == PartOutputText) {
		return json.Marshal(parts[0].Text)
	}

	arr := make([]json.RawMessage, 0, len(parts))
	for i, p := range parts {
		switch p.Type {
		case PartInputText, PartOutputText, PartRefusal:
			b, _ := json.Marshal(map[string]string{"type": "text", "text": p.Text})
			arr = append(arr, b)
		case PartInputImage:
			img := map[string]string{"url": p.ImageURL}
			if p.Detail != "" {
				img["detail"] = p.Detail
			}
			b, _ := json.Marshal(map[string]any{"type": "image_url", "image_url": img})
			arr = append(arr, b)
		default:
			return nil, invalidf(fmt.Sprintf("%s[%d]", path, i), "unsupported part type %q", p.Type)
		}
	}
	return json.Marshal(arr)
}

// mergeAssistantToolCalls folds a tool_calls-only assistant message into a
// directly preceding assistant message, restoring the chat shape where one
// assistant turn carries both its text and its calls.
func mergeAssistantToolCalls(msgs []ChatMessage) []ChatMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if len(out) > 0 && m.Role == RoleAssistant && len(m.Content) == 0 && len(m.ToolCalls) > 0 {
			prev := &out[len(out)-1]
			if prev.Role == RoleAssistant {
				prev.ToolCalls = append(prev.ToolCalls, m.ToolCalls...)
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func contentAsString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return "", false
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
