package convert

import (
	"encoding/json"
	"strings"
)

// FinishReasonFor maps a Responses completion status plus the presence of
// tool calls onto a Chat finish_reason.
func FinishReasonFor(status string, sawToolCalls bool) string {
	if sawToolCalls {
		return "tool_calls"
	}
	switch status {
	case "incomplete":
		return "length"
	default:
		return "stop"
	}
}

// ResponsesToChatResponse reshapes a non-streaming Responses response into
// the Chat Completions envelope. Text parts concatenate into one assistant
// message; function_call output items become tool_calls.
func ResponsesToChatResponse(resp *ResponsesResponse) *ChatResponse {
	var content strings.Builder
	var toolCalls []ChatToolCall

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, p := range item.Content {
				if p.Type == PartOutputText || p.Type == PartInputText {
					content.WriteString(p.Text)
				}
			}
		case "function_call", "tool_use":
			idx := len(toolCalls)
			toolCalls = append(toolCalls, ChatToolCall{
				Index:    &idx,
				ID:       item.CallID,
				Type:     "function",
				Function: ChatFunctionCall{Name: item.Name, Arguments: item.Arguments},
			})
		}
	}

	finish := FinishReasonFor(resp.Status, len(toolCalls) > 0)
	text := content.String()
	msg := &ChatResponseMessage{Role: RoleAssistant, ToolCalls: toolCalls}
	if text != "" || len(toolCalls) == 0 {
		msg.Content = &text
	}

	out := &ChatResponse{
		ID:      chatIDFor(resp.ID),
		Object:  "chat.completion",
		Created: resp.CreatedAt,
		Model:   resp.Model,
		Choices: []ChatChoice{{Index: 0, Message: msg, FinishReason: &finish}},
		Usage:   responsesUsageToChat(resp.Usage),
		Extra:   resp.Extra,
	}
	return out
}

// ChatToResponsesResponse is the inverse reshape for Responses clients with
// Chat upstreams.
func ChatToResponsesResponse(resp *ChatResponse) *ResponsesResponse {
	out := &ResponsesResponse{
		ID:        responsesIDFor(resp.ID),
		Object:    "response",
		CreatedAt: resp.Created,
		Model:     resp.Model,
		Status:    "completed",
		Usage:     chatUsageToResponses(resp.Usage),
		Extra:     resp.Extra,
	}

	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	if choice.Message == nil {
		return out
	}

	if choice.Message.Content != nil && *choice.Message.Content != "" {
		out.Output = append(out.Output, OutputItem{
			Type:    "message",
			Role:    RoleAssistant,
			Status:  "completed",
			Content: []Part{{Type: PartOutputText, Text: *choice.Message.Content}},
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Output = append(out.Output, OutputItem{
			Type:      "function_call",
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Status:    "completed",
		})
	}

	if choice.FinishReason != nil && *choice.FinishReason == "length" {
		out.Status = "incomplete"
		out.Incomplete = json.RawMessage(`{"reason":"max_output_tokens"}`)
	}
	return out
}

func responsesUsageToChat(u *ResponsesUsage) *ChatUsage {
	if u == nil {
		return nil
	}
	out := &ChatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if u.InputTokensDetails != nil && u.InputTokensDetails.CachedTokens > 0 {
		v := u.InputTokensDetails.CachedTokens
		out.CachedTokens = &v
	}
	if u.OutputTokensDetails != nil && u.OutputTokensDetails.ReasoningTokens > 0 {
		v := u.OutputTokensDetails.ReasoningTokens
		out.ReasoningTokens = &v
	}
	return out
}

func chatUsageToResponses(u *ChatUsage) *ResponsesUsage {
	if u == nil {
		return nil
	}
	out := &ResponsesUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.CachedTokens != nil {
		out.InputTokensDetails = &InputTokensDetails{CachedTokens: *u.CachedTokens}
	}
	if u.ReasoningTokens != nil {
		out.OutputTokensDetails = &OutputTokensDetails{ReasoningTokens: *u.ReasoningTokens}
	}
	return out
}

// chatIDFor derives a chat-style id from a responses id, keeping upstream ids
// traceable across surfaces.
func chatIDFor(id string) string {
	if id == "" {
		return "chatcmpl-unknown"
	}
	if strings.HasPrefix(id, "resp_") {
		return "chatcmpl-" + strings.TrimPrefix(id, "resp_")
	}
	return id
}

func responsesIDFor(id string) string {
	if id == "" {
		return "resp_unknown"
	}
	if strings.HasPrefix(id, "chatcmpl-") {
		return "resp_" + strings.TrimPrefix(id, "chatcmpl-")
	}
	return id
}
