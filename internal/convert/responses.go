package convert

import (
	"encoding/json"
)

// Responses content part types.
const (
	PartInputText   = "input_text"
	PartInputImage  = "input_image"
	PartOutputText  = "output_text"
	PartRefusal     = "refusal"
)

// Part is a typed content part inside a Responses input or output item.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// InputItem is one element of the Responses input array. Message items carry
// role+content; function_call and function_call_output items carry the tool
// plumbing fields instead.
type InputItem struct {
	Type       string `json:"type,omitempty"`
	Role       string `json:"role,omitempty"`
	Content    []Part `json:"content,omitempty"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Output     string `json:"output,omitempty"`
}

// ResponsesRequest is the typed subset of a Responses API request.
// Unknown top-level fields are preserved in Extra.
type ResponsesRequest struct {
	Model              string            `json:"model"`
	Input              []InputItem       `json:"input"`
	Instructions       string            `json:"instructions,omitempty"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	TopP               *float64          `json:"top_p,omitempty"`
	Stop               json.RawMessage   `json:"stop,omitempty"`
	PresencePenalty    *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty   *float64          `json:"frequency_penalty,omitempty"`
	LogitBias          json.RawMessage   `json:"logit_bias,omitempty"`
	User               string            `json:"user,omitempty"`
	N                  *int              `json:"n,omitempty"`
	Tools              []json.RawMessage `json:"tools,omitempty"`
	ToolChoice         json.RawMessage   `json:"tool_choice,omitempty"`
	ResponseFormat     json.RawMessage   `json:"response_format,omitempty"`
	Reasoning          json.RawMessage   `json:"reasoning,omitempty"`
	Conversation       string            `json:"conversation,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Stream             *bool             `json:"stream,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var responsesRequestKnown = []string{
	"model", "input", "instructions", "max_output_tokens", "temperature",
	"top_p", "stop", "presence_penalty", "frequency_penalty", "logit_bias",
	"user", "n", "tools", "tool_choice", "response_format", "reasoning",
	"conversation", "previous_response_id", "stream",
}

func (r *ResponsesRequest) UnmarshalJSON(data []byte) error {
	type alias ResponsesRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ResponsesRequest(a)
	extra, err := extraFields(data, responsesRequestKnown)
	if err != nil {
		return err
	}
	r.Extra = extra
	return nil
}

func (r ResponsesRequest) MarshalJSON() ([]byte, error) {
	type alias ResponsesRequest
	return marshalWithExtra(alias(r), r.Extra)
}

// OutputItem is one element of a Responses response output array.
type OutputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	Content   []Part `json:"content,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ResponsesUsage is the Responses-side token accounting.
type ResponsesUsage struct {
	InputTokens         int                  `json:"input_tokens"`
	OutputTokens        int                  `json:"output_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	InputTokensDetails  *InputTokensDetails  `json:"input_tokens_details,omitempty"`
	OutputTokensDetails *OutputTokensDetails `json:"output_tokens_details,omitempty"`
}

type InputTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type OutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// ResponsesResponse is the non-streaming Responses API response envelope.
type ResponsesResponse struct {
	ID         string          `json:"id"`
	Object     string          `json:"object"`
	CreatedAt  int64           `json:"created_at"`
	Model      string          `json:"model"`
	Status     string          `json:"status,omitempty"`
	Output     []OutputItem    `json:"output"`
	Usage      *ResponsesUsage `json:"usage,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Incomplete json.RawMessage `json:"incomplete_details,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var responsesResponseKnown = []string{
	"id", "object", "created_at", "model", "status", "output", "usage",
	"error", "incomplete_details",
}

func (r *ResponsesResponse) UnmarshalJSON(data []byte) error {
	type alias ResponsesResponse
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ResponsesResponse(a)
	extra, err := extraFields(data, responsesResponseKnown)
	if err != nil {
		return err
	}
	r.Extra = extra
	return nil
}

func (r ResponsesResponse) MarshalJSON() ([]byte, error) {
	type alias ResponsesResponse
	return marshalWithExtra(alias(r), r.Extra)
}
