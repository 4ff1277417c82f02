// Package compose merges the configured system prompt and federated MCP
// tools into an outbound payload before forwarding. Composition is
// idempotent for a given configuration snapshot and request.
package compose

import (
	"context"
	"encoding/json"

	"github.com/routiium/routiium/internal/convert"
	"github.com/routiium/routiium/internal/mcp"
	"github.com/routiium/routiium/internal/prompt"
)

// Composer applies prompt injection and tool federation.
// Either collaborator may be nil, which disables that concern.
type Composer struct {
	prompts *prompt.Store
	mcp     *mcp.Manager
}

// New creates a Composer.
func New(prompts *prompt.Store, manager *mcp.Manager) *Composer {
	return &Composer{prompts: prompts, mcp: manager}
}

// Result reports what composition did, for response headers and analytics.
type Result struct {
	PromptApplied bool
	MCPEnabled    bool
	MCPServers    []string
}

// ComposeChat applies the system prompt and MCP tools to a Chat request
// in place.
func (c *Composer) ComposeChat(ctx context.Context, req *convert.ChatRequest) Result {
	var res Result

	if p := c.promptFor(req.Model, "chat"); p != "" {
		injectChatPrompt(req, p, c.injectionMode())
		res.PromptApplied = true
	}

	if c.mcp != nil {
		res.MCPServers = c.mcp.ServerNames()
		res.MCPEnabled = len(res.MCPServers) > 0
		req.Tools = mergeTools(req.Tools, c.mcp.ListAllTools(ctx), chatToolDef)
	}
	return res
}

// ComposeResponses applies the system prompt and MCP tools to a Responses
// request in place.
func (c *Composer) ComposeResponses(ctx context.Context, req *convert.ResponsesRequest) Result {
	var res Result

	if p := c.promptFor(req.Model, "responses"); p != "" {
		injectResponsesPrompt(req, p, c.injectionMode())
		res.PromptApplied = true
	}

	if c.mcp != nil {
		res.MCPServers = c.mcp.ServerNames()
		res.MCPEnabled = len(res.MCPServers) > 0
		req.Tools = mergeTools(req.Tools, c.mcp.ListAllTools(ctx), responsesToolDef)
	}
	return res
}

func (c *Composer) promptFor(model, api string) string {
	if c.prompts == nil {
		return ""
	}
	return c.prompts.Current().PromptFor(model, api)
}

func (c *Composer) injectionMode() string {
	if c.prompts == nil {
		return prompt.ModePrepend
	}
	return c.prompts.Current().InjectionMode
}

func injectChatPrompt(req *convert.ChatRequest, text, mode string) {
	content, _ := json.Marshal(text)
	msg := convert.ChatMessage{Role: convert.RoleSystem, Content: content}

	switch mode {
	case prompt.ModeReplace:
		kept := req.Messages[:0]
		for _, m := range req.Messages {
			if m.Role != convert.RoleSystem {
				kept = append(kept, m)
			}
		}
		req.Messages = append([]convert.ChatMessage{msg}, kept...)
	case prompt.ModeAppend:
		pos := lastIndexChat(req.Messages, convert.RoleSystem)
		if pos < 0 {
			req.Messages = append(req.Messages, msg)
			return
		}
		req.Messages = append(req.Messages[:pos+1],
			append([]convert.ChatMessage{msg}, req.Messages[pos+1:]...)...)
	default: // prepend
		req.Messages = append([]convert.ChatMessage{msg}, req.Messages...)
	}
}

func injectResponsesPrompt(req *convert.ResponsesRequest, text, mode string) {
	item := convert.InputItem{
		Type:    "message",
		Role:    convert.RoleSystem,
		Content: []convert.Part{{Type: convert.PartInputText, Text: text}},
	}

	switch mode {
	case prompt.ModeReplace:
		kept := req.Input[:0]
		for _, it := range req.Input {
			if it.Role != convert.RoleSystem {
				kept = append(kept, it)
			}
		}
		req.Input = append([]convert.InputItem{item}, kept...)
	case prompt.ModeAppend:
		pos := lastIndexItems(req.Input, convert.RoleSystem)
		if pos < 0 {
			req.Input = append(req.Input, item)
			return
		}
		req.Input = append(req.Input[:pos+1],
			append([]convert.InputItem{item}, req.Input[pos+1:]...)...)
	default: // prepend
		req.Input = append([]convert.InputItem{item}, req.Input...)
	}
}

func lastIndexChat(msgs []convert.ChatMessage, role string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return i
		}
	}
	return -1
}

func lastIndexItems(items []convert.InputItem, role string) int {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Role == role {
			return i
		}
	}
	return -1
}

// mergeTools appends MCP tools to the client's tool list. Client-declared
// tools win on name collision; the MCP tool is dropped.
func mergeTools(existing []json.RawMessage, tools []mcp.Tool, build func(mcp.Tool) json.RawMessage) []json.RawMessage {
	if len(tools) == 0 {
		return existing
	}
	taken := make(map[string]bool, len(existing))
	for _, raw := range existing {
		if name := convert.ToolName(raw); name != "" {
			taken[name] = true
		}
	}
	out := existing
	for _, t := range tools {
		name := t.QualifiedName()
		if taken[name] {
			continue
		}
		taken[name] = true
		out = append(out, build(t))
	}
	return out
}

func chatToolDef(t mcp.Tool) json.RawMessage {
	fn := map[string]any{"name": t.QualifiedName()}
	if t.Description != "" {
		fn["description"] = t.Description
	}
	if len(t.InputSchema) > 0 {
		fn["parameters"] = json.RawMessage(t.InputSchema)
	}
	b, _ := json.Marshal(map[string]any{"type": "function", "function": fn})
	return b
}

func responsesToolDef(t mcp.Tool) json.RawMessage {
	def := map[string]any{"type": "function", "name": t.QualifiedName()}
	if t.Description != "" {
		def["description"] = t.Description
	}
	if len(t.InputSchema) > 0 {
		def["parameters"] = json.RawMessage(t.InputSchema)
	}
	b, _ := json.Marshal(def)
	return b
}
