package convert

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ChatToolsToResponses flattens Chat-form function tools
// ({type:"function",function:{name,description,parameters}}) into the
// Responses form ({type:"function",name,description,parameters}).
// Tools of any other type pass through byte-identical.
func ChatToolsToResponses(tools []json.RawMessage) ([]json.RawMessage, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(tools))
	for _, raw := range tools {
		t := gjson.GetBytes(raw, "type").String()
		fn := gjson.GetBytes(raw, "function")
		if t != "function" || !fn.Exists() {
			out = append(out, raw)
			continue
		}
		flat := raw
		var err error
		for _, key := range []string{"name", "description", "parameters", "strict"} {
			v := fn.Get(key)
			if !v.Exists() {
				continue
			}
			flat, err = sjson.SetRawBytes(flat, key, []byte(v.Raw))
			if err != nil {
				return nil, err
			}
		}
		flat, err = sjson.DeleteBytes(flat, "function")
		if err != nil {
			return nil, err
		}
		out = append(out, flat)
	}
	return out, nil
}

// ResponsesToolsToChat nests flat Responses function tools back under a
// "function" object. Non-function tools pass through unchanged.
func ResponsesToolsToChat(tools []json.RawMessage) ([]json.RawMessage, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(tools))
	for _, raw := range tools {
		t := gjson.GetBytes(raw, "type").String()
		if t != "function" || gjson.GetBytes(raw, "function").Exists() || !gjson.GetBytes(raw, "name").Exists() {
			out = append(out, raw)
			continue
		}
		nested := raw
		var err error
		for _, key := range []string{"name", "description", "parameters", "strict"} {
			v := gjson.GetBytes(raw, key)
			if !v.Exists() {
				continue
			}
			nested, err = sjson.SetRawBytes(nested, "function."+key, []byte(v.Raw))
			if err != nil {
				return nil, err
			}
			nested, err = sjson.DeleteBytes(nested, key)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, nested)
	}
	return out, nil
}

// ChatToolChoiceToResponses renormalizes the specific-function tool_choice
// form {type:"function",function:{name}} to the Responses shape
// {type:"function",name}. String forms ("auto"/"none"/"required") and any
// unrecognized shape pass through unchanged.
func ChatToolChoiceToResponses(choice json.RawMessage) json.RawMessage {
	if len(choice) == 0 {
		return nil
	}
	name := gjson.GetBytes(choice, "function.name")
	if gjson.GetBytes(choice, "type").String() != "function" || !name.Exists() {
		return choice
	}
	out, err := sjson.SetBytes(choice, "name", name.String())
	if err != nil {
		return choice
	}
	out, err = sjson.DeleteBytes(out, "function")
	if err != nil {
		return choice
	}
	return out
}

// ResponsesToolChoiceToChat is the inverse renormalization,
// {type:"function",name} back to {type:"function",function:{name}}.
func ResponsesToolChoiceToChat(choice json.RawMessage) json.RawMessage {
	if len(choice) == 0 {
		return nil
	}
	name := gjson.GetBytes(choice, "name")
	if gjson.GetBytes(choice, "type").String() != "function" || !name.Exists() ||
		gjson.GetBytes(choice, "function").Exists() {
		return choice
	}
	out, err := sjson.SetBytes(choice, "function.name", name.String())
	if err != nil {
		return choice
	}
	out, err = sjson.DeleteBytes(out, "name")
	if err != nil {
		return choice
	}
	return out
}

// ToolName extracts the function name from a tool definition in either form.
// Returns "" for non-function tools.
func ToolName(raw json.RawMessage) string {
	if n := gjson.GetBytes(raw, "function.name"); n.Exists() {
		return n.String()
	}
	if gjson.GetBytes(raw, "type").String() == "function" {
		return gjson.GetBytes(raw, "name").String()
	}
	return ""
}
