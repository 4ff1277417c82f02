package router

import (
	"sort"
	"strings"
)

// PrefixRule maps a model-name prefix to a static upstream.
type PrefixRule struct {
	Prefix  string
	BaseURL string
	AuthEnv string
	Mode    string
}

// ParsePrefixRules parses the prefix-rule environment string. Rules are
// key=value pairs separated by `;` or `,`; a new rule starts at each
// `prefix=` key, so both of these parse identically:
//
//	prefix=claude-;base=https://api.anthropic.com/v1;key_env=ANTHROPIC_API_KEY;mode=responses
//	prefix=claude-,base=https://api.anthropic.com/v1,key_env=ANTHROPIC_API_KEY,mode=responses
//
// Rules missing prefix or base are dropped.
func ParsePrefixRules(raw string) []PrefixRule {
	var rules []PrefixRule
	var cur *PrefixRule

	flush := func() {
		if cur != nil && cur.Prefix != "" && cur.BaseURL != "" {
			rules = append(rules, *cur)
		}
		cur = nil
	}

	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' }) {
		tok = strings.TrimSpace(tok)
		if tok == "" || !strings.Contains(tok, "=") {
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		if val == "" {
			continue
		}
		switch key {
		case "prefix":
			flush()
			cur = &PrefixRule{Prefix: val, Mode: ModeChat}
		case "base", "base_url":
			if cur != nil {
				cur.BaseURL = val
			}
		case "key_env", "api_key_env":
			if cur != nil {
				cur.AuthEnv = val
			}
		case "mode":
			if cur != nil {
				if strings.EqualFold(val, ModeResponses) {
					cur.Mode = ModeResponses
				} else {
					cur.Mode = ModeChat
				}
			}
		}
	}
	flush()
	return rules
}

// MatchPrefixRule returns the matching rule for model, or nil. Longer
// prefixes win; among equal lengths, configured order decides.
func MatchPrefixRule(rules []PrefixRule, model string) *PrefixRule {
	ordered := make([]PrefixRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Prefix) > len(ordered[j].Prefix)
	})
	for i := range ordered {
		if strings.HasPrefix(model, ordered[i].Prefix) {
			return &ordered[i]
		}
	}
	return nil
}

// planFromRule materializes a synthetic RoutePlan from a matched rule.
func planFromRule(rule *PrefixRule, model string) *RoutePlan {
	return &RoutePlan{
		BaseURL: rule.BaseURL,
		Mode:    rule.Mode,
		ModelID: model,
		AuthEnv: rule.AuthEnv,
		RouteID: "rule:" + rule.Prefix,
	}
}
