package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	calls    atomic.Int64
	lastReq  *RouteRequest
	plan     *RoutePlan
	err      error
	feedback []*RouteFeedback
}

func (f *fakeClient) Route(_ context.Context, req *RouteRequest) (*RoutePlan, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	plan := *f.plan
	return &plan, nil
}

func (f *fakeClient) Feedback(_ context.Context, fb *RouteFeedback) error {
	f.feedback = append(f.feedback, fb)
	return nil
}

func plan(token string) *RoutePlan {
	return &RoutePlan{
		BaseURL:    "https://backend.example/v1",
		Mode:       ModeResponses,
		ModelID:    "gpt-4o-routed",
		RouteID:    "route-1",
		Cache:      PlanCache{TTLMs: 60_000},
		Stickiness: PlanStickiness{PlanToken: token},
	}
}

func TestParsePrefixRules(t *testing.T) {
	raw := "prefix=claude-;base=https://api.anthropic.com/v1;key_env=ANTHROPIC_API_KEY;mode=responses;" +
		"prefix=llama-;base=http://localhost:11434/v1;mode=chat"
	rules := ParsePrefixRules(raw)
	if len(rules) != 2 {
		t.Fatalf("rules = %d", len(rules))
	}
	if rules[0].Prefix != "claude-" || rules[0].AuthEnv != "ANTHROPIC_API_KEY" || rules[0].Mode != ModeResponses {
		t.Errorf("rules[0] = %+v", rules[0])
	}
	if rules[1].Prefix != "llama-" || rules[1].Mode != ModeChat {
		t.Errorf("rules[1] = %+v", rules[1])
	}
}

func TestParsePrefixRulesDropsIncomplete(t *testing.T) {
	rules := ParsePrefixRules("prefix=broken-;mode=chat;prefix=ok-;base=http://x")
	if len(rules) != 1 || rules[0].Prefix != "ok-" {
		t.Errorf("rules = %+v", rules)
	}
}

func TestMatchPrefixRuleLongestWins(t *testing.T) {
	rules := []PrefixRule{
		{Prefix: "gpt-", BaseURL: "http://short"},
		{Prefix: "gpt-4o", BaseURL: "http://long"},
	}
	m := MatchPrefixRule(rules, "gpt-4o-mini")
	if m == nil || m.BaseURL != "http://long" {
		t.Errorf("match = %+v", m)
	}
	if MatchPrefixRule(rules, "claude-3") != nil {
		t.Error("unexpected match")
	}
}

func TestPrefixFallbackWithoutRouter(t *testing.T) {
	r := NewResolver(Options{
		Rules: ParsePrefixRules("prefix=claude-;base=https://api.anthropic.com/v1;key_env=ANTHROPIC_API_KEY;mode=responses"),
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeResponses, AuthEnv: "OPENAI_API_KEY"},
	})

	p, state, err := r.Resolve(context.Background(), Input{Model: "claude-3-5-sonnet", Surface: ModeChat})
	if err != nil {
		t.Fatal(err)
	}
	if state != "" {
		t.Errorf("cache state = %q for rule match", state)
	}
	if p.BaseURL != "https://api.anthropic.com/v1" || p.AuthEnv != "ANTHROPIC_API_KEY" || p.Mode != ModeResponses {
		t.Errorf("plan = %+v", p)
	}
	if p.ModelID != "claude-3-5-sonnet" {
		t.Errorf("model_id = %q", p.ModelID)
	}
}

func TestDefaultFallback(t *testing.T) {
	r := NewResolver(Options{
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat, AuthEnv: "OPENAI_API_KEY"},
	})
	p, _, err := r.Resolve(context.Background(), Input{Model: "anything", Surface: ModeChat})
	if err != nil {
		t.Fatal(err)
	}
	if p.BaseURL != "https://api.openai.com/v1" || p.ModelID != "anything" || p.RouteID != "default" {
		t.Errorf("plan = %+v", p)
	}
}

func TestPlanCacheSingleRouterCall(t *testing.T) {
	fc := &fakeClient{plan: plan("")}
	r := NewResolver(Options{
		Client:   fc,
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat},
	})

	in := Input{Model: "gpt-4o", Surface: ModeChat, RequestID: "r1"}
	if _, state, err := r.Resolve(context.Background(), in); err != nil || state != CacheMiss {
		t.Fatalf("first resolve: state=%q err=%v", state, err)
	}
	if _, state, err := r.Resolve(context.Background(), in); err != nil || state != CacheHit {
		t.Fatalf("second resolve: state=%q err=%v", state, err)
	}
	if n := fc.calls.Load(); n != 1 {
		t.Errorf("router calls = %d, want 1", n)
	}
}

func TestPlanCacheExpiry(t *testing.T) {
	fc := &fakeClient{plan: plan("")}
	r := NewResolver(Options{
		Client:   fc,
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat},
	})
	now := time.Now()
	r.now = func() time.Time { return now }

	in := Input{Model: "gpt-4o", Surface: ModeChat}
	r.Resolve(context.Background(), in)
	now = now.Add(2 * time.Minute) // past the 60s plan TTL
	_, state, _ := r.Resolve(context.Background(), in)
	if state != CacheMiss {
		t.Errorf("state after expiry = %q", state)
	}
	if n := fc.calls.Load(); n != 2 {
		t.Errorf("router calls = %d, want 2", n)
	}
}

func TestStickinessTokenEchoed(t *testing.T) {
	fc := &fakeClient{plan: plan("pt-123")}
	r := NewResolver(Options{
		Client:   fc,
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat},
	})
	now := time.Now()
	r.now = func() time.Time { return now }

	in := Input{Model: "gpt-4o", Surface: ModeChat, ConversationID: "c1"}
	if _, _, err := r.Resolve(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	// Force a second router call in the same conversation.
	now = now.Add(2 * time.Minute)
	if _, _, err := r.Resolve(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if fc.lastReq.PlanToken != "pt-123" {
		t.Errorf("plan_token = %q, want pt-123", fc.lastReq.PlanToken)
	}
}

func TestTransportErrorFallsBackToRules(t *testing.T) {
	fc := &fakeClient{err: errors.New("connection refused")}
	r := NewResolver(Options{
		Client: fc,
		Rules:  ParsePrefixRules("prefix=gpt-;base=http://fallback/v1;mode=chat"),
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat},
	})
	p, _, err := r.Resolve(context.Background(), Input{Model: "gpt-4o", Surface: ModeChat})
	if err != nil {
		t.Fatal(err)
	}
	if p.BaseURL != "http://fallback/v1" {
		t.Errorf("plan = %+v", p)
	}
}

func TestStrictModeRejects(t *testing.T) {
	fc := &fakeClient{err: ErrRejected}
	r := NewResolver(Options{
		Client: fc,
		Strict: true,
		Rules:  ParsePrefixRules("prefix=gpt-;base=http://fallback/v1"),
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat},
	})
	_, _, err := r.Resolve(context.Background(), Input{Model: "gpt-4o", Surface: ModeChat})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestStaleServedOnTransportError(t *testing.T) {
	fc := &fakeClient{plan: plan("")}
	r := NewResolver(Options{
		Client:   fc,
		Defaults: Defaults{BaseURL: "https://api.openai.com/v1", Mode: ModeChat},
	})
	now := time.Now()
	r.now = func() time.Time { return now }

	in := Input{Model: "gpt-4o", Surface: ModeChat}
	r.Resolve(context.Background(), in)

	now = now.Add(2 * time.Minute)
	fc.err = errors.New("router down")
	p, state, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if state != CacheStale {
		t.Errorf("state = %q, want stale", state)
	}
	if p.RouteID != "route-1" {
		t.Errorf("plan = %+v", p)
	}
}

func TestPrivacyModes(t *testing.T) {
	turns := []Turn{{Role: "user", Text: "first"}, {Role: "assistant", Text: "ok"}, {Role: "user", Text: "secret question"}}

	for _, tc := range []struct {
		privacy     string
		wantSummary bool
		wantTurns   bool
	}{
		{PrivacyFeatures, false, false},
		{PrivacySummary, true, false},
		{PrivacyFull, false, true},
	} {
		fc := &fakeClient{plan: plan("")}
		r := NewResolver(Options{
			Client:   fc,
			Privacy:  tc.privacy,
			Defaults: Defaults{BaseURL: "https://x", Mode: ModeChat},
		})
		r.Resolve(context.Background(), Input{
			Model: "gpt-4o", Surface: ModeChat,
			LastUserText: "secret question", Turns: turns,
		})
		req := fc.lastReq
		if req.ContentMode != tc.privacy {
			t.Errorf("%s: content_mode = %q", tc.privacy, req.ContentMode)
		}
		if (req.ContentSummary != "") != tc.wantSummary {
			t.Errorf("%s: summary = %q", tc.privacy, req.ContentSummary)
		}
		if (len(req.ContentMessages) > 0) != tc.wantTurns {
			t.Errorf("%s: turns = %d", tc.privacy, len(req.ContentMessages))
		}
	}
}

func TestMaxTTLClamp(t *testing.T) {
	p := plan("")
	p.Cache.TTLMs = int64(time.Hour / time.Millisecond)
	now := time.Now()
	until := p.validUntil(now, 5*time.Minute)
	if until.After(now.Add(5*time.Minute + time.Second)) {
		t.Errorf("validUntil %v exceeds max TTL", until)
	}
}
