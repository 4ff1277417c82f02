package analytics

import "testing"

func TestCostMicroUnits(t *testing.T) {
	cfg := &PricingConfig{
		Models: map[string]ModelPricing{
			"gpt-4o": {InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedPerMillion: 1.25},
		},
	}

	cost := cfg.CostFor("gpt-4o", &Usage{
		PromptTokens:     1_000_000,
		CompletionTokens: 500_000,
		CachedTokens:     200_000,
	})
	if cost == nil {
		t.Fatal("nil cost")
	}
	// 1M input at $2.50/M = $2.50 = 2_500_000 micro-dollars.
	if cost.InputMicros != 2_500_000 {
		t.Errorf("input = %d", cost.InputMicros)
	}
	if cost.OutputMicros != 5_000_000 {
		t.Errorf("output = %d", cost.OutputMicros)
	}
	if cost.CachedMicros != 250_000 {
		t.Errorf("cached = %d", cost.CachedMicros)
	}
	if cost.TotalMicros != 7_750_000 {
		t.Errorf("total = %d", cost.TotalMicros)
	}
}

func TestLongestPrefixMatch(t *testing.T) {
	cfg := &PricingConfig{
		Models: map[string]ModelPricing{
			"gpt-4o":      {InputPerMillion: 2.50},
			"gpt-4o-mini": {InputPerMillion: 0.15},
		},
		Default: &ModelPricing{InputPerMillion: 1.00},
	}

	if r := cfg.RatesFor("gpt-4o-mini-2024-07-18"); r.InputPerMillion != 0.15 {
		t.Errorf("rates = %+v, want mini", r)
	}
	if r := cfg.RatesFor("gpt-4o-2024-11-20"); r.InputPerMillion != 2.50 {
		t.Errorf("rates = %+v, want 4o", r)
	}
	if r := cfg.RatesFor("unknown-model"); r.InputPerMillion != 1.00 {
		t.Errorf("rates = %+v, want default", r)
	}
}

func TestNoRatesYieldsNilCost(t *testing.T) {
	cfg := &PricingConfig{Models: map[string]ModelPricing{}}
	if cost := cfg.CostFor("mystery", &Usage{PromptTokens: 10}); cost != nil {
		t.Errorf("cost = %+v, want nil", cost)
	}
}

func TestSmallCountsStayExact(t *testing.T) {
	cfg := DefaultPricing()
	cost := cfg.CostFor("gpt-4o-mini", &Usage{PromptTokens: 10, CompletionTokens: 32})
	// 10 tokens at $0.15/M = 1.5 micro-dollars, rounds to 2.
	if cost.InputMicros != 2 {
		t.Errorf("input = %d", cost.InputMicros)
	}
	// 32 tokens at $0.60/M = 19.2 micro-dollars, rounds to 19.
	if cost.OutputMicros != 19 {
		t.Errorf("output = %d", cost.OutputMicros)
	}
}
