package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// ModelPricing holds per-million-token USD rates for one model family.
type ModelPricing struct {
	InputPerMillion     float64 `json:"input_per_million"`
	OutputPerMillion    float64 `json:"output_per_million"`
	CachedPerMillion    float64 `json:"cached_per_million,omitempty"`
	ReasoningPerMillion float64 `json:"reasoning_per_million,omitempty"`
}

// PricingConfig maps model names to rates. Lookup is by longest prefix with
// a default fallback, so "gpt-4o-2024-11-20" picks up the "gpt-4o" entry.
type PricingConfig struct {
	Models  map[string]ModelPricing `json:"models"`
	Default *ModelPricing           `json:"default,omitempty"`
}

// LoadPricingFile reads a pricing JSON file.
func LoadPricingFile(path string) (*PricingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read %s: %w", path, err)
	}
	var cfg PricingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pricing: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultPricing returns the built-in OpenAI rate table.
func DefaultPricing() *PricingConfig {
	return &PricingConfig{
		Models: map[string]ModelPricing{
			"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedPerMillion: 0.075},
			"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedPerMillion: 1.25},
			"gpt-4.1":     {InputPerMillion: 2.00, OutputPerMillion: 8.00, CachedPerMillion: 0.50},
			"gpt-5-mini":  {InputPerMillion: 0.25, OutputPerMillion: 2.00, CachedPerMillion: 0.025},
			"gpt-5":       {InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedPerMillion: 0.125},
			"o1-mini":     {InputPerMillion: 1.10, OutputPerMillion: 4.40, CachedPerMillion: 0.55},
			"o1":          {InputPerMillion: 15.00, OutputPerMillion: 60.00, CachedPerMillion: 7.50},
			"o3-mini":     {InputPerMillion: 1.10, OutputPerMillion: 4.40, CachedPerMillion: 0.55},
			"o3":          {InputPerMillion: 2.00, OutputPerMillion: 8.00, CachedPerMillion: 0.50},
			"o4-mini":     {InputPerMillion: 1.10, OutputPerMillion: 4.40, CachedPerMillion: 0.275},
		},
		Default: &ModelPricing{InputPerMillion: 1.00, OutputPerMillion: 3.00},
	}
}

// RatesFor returns the rate entry for model: longest matching prefix, then
// the default, then nil.
func (c *PricingConfig) RatesFor(model string) *ModelPricing {
	if c == nil {
		return nil
	}
	best := ""
	for prefix := range c.Models {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		p := c.Models[best]
		return &p
	}
	return c.Default
}

// CostFor computes the cost of a usage record in integer micro-dollars.
// Returns nil when no rates apply; the event is still written with zero cost.
func (c *PricingConfig) CostFor(model string, u *Usage) *Cost {
	if u == nil {
		return nil
	}
	rates := c.RatesFor(model)
	if rates == nil {
		return nil
	}

	// rate is USD per 1M tokens, so tokens × rate is exactly micro-USD.
	cost := &Cost{
		InputMicros:  micros(u.PromptTokens, rates.InputPerMillion),
		OutputMicros: micros(u.CompletionTokens, rates.OutputPerMillion),
		CachedMicros: micros(u.CachedTokens, rates.CachedPerMillion),
	}
	cost.TotalMicros = cost.InputMicros + cost.OutputMicros + cost.CachedMicros
	if rates.ReasoningPerMillion > 0 {
		cost.TotalMicros += micros(u.ReasoningTokens, rates.ReasoningPerMillion)
	}
	return cost
}

func micros(tokens int, ratePerMillion float64) int64 {
	if tokens <= 0 || ratePerMillion <= 0 {
		return 0
	}
	return int64(math.Round(float64(tokens) * ratePerMillion))
}
