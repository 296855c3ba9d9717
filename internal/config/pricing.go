package config

import "strings"

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// DefaultPricing maps model base names to their pricing.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-5": {
		InputPerMTok: 5.00, OutputPerMTok: 25.00,
		CacheReadPerMTok: 0.50, CacheWritePerMTok: 6.25,
	},
	"claude-opus-4-1": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00,
		CacheReadPerMTok: 1.50, CacheWritePerMTok: 18.75,
	},
	"claude-opus-4": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00,
		CacheReadPerMTok: 1.50, CacheWritePerMTok: 18.75,
	},
	"claude-sonnet-4-5": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75,
	},
	"claude-sonnet-4": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75,
	},
	"claude-haiku-4-5": {
		InputPerMTok: 1.00, OutputPerMTok: 5.00,
		CacheReadPerMTok: 0.10, CacheWritePerMTok: 1.25,
	},
	"claude-haiku-3-5": {
		InputPerMTok: 0.80, OutputPerMTok: 4.00,
		CacheReadPerMTok: 0.08, CacheWritePerMTok: 1.00,
	},
}

// modelAliases maps shorthand names found in manual logs and CSV rows
// to canonical model identifiers.
var modelAliases = map[string]string{
	"opus":   "claude-opus-4-5",
	"sonnet": "claude-sonnet-4-5",
	"haiku":  "claude-haiku-4-5",
}

// fallbackModel prices unknown models so their token counts still
// produce a nonzero estimate instead of silently free events.
const fallbackModel = "claude-sonnet-4-5"

// Pricer resolves model names to prices, applying config overrides on
// top of the built-in table.
type Pricer struct {
	overrides map[string]ModelPricingOverride
}

// NewPricer builds a Pricer from the loaded config.
func NewPricer(cfg Config) *Pricer {
	return &Pricer{overrides: cfg.Pricing.Overrides}
}

func hasPricingModel(model string) bool {
	_, ok := DefaultPricing[model]
	return ok
}

// NormalizeModelName resolves aliases and strips date suffixes from
// model identifiers, e.g. "claude-opus-4-5-20251101" -> "claude-opus-4-5".
func NormalizeModelName(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := modelAliases[lower]; ok {
		return canonical
	}
	if hasPricingModel(lower) {
		return lower
	}

	// Models can carry date suffixes like -20251101 (8 digits).
	parts := strings.Split(lower, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if hasPricingModel(candidate) {
				return candidate
			}
		}
	}

	return lower
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Lookup returns the pricing for a model, normalizing the name first.
// The bool reports whether the model was known; when false the
// fallback pricing is returned so costs are still estimated.
func (p *Pricer) Lookup(model string) (ModelPricing, bool) {
	normalized := NormalizeModelName(model)
	pricing, known := DefaultPricing[normalized]
	if !known {
		pricing = DefaultPricing[fallbackModel]
	}
	if p != nil {
		if ov, ok := p.overrides[normalized]; ok {
			known = true
			if ov.InputPerMTok != nil {
				pricing.InputPerMTok = *ov.InputPerMTok
			}
			if ov.OutputPerMTok != nil {
				pricing.OutputPerMTok = *ov.OutputPerMTok
			}
			if ov.CacheReadPerMTok != nil {
				pricing.CacheReadPerMTok = *ov.CacheReadPerMTok
			}
			if ov.CacheWritePerMTok != nil {
				pricing.CacheWritePerMTok = *ov.CacheWritePerMTok
			}
		}
	}
	return pricing, known
}

// Cost computes the estimated cost in USD for a single API call. The
// bool reports whether the model was known to the pricing table.
func (p *Pricer) Cost(model string, input, output, cacheRead, cacheWrite int64) (float64, bool) {
	pricing, known := p.Lookup(model)
	cost := float64(input) * pricing.InputPerMTok / 1_000_000
	cost += float64(output) * pricing.OutputPerMTok / 1_000_000
	cost += float64(cacheRead) * pricing.CacheReadPerMTok / 1_000_000
	cost += float64(cacheWrite) * pricing.CacheWritePerMTok / 1_000_000
	return cost, known
}

// CacheSavings computes how much cache reads saved versus paying the
// full input rate for the same tokens.
func (p *Pricer) CacheSavings(model string, cacheReadTokens int64) float64 {
	pricing, _ := p.Lookup(model)
	fullCost := float64(cacheReadTokens) * pricing.InputPerMTok / 1_000_000
	actualCost := float64(cacheReadTokens) * pricing.CacheReadPerMTok / 1_000_000
	return fullCost - actualCost
}
