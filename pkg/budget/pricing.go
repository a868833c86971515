// Package budget implements per-session cost accounting: the deterministic
// pricing table and the tracker that applies tool call costs against a
// session's USD budget.
package budget

import (
	"fmt"

	"github.com/caster-net/caster/pkg/models"
)

// Default search pricing in USD. Flat per call unless noted.
const (
	PriceSearchWebUSD         = 0.0025
	PriceSearchXUSD           = 0.003
	PriceSearchRepoUSD        = 0.0025
	PriceGetRepoFileUSD       = 0.0025
	PriceSearchItemsUSD       = 0.0025
	PriceSearchAIPerResultUSD = 0.004 // per referenceable result returned
)

// LLMPricing holds USD rates per million tokens.
type LLMPricing struct {
	InputUSD     float64
	OutputUSD    float64
	ReasoningUSD float64
}

// Table is the deterministic pricing data used when a call does not report
// an explicit cost. Repo and feed rates are platform-set; the values here
// are defaults that configuration may override.
type Table struct {
	SearchFlatUSD        map[string]float64
	SearchAIPerResultUSD float64
	LLM                  map[string]LLMPricing
}

// DefaultTable returns the built-in pricing.
func DefaultTable() Table {
	return Table{
		SearchFlatUSD: map[string]float64{
			"search_web":    PriceSearchWebUSD,
			"search_x":      PriceSearchXUSD,
			"search_repo":   PriceSearchRepoUSD,
			"get_repo_file": PriceGetRepoFileUSD,
			"search_items":  PriceSearchItemsUSD,
		},
		SearchAIPerResultUSD: PriceSearchAIPerResultUSD,
		LLM: map[string]LLMPricing{
			"openai/gpt-oss-20b":  {InputUSD: 0.25, OutputUSD: 2.0, ReasoningUSD: 2.0},
			"openai/gpt-oss-120b": {InputUSD: 1.25, OutputUSD: 10.0, ReasoningUSD: 10.0},
		},
	}
}

// SearchCost returns the cost of one search-style call. Tools without a
// pricing entry are free. search_ai is priced per referenceable result.
func (t Table) SearchCost(tool string, referenceableResults int) float64 {
	if tool == "search_ai" {
		if referenceableResults < 0 {
			referenceableResults = 0
		}
		return t.SearchAIPerResultUSD * float64(referenceableResults)
	}
	return t.SearchFlatUSD[tool]
}

// LLMCost prices one LLM call. Reasoning tokens are a subset of completion
// tokens in provider usage blocks; they are split out and billed at the
// reasoning rate, with the remainder at the output rate.
func (t Table) LLMCost(model string, u models.LLMCallUsage) (float64, error) {
	p, ok := t.LLM[model]
	if !ok {
		return 0, fmt.Errorf("no pricing for model %q", model)
	}
	reasoning := u.ReasoningTokens
	if reasoning > u.CompletionTokens {
		reasoning = u.CompletionTokens
	}
	output := u.CompletionTokens - reasoning

	const million = 1_000_000
	cost := float64(u.PromptTokens)/million*p.InputUSD +
		float64(output)/million*p.OutputUSD +
		float64(reasoning)/million*p.ReasoningUSD
	return cost, nil
}
