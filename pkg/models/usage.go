package models

// LLMTokenTotals accumulates token counts for one (provider, model) pair
// across all calls in a session. All fields are non-negative.
type LLMTokenTotals struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	CallCount        int64 `json:"call_count"`
}

// LLMCallUsage carries the token counts of a single upstream LLM call,
// including reasoning tokens when the provider reports them. The zero value
// means "no usage observed".
type LLMCallUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	ReasoningTokens  int64 `json:"reasoning_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add returns the fieldwise sum of u and other.
func (u LLMCallUsage) Add(other LLMCallUsage) LLMCallUsage {
	return LLMCallUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		ReasoningTokens:  u.ReasoningTokens + other.ReasoningTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens were observed.
func (u LLMCallUsage) IsZero() bool {
	return u == LLMCallUsage{}
}

// Usage aggregates the cost and token consumption of one session.
// All mutation is copy-on-write: callers Clone, mutate, then store back.
type Usage struct {
	TotalCostUSD   float64                   `json:"total_cost_usd"`
	CostByProvider map[string]float64        `json:"cost_by_provider,omitempty"`
	LLM            map[string]LLMTokenTotals `json:"llm,omitempty"`
	LastCallTokens int64                     `json:"llm_tokens_last_call"`
}

// Clone returns a deep copy of the usage record.
func (u Usage) Clone() Usage {
	clone := u
	if u.CostByProvider != nil {
		clone.CostByProvider = make(map[string]float64, len(u.CostByProvider))
		for k, v := range u.CostByProvider {
			clone.CostByProvider[k] = v
		}
	}
	if u.LLM != nil {
		clone.LLM = make(map[string]LLMTokenTotals, len(u.LLM))
		for k, v := range u.LLM {
			clone.LLM[k] = v
		}
	}
	return clone
}

// UsageSummary condenses a session's usage for the recorded outcome.
type UsageSummary struct {
	TotalCostUSD     float64            `json:"total_cost_usd"`
	LLMCostUSD       float64            `json:"llm_cost_usd"`
	SearchCostUSD    float64            `json:"search_cost_usd"`
	PromptTokens     int64              `json:"prompt_tokens"`
	CompletionTokens int64              `json:"completion_tokens"`
	TotalTokens      int64              `json:"total_tokens"`
	LLMCalls         int64              `json:"llm_calls"`
	CostByProvider   map[string]float64 `json:"cost_by_provider,omitempty"`
}
