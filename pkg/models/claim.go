package models

// VerdictOption is one allowed integer verdict with its display label.
type VerdictOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Rubric governs how a claim is judged: title, description, and the closed
// set of integer verdict options.
type Rubric struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	VerdictOptions []VerdictOption `json:"verdict_options"`
}

// HasVerdict reports whether v is one of the rubric's options.
func (r *Rubric) HasVerdict(v int) bool {
	for _, opt := range r.VerdictOptions {
		if opt.Value == v {
			return true
		}
	}
	return false
}

// LowestVerdict returns the smallest option value. Used when synthesizing
// failure outcomes. Returns 0 for an empty rubric.
func (r *Rubric) LowestVerdict() int {
	if len(r.VerdictOptions) == 0 {
		return 0
	}
	lowest := r.VerdictOptions[0].Value
	for _, opt := range r.VerdictOptions[1:] {
		if opt.Value < lowest {
			lowest = opt.Value
		}
	}
	return lowest
}

// ReferenceCitation is a citation attached to the curated reference answer.
type ReferenceCitation struct {
	URL  string `json:"url"`
	Note string `json:"note,omitempty"`
}

// Reference is the curated answer a miner's verdict is scored against.
type Reference struct {
	Verdict       int                 `json:"verdict"`
	Justification string              `json:"justification"`
	Citations     []ReferenceCitation `json:"citations,omitempty"`
}

// ClaimContext carries the optional feed provenance of a claim.
type ClaimContext struct {
	FeedID     string `json:"feed_id"`
	EnqueueSeq int64  `json:"enqueue_seq"`
}

// Claim is one unit of evaluation work: the text to judge, the rubric, the
// reference answer, and the per-claim USD budget that caps the session
// issued to evaluate it.
type Claim struct {
	ID        string        `json:"claim_id"`
	Text      string        `json:"text"`
	Rubric    Rubric        `json:"rubric"`
	Reference Reference     `json:"reference"`
	BudgetUSD float64       `json:"budget_usd"`
	Context   *ClaimContext `json:"context,omitempty"`
}
