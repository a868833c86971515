package budget

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/models"
)

// ErrSessionInactive indicates a charge against a non-ACTIVE session.
var ErrSessionInactive = errors.New("session not active")

// ExceededError is returned when a charge would push the session past its
// budget. The session is left unchanged.
type ExceededError struct {
	SessionID    uuid.UUID
	ProjectedUSD float64
	BudgetUSD    float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("session %s budget exceeded: projected %.6f USD > budget %.6f USD",
		e.SessionID, e.ProjectedUSD, e.BudgetUSD)
}

// Charge describes the cost of one tool call to be applied to a session.
type Charge struct {
	Tool     string
	Provider string
	// Model is the LLM model ref ("provider/name"); empty for non-LLM tools.
	Model  string
	Tokens models.LLMCallUsage
	// CostUSD, when set, is the caller-reported cost and bypasses the
	// pricing table.
	CostUSD *float64
	// ReferenceableResults drives per-result pricing (search_ai).
	ReferenceableResults int
}

// Tracker applies charges to sessions against the pricing table.
type Tracker struct {
	pricing Table
}

// NewTracker creates a tracker over the given pricing table.
func NewTracker(pricing Table) *Tracker {
	return &Tracker{pricing: pricing}
}

// Pricing returns the tracker's pricing table.
func (t *Tracker) Pricing() Table {
	return t.pricing
}

// Cost resolves the USD cost of a charge: explicit cost when reported,
// otherwise the pricing table (LLM rates for model-bearing charges, search
// rates for the rest).
func (t *Tracker) Cost(c Charge) (float64, error) {
	if c.CostUSD != nil {
		return *c.CostUSD, nil
	}
	if c.Model != "" {
		return t.pricing.LLMCost(c.Model, c.Tokens)
	}
	return t.pricing.SearchCost(c.Tool, c.ReferenceableResults), nil
}

// Apply projects the charge onto the session's usage. On success it returns
// the updated usage (copy-on-write; the session itself is not mutated) and
// the resolved cost. If the projected total exceeds the session's budget the
// charge fails with *ExceededError and nothing changes. Inactive sessions
// are refused.
func (t *Tracker) Apply(s *models.Session, c Charge) (models.Usage, float64, error) {
	if s.Status != models.SessionActive {
		return models.Usage{}, 0, fmt.Errorf("%w: session %s is %s", ErrSessionInactive, s.ID, s.Status)
	}

	cost, err := t.Cost(c)
	if err != nil {
		return models.Usage{}, 0, err
	}

	projected := s.Usage.TotalCostUSD + cost
	if projected > s.BudgetUSD {
		return models.Usage{}, cost, &ExceededError{
			SessionID:    s.ID,
			ProjectedUSD: projected,
			BudgetUSD:    s.BudgetUSD,
		}
	}

	usage := s.Usage.Clone()
	usage.TotalCostUSD = projected
	if c.Provider != "" {
		if usage.CostByProvider == nil {
			usage.CostByProvider = make(map[string]float64)
		}
		usage.CostByProvider[c.Provider] += cost
	}
	if c.Model != "" {
		if usage.LLM == nil {
			usage.LLM = make(map[string]models.LLMTokenTotals)
		}
		totals := usage.LLM[c.Model]
		totals.PromptTokens += c.Tokens.PromptTokens
		totals.CompletionTokens += c.Tokens.CompletionTokens
		totals.TotalTokens += c.Tokens.TotalTokens
		totals.CallCount++
		usage.LLM[c.Model] = totals
	}
	usage.LastCallTokens = c.Tokens.TotalTokens

	return usage, cost, nil
}
