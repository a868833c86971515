package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/budget"
	"github.com/caster-net/caster/pkg/llm"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/receipt"
	"github.com/caster-net/caster/pkg/session"
)

// Invocation is one tool call as presented by an agent.
type Invocation struct {
	SessionID uuid.UUID
	Token     string
	Tool      string
	Args      []any
	Kwargs    map[string]any
}

// BudgetSnapshot reports the session budget after the call settled.
type BudgetSnapshot struct {
	BudgetUSD    float64 `json:"session_budget_usd"`
	UsedUSD      float64 `json:"session_used_budget_usd"`
	RemainingUSD float64 `json:"session_remaining_budget_usd"`
}

// Result is the successful response handed back to the agent.
type Result struct {
	ReceiptID uuid.UUID            `json:"receipt_id"`
	Response  any                  `json:"response"`
	Results   []models.ToolResult  `json:"results,omitempty"`
	Policy    models.ResultPolicy  `json:"result_policy"`
	Budget    BudgetSnapshot       `json:"budget"`
	Usage     *models.LLMCallUsage `json:"usage,omitempty"`
	CostUSD   *float64             `json:"cost_usd,omitempty"`
}

// Dispatcher runs the full tool-call pipeline: session checks, token permit,
// upstream invocation, budget charge, and receipt recording.
type Dispatcher struct {
	sessions *session.Registry
	tokens   *session.TokenRegistry
	receipts *receipt.Log
	tracker  *budget.Tracker
	invoker  Invoker
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(
	sessions *session.Registry,
	tokens *session.TokenRegistry,
	receipts *receipt.Log,
	tracker *budget.Tracker,
	invoker Invoker,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		tokens:   tokens,
		receipts: receipts,
		tracker:  tracker,
		invoker:  invoker,
		logger:   logger.With("component", "tool_dispatcher"),
		now:      time.Now,
	}
}

// Execute runs one tool call end to end.
//
// Flow:
//  1. Resolve the session; refuse non-ACTIVE or expired sessions.
//  2. Verify the bearer token against the session.
//  3. Acquire an in-flight permit (released on return).
//  4. Validate and invoke the tool. Validation failures return without
//     a receipt; upstream failures record a failure receipt.
//  5. Normalize the payload and price the charge.
//  6. Apply the charge under the registry lock. A rejected charge records
//     a BUDGET_EXCEEDED receipt (response kept, no result ids).
//  7. Mint result ids per the tool's result policy.
//  8. Record the OK receipt and return the settled budget snapshot.
func (d *Dispatcher) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	s, err := d.sessions.Get(inv.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, inv.SessionID)
	}
	if s.Status != models.SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, s.ID, s.Status)
	}
	now := d.now()
	if s.Expired(now) {
		return nil, fmt.Errorf("%w: session %s expired at %s", ErrSessionExpired, s.ID, s.ExpiresAt.Format(time.RFC3339))
	}

	if !d.tokens.Verify(inv.SessionID, inv.Token) {
		return nil, session.ErrTokenMismatch
	}
	if err := d.tokens.Acquire(inv.SessionID); err != nil {
		return nil, err
	}
	defer d.tokens.Release(inv.SessionID)

	def, ok := Lookup(inv.Tool)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, inv.Tool)
	}

	logger := d.logger.With("session_id", s.ID, "uid", s.UID, "tool", inv.Tool)
	requestHash := receipt.RequestHash(inv.Args, inv.Kwargs)

	out, err := d.invoker.Invoke(ctx, inv.Tool, inv.Args, inv.Kwargs)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			logger.Warn("Tool call rejected", "error", err)
			return nil, err
		}
		outcome := failureOutcome(err)
		d.recordFailure(s, def, inv, requestHash, outcome, err)
		logger.Warn("Tool call failed", "outcome", string(outcome), "error", err)
		return nil, err
	}

	normalized := receipt.Normalize(out.Payload)
	charge := budget.Charge{
		Tool:                 inv.Tool,
		Provider:             def.Provider,
		ReferenceableResults: len(out.Entries),
	}
	if out.Model != "" {
		charge.Model = out.Model
		charge.Provider = llm.ProviderOf(out.Model)
		charge.Tokens = out.Tokens
	}

	var cost float64
	updated, err := d.sessions.Mutate(s.ID, func(live *models.Session) error {
		usage, c, applyErr := d.tracker.Apply(live, charge)
		if applyErr != nil {
			cost = c
			return applyErr
		}
		cost = c
		live.Usage = usage
		return nil
	})
	if err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			d.recordBudgetExceeded(s, def, inv, requestHash, normalized, cost, out.Meta)
			logger.Warn("Tool call exceeded budget",
				"projected_usd", exceeded.ProjectedUSD,
				"budget_usd", exceeded.BudgetUSD)
		}
		return nil, err
	}

	results := buildResults(def.Policy, out, normalized)
	rec := &models.Receipt{
		ID:           uuid.New(),
		SessionID:    s.ID,
		UID:          s.UID,
		Tool:         inv.Tool,
		IssuedAt:     now,
		Outcome:      models.OutcomeOK,
		RequestHash:  requestHash,
		ResponseHash: receipt.ResponseHash(normalized),
		Response:     normalized,
		Results:      results,
		Policy:       def.Policy,
		CostUSD:      &cost,
		Meta:         out.Meta,
	}
	if err := d.receipts.Append(rec); err != nil {
		return nil, fmt.Errorf("failed to record receipt: %w", err)
	}

	res := &Result{
		ReceiptID: rec.ID,
		Response:  normalized,
		Results:   results,
		Policy:    def.Policy,
		Budget: BudgetSnapshot{
			BudgetUSD:    updated.BudgetUSD,
			UsedUSD:      updated.Usage.TotalCostUSD,
			RemainingUSD: updated.RemainingBudgetUSD(),
		},
		CostUSD: &cost,
	}
	if out.Model != "" {
		usage := out.Tokens
		res.Usage = &usage
	}
	logger.Info("Tool call complete",
		"receipt_id", rec.ID,
		"cost_usd", cost,
		"results", len(results))
	return res, nil
}

// recordFailure writes a receipt for an upstream failure. No response body
// or result ids are recorded and nothing is charged.
func (d *Dispatcher) recordFailure(s *models.Session, def Definition, inv Invocation, requestHash string, outcome models.ReceiptOutcome, callErr error) {
	rec := &models.Receipt{
		ID:          uuid.New(),
		SessionID:   s.ID,
		UID:         s.UID,
		Tool:        inv.Tool,
		IssuedAt:    d.now(),
		Outcome:     outcome,
		RequestHash: requestHash,
		Policy:      def.Policy,
		Meta:        map[string]string{"error": callErr.Error()},
	}
	if err := d.receipts.Append(rec); err != nil {
		d.logger.Error("Failed to record failure receipt", "session_id", s.ID, "error", err)
	}
}

// recordBudgetExceeded writes a receipt for a call that completed upstream
// but could not be charged. The response is kept for audit; no result ids
// are minted, so the results can never be cited.
func (d *Dispatcher) recordBudgetExceeded(s *models.Session, def Definition, inv Invocation, requestHash string, normalized any, cost float64, meta map[string]string) {
	rec := &models.Receipt{
		ID:           uuid.New(),
		SessionID:    s.ID,
		UID:          s.UID,
		Tool:         inv.Tool,
		IssuedAt:     d.now(),
		Outcome:      models.OutcomeBudgetExceeded,
		RequestHash:  requestHash,
		ResponseHash: receipt.ResponseHash(normalized),
		Response:     normalized,
		Policy:       def.Policy,
		CostUSD:      &cost,
		Meta:         meta,
	}
	if err := d.receipts.Append(rec); err != nil {
		d.logger.Error("Failed to record budget receipt", "session_id", s.ID, "error", err)
	}
}

// buildResults mints result ids for the receipt. REFERENCEABLE tools get one
// result per extracted entry; LOG_ONLY tools get a single raw result.
func buildResults(policy models.ResultPolicy, out *Output, normalized any) []models.ToolResult {
	if policy == models.PolicyReferenceable {
		results := make([]models.ToolResult, 0, len(out.Entries))
		for i, entry := range out.Entries {
			results = append(results, models.ToolResult{
				Index:    i,
				ResultID: uuid.New(),
				URL:      entry.URL,
				Note:     entry.Note,
				Title:    entry.Title,
			})
		}
		return results
	}
	return []models.ToolResult{{Index: 0, ResultID: uuid.New(), Raw: normalized}}
}

// failureOutcome classifies an upstream error. Deadline or cancellation
// anywhere in the chain is a TIMEOUT; everything else is a PROVIDER_ERROR.
func failureOutcome(err error) models.ReceiptOutcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.OutcomeTimeout
	}
	return models.OutcomeProviderError
}
