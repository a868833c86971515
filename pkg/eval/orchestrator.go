// Package eval orchestrates one (candidate × claim) evaluation: entrypoint
// invocation, answer validation, citation hydration, scoring, and usage
// summarization into a recorded outcome.
package eval

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/llm"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/receipt"
	"github.com/caster-net/caster/pkg/sandbox"
	"github.com/caster-net/caster/pkg/score"
	"github.com/caster-net/caster/pkg/session"
	"github.com/caster-net/caster/pkg/tools"
)

// EntrypointInvoker calls the agent inside its sandbox.
type EntrypointInvoker interface {
	Invoke(ctx context.Context, req sandbox.InvokeRequest) (*sandbox.InvokeResult, error)
}

// Request is one evaluation to run. The scheduler builds the invoke request
// (payload, context, headers) before handing it over.
type Request struct {
	Invoke     sandbox.InvokeRequest
	Claim      *models.Claim
	ArtifactID string
}

// Orchestrator runs evaluations end to end.
type Orchestrator struct {
	invoker  EntrypointInvoker
	sessions *session.Registry
	receipts *receipt.Log
	scorer   *score.Scorer
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the orchestrator over the shared registries.
func NewOrchestrator(
	invoker EntrypointInvoker,
	sessions *session.Registry,
	receipts *receipt.Log,
	scorer *score.Scorer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		invoker:  invoker,
		sessions: sessions,
		receipts: receipts,
		scorer:   scorer,
		logger:   logger.With("component", "evaluation_orchestrator"),
		now:      time.Now,
	}
}

// Evaluate runs one (candidate × claim) evaluation.
//
// Flow:
// 1. Invoke the entrypoint; invocation failures propagate to the scheduler
// 2. Parse the answer strictly; a rejected answer records the outcome with
//    an error code instead of failing the run
// 3. Hydrate citations against this session's receipts
// 4. Score verdict and support
// 5. Mark the session EXHAUSTED when a budget-exceeded receipt exists,
//    summarize usage, and clear the session's receipts
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (*models.Evaluation, error) {
	result, err := o.invoker.Invoke(ctx, req.Invoke)
	if err != nil {
		return nil, err
	}

	outcome := &models.Evaluation{
		ID:         uuid.New(),
		SessionID:  req.Invoke.SessionID,
		UID:        req.Invoke.UID,
		ArtifactID: req.ArtifactID,
		ClaimID:    req.Claim.ID,
		Rubric:     req.Claim.Rubric,
	}

	answer, parseErr := ParseAnswer(result.Answer, &req.Claim.Rubric)
	if parseErr != nil {
		o.logger.Warn("Agent answer failed validation",
			"session_id", req.Invoke.SessionID,
			"uid", req.Invoke.UID,
			"claim_id", req.Claim.ID,
			"error", parseErr)
		outcome.Answer = models.AgentAnswer{Verdict: req.Claim.Rubric.LowestVerdict()}
		outcome.ErrorCode = models.ErrCodeInvalidAgentResponse
		outcome.ErrorMessage = parseErr.Error()
	} else {
		answer.Citations = o.hydrate(req.Invoke.SessionID, answer.Citations)
		outcome.Answer = answer
		outcome.Score = o.scorer.Score(ctx, req.Claim, answer)
	}

	o.finishSession(req.Invoke.SessionID, result.Receipts, outcome)
	outcome.CompletedAt = o.now()
	return outcome, nil
}

// hydrate replaces each citation's url, note, and title with the canonical
// values of the receipt result it references. A citation survives only if
// the receipt exists in this session, its tool is a citation source, its
// policy is REFERENCEABLE, and the result id matches one of its results.
// Everything else is dropped and logged.
func (o *Orchestrator) hydrate(sessionID uuid.UUID, citations []models.Citation) []models.Citation {
	if len(citations) == 0 {
		return nil
	}

	hydrated := make([]models.Citation, 0, len(citations))
	for _, c := range citations {
		receiptID, err := uuid.Parse(c.ReceiptID)
		if err != nil {
			o.dropCitation(sessionID, c, "malformed receipt id")
			continue
		}
		rcpt, ok := o.receipts.GetForSession(sessionID, receiptID)
		if !ok {
			o.dropCitation(sessionID, c, "receipt not found in session")
			continue
		}
		if !tools.IsCitationSource(rcpt.Tool) {
			o.dropCitation(sessionID, c, "tool is not a citation source")
			continue
		}
		if rcpt.Policy != models.PolicyReferenceable {
			o.dropCitation(sessionID, c, "receipt is not referenceable")
			continue
		}
		resultID, err := uuid.Parse(c.ResultID)
		if err != nil {
			o.dropCitation(sessionID, c, "malformed result id")
			continue
		}
		res := rcpt.FindResult(resultID)
		if res == nil {
			o.dropCitation(sessionID, c, "result id not in receipt")
			continue
		}
		hydrated = append(hydrated, models.Citation{
			ReceiptID: c.ReceiptID,
			ResultID:  c.ResultID,
			URL:       res.URL,
			Note:      res.Note,
			Title:     res.Title,
		})
	}
	return hydrated
}

func (o *Orchestrator) dropCitation(sessionID uuid.UUID, c models.Citation, reason string) {
	o.logger.Warn("Dropping invalid citation",
		"session_id", sessionID,
		"receipt_id", c.ReceiptID,
		"result_id", c.ResultID,
		"reason", reason)
}

// finishSession marks budget-exhausted sessions, copies the session's usage
// summary onto the outcome, and clears the session's receipts from the log.
func (o *Orchestrator) finishSession(sessionID uuid.UUID, receipts []*models.Receipt, outcome *models.Evaluation) {
	for _, rcpt := range receipts {
		if rcpt.Outcome == models.OutcomeBudgetExceeded {
			if _, err := o.sessions.Transition(sessionID, models.SessionExhausted); err != nil {
				o.logger.Debug("Session not transitioned to EXHAUSTED",
					"session_id", sessionID, "error", err)
			}
			break
		}
	}

	if live, err := o.sessions.Get(sessionID); err == nil {
		outcome.Usage = Summarize(live.Usage)
	} else {
		o.logger.Warn("Session unavailable for usage summary",
			"session_id", sessionID, "error", err)
	}

	cleared := o.receipts.ClearSession(sessionID)
	o.logger.Info("Session receipts cleared",
		"session_id", sessionID, "receipts", cleared)
}

// Summarize condenses a session's usage accumulator: token totals, LLM call
// count, and the cost split between model charges and everything else.
func Summarize(usage models.Usage) models.UsageSummary {
	summary := models.UsageSummary{TotalCostUSD: usage.TotalCostUSD}

	llmProviders := make(map[string]bool, len(usage.LLM))
	for model, totals := range usage.LLM {
		summary.PromptTokens += totals.PromptTokens
		summary.CompletionTokens += totals.CompletionTokens
		summary.TotalTokens += totals.TotalTokens
		summary.LLMCalls += totals.CallCount
		llmProviders[llm.ProviderOf(model)] = true
	}

	if len(usage.CostByProvider) > 0 {
		summary.CostByProvider = make(map[string]float64, len(usage.CostByProvider))
		for provider, cost := range usage.CostByProvider {
			summary.CostByProvider[provider] = cost
			if llmProviders[provider] {
				summary.LLMCostUSD += cost
			} else {
				summary.SearchCostUSD += cost
			}
		}
	}
	return summary
}
