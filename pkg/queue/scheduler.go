package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/eval"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/receipt"
	"github.com/caster-net/caster/pkg/sandbox"
	"github.com/caster-net/caster/pkg/session"
)

// defaultSessionTTL bounds a session when configuration does not set one.
const defaultSessionTTL = 10 * time.Minute

// ArtifactStager stages a candidate's agent and returns its local path.
type ArtifactStager interface {
	Stage(ctx context.Context, candidate models.Candidate) (string, error)
}

// SandboxRunner starts and stops candidate sandboxes.
type SandboxRunner interface {
	Start(ctx context.Context, spec sandbox.StartSpec) (*sandbox.Container, error)
	Stop(ctx context.Context, c *sandbox.Container) error
}

// Evaluator runs one (candidate × claim) evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req eval.Request) (*models.Evaluation, error)
}

// BatchLedger records batch status transitions.
type BatchLedger interface {
	MarkRunning(ctx context.Context, batchID string) error
	MarkCompleted(ctx context.Context, batchID string) error
	MarkInterrupted(ctx context.Context, batchID string) error
}

// OutcomeStore records and lists evaluation outcomes.
type OutcomeStore interface {
	Insert(ctx context.Context, batchID string, eval *models.Evaluation) error
	ListByBatch(ctx context.Context, batchID string) ([]*models.Evaluation, error)
}

// SchedulerConfig tunes per-claim session issuance.
type SchedulerConfig struct {
	// SessionTTL is how long an issued session stays valid.
	SessionTTL time.Duration
	// ToolConfig is passed through to the agent entrypoint unchanged.
	ToolConfig map[string]any
}

// Scheduler runs one batch at a time: candidates sequentially, claims
// sequentially within a candidate, one sandbox alive at once.
type Scheduler struct {
	cfg       SchedulerConfig
	artifacts ArtifactStager
	sandboxes SandboxRunner
	evaluator Evaluator
	ledger    BatchLedger
	outcomes  OutcomeStore
	sessions  *session.Registry
	tokens    *session.TokenRegistry
	receipts  *receipt.Log
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler wires a scheduler over the shared registries and stores.
func NewScheduler(
	cfg SchedulerConfig,
	artifacts ArtifactStager,
	sandboxes SandboxRunner,
	evaluator Evaluator,
	ledger BatchLedger,
	outcomes OutcomeStore,
	sessions *session.Registry,
	tokens *session.TokenRegistry,
	receipts *receipt.Log,
	logger *slog.Logger,
) *Scheduler {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &Scheduler{
		cfg:       cfg,
		artifacts: artifacts,
		sandboxes: sandboxes,
		evaluator: evaluator,
		ledger:    ledger,
		outcomes:  outcomes,
		sessions:  sessions,
		tokens:    tokens,
		receipts:  receipts,
		logger:    logger.With("component", "batch_scheduler"),
		now:       time.Now,
	}
}

// RunBatch executes every (candidate × claim) pair of the batch and returns
// the batch result. The batch's cutoff is a hard deadline: work not finished
// by then is cut short and the batch is marked INTERRUPTED.
//
// Flow:
//  1. Mark the batch RUNNING.
//  2. Derive the cutoff deadline.
//  3. Run candidates in order, each against every claim.
//  4. Mark COMPLETED, or INTERRUPTED when cancelled or past cutoff.
//  5. Assemble the result from the recorded outcomes.
func (s *Scheduler) RunBatch(ctx context.Context, batch *models.Batch) (*models.BatchResult, error) {
	if err := s.ledger.MarkRunning(ctx, batch.ID); err != nil {
		return nil, fmt.Errorf("failed to start batch %s: %w", batch.ID, err)
	}

	logger := s.logger.With("batch_id", batch.ID)
	logger.Info("Batch started",
		"claims", len(batch.Claims),
		"candidates", len(batch.Candidates),
		"cutoff_at", batch.CutoffAt)

	runCtx := ctx
	if !batch.CutoffAt.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, batch.CutoffAt)
		defer cancel()
	}

	for i := range batch.Candidates {
		if runCtx.Err() != nil {
			break
		}
		s.runCandidate(runCtx, batch, batch.Candidates[i])
	}

	// Ledger writes survive a cancelled run context.
	finishCtx := context.WithoutCancel(ctx)
	if err := runCtx.Err(); err != nil {
		logger.Warn("Batch interrupted", "error", err)
		if markErr := s.ledger.MarkInterrupted(finishCtx, batch.ID); markErr != nil {
			logger.Error("Failed to mark batch interrupted", "error", markErr)
		}
		return nil, fmt.Errorf("batch %s interrupted: %w", batch.ID, err)
	}
	if err := s.ledger.MarkCompleted(finishCtx, batch.ID); err != nil {
		return nil, fmt.Errorf("failed to complete batch %s: %w", batch.ID, err)
	}

	evals, err := s.outcomes.ListByBatch(finishCtx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect outcomes for batch %s: %w", batch.ID, err)
	}

	uids := make([]int, 0, len(batch.Candidates))
	for _, c := range batch.Candidates {
		uids = append(uids, c.UID)
	}

	logger.Info("Batch completed", "evaluations", len(evals))
	return &models.BatchResult{
		BatchID:       batch.ID,
		Claims:        batch.Claims,
		Evaluations:   evals,
		CandidateUIDs: uids,
	}, nil
}

// runCandidate stages the candidate's artifact, runs every claim inside one
// sandbox, and tears the sandbox down. Setup failures synthesize outcomes
// for every claim and move on; the batch never stops for one candidate.
func (s *Scheduler) runCandidate(ctx context.Context, batch *models.Batch, candidate models.Candidate) {
	logger := s.logger.With("batch_id", batch.ID, "uid", candidate.UID, "artifact_id", candidate.ArtifactID)

	agentPath, err := s.artifacts.Stage(ctx, candidate)
	if err != nil {
		logger.Error("Artifact staging failed", "error", err)
		s.failCandidate(ctx, batch, candidate, models.ErrCodeAgentUnavailable, err)
		return
	}

	ctr, err := s.sandboxes.Start(ctx, sandbox.StartSpec{
		Name:       containerName(batch.ID, candidate.UID),
		UID:        candidate.UID,
		StagingDir: filepath.Dir(agentPath),
		AgentFile:  filepath.Base(agentPath),
	})
	if err != nil {
		logger.Error("Sandbox start failed", "error", err)
		s.failCandidate(ctx, batch, candidate, models.ErrCodeSandboxStartFailed, err)
		return
	}
	defer func() {
		if err := s.sandboxes.Stop(context.WithoutCancel(ctx), ctr); err != nil {
			logger.Warn("Sandbox stop failed", "error", err)
		}
	}()

	for i := range batch.Claims {
		if ctx.Err() != nil {
			return
		}
		s.runClaim(ctx, batch, candidate, &batch.Claims[i], ctr)
	}
}

// runClaim issues a session, evaluates the claim, records the outcome, and
// destroys the session (token, receipts, record) before the next claim.
func (s *Scheduler) runClaim(ctx context.Context, batch *models.Batch, candidate models.Candidate, claim *models.Claim, ctr *sandbox.Container) {
	logger := s.logger.With("batch_id", batch.ID, "uid", candidate.UID, "claim_id", claim.ID)

	now := s.now()
	sess := &models.Session{
		ID:        uuid.New(),
		UID:       candidate.UID,
		ClaimID:   claim.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
		BudgetUSD: claim.BudgetUSD,
		Status:    models.SessionActive,
	}
	token, err := session.NewToken()
	if err != nil {
		logger.Error("Session issuance failed", "error", err)
		s.record(ctx, batch.ID, s.synthesize(candidate, claim, uuid.Nil, models.ErrCodeSandboxInvocationFailed, err))
		return
	}
	if err := s.sessions.Create(sess); err != nil {
		logger.Error("Session registration failed", "error", err)
		s.record(ctx, batch.ID, s.synthesize(candidate, claim, uuid.Nil, models.ErrCodeSandboxInvocationFailed, err))
		return
	}
	s.tokens.Register(sess.ID, token)

	// The session, its token, and its receipts die before the next claim.
	defer func() {
		s.tokens.Revoke(sess.ID)
		s.receipts.ClearSession(sess.ID)
		s.sessions.Delete(sess.ID)
	}()

	logger.Info("Session issued", "session_id", sess.ID, "budget_usd", sess.BudgetUSD)

	outcome, err := s.evaluator.Evaluate(ctx, eval.Request{
		Invoke: sandbox.InvokeRequest{
			Container:  ctr,
			SessionID:  sess.ID,
			UID:        candidate.UID,
			Token:      token,
			Entrypoint: batch.Entrypoint,
			Payload:    claimPayload(claim),
			Context:    map[string]any{"claim_id": claim.ID},
			ToolConfig: s.cfg.ToolConfig,
		},
		Claim:      claim,
		ArtifactID: candidate.ArtifactID,
	})
	if err != nil {
		logger.Error("Evaluation failed", "session_id", sess.ID, "error", err)
		outcome = s.synthesizeInvocationFailure(sess.ID, candidate, claim, err)
		s.record(ctx, batch.ID, outcome)
		return
	}

	s.record(ctx, batch.ID, outcome)

	// The orchestrator may already have moved the session to EXHAUSTED; a
	// terminal status stays as it is.
	if _, err := s.sessions.Transition(sess.ID, models.SessionCompleted); err != nil {
		if errors.Is(err, session.ErrTerminalStatus) {
			logger.Debug("Session kept its terminal status", "session_id", sess.ID)
		} else {
			logger.Warn("Session transition failed", "session_id", sess.ID, "error", err)
		}
	}
}

// failCandidate records a failure outcome for every claim in the batch.
func (s *Scheduler) failCandidate(ctx context.Context, batch *models.Batch, candidate models.Candidate, code string, cause error) {
	for i := range batch.Claims {
		s.record(ctx, batch.ID, s.synthesize(candidate, &batch.Claims[i], uuid.Nil, code, cause))
	}
}

// synthesizeInvocationFailure marks the session ERROR (TIMED_OUT when the
// worker reported its 504 timeout envelope) and builds the failure outcome,
// keeping whatever usage the session accumulated before the failure.
func (s *Scheduler) synthesizeInvocationFailure(sessionID uuid.UUID, candidate models.Candidate, claim *models.Claim, cause error) *models.Evaluation {
	status := models.SessionError
	var invErr *sandbox.InvocationError
	if errors.As(cause, &invErr) && invErr.StatusCode == http.StatusGatewayTimeout {
		status = models.SessionTimedOut
	}
	if _, err := s.sessions.Transition(sessionID, status); err != nil {
		s.logger.Debug("Session not transitioned after invocation failure",
			"session_id", sessionID, "status", status, "error", err)
	}

	outcome := s.synthesize(candidate, claim, sessionID, models.ErrCodeSandboxInvocationFailed, cause)
	if live, err := s.sessions.Get(sessionID); err == nil {
		outcome.Usage = eval.Summarize(live.Usage)
	}
	return outcome
}

// synthesize builds a failure outcome: the rubric's lowest verdict, zero
// scores, and the error that prevented the evaluation.
func (s *Scheduler) synthesize(candidate models.Candidate, claim *models.Claim, sessionID uuid.UUID, code string, cause error) *models.Evaluation {
	return &models.Evaluation{
		ID:           uuid.New(),
		SessionID:    sessionID,
		UID:          candidate.UID,
		ArtifactID:   candidate.ArtifactID,
		ClaimID:      claim.ID,
		Rubric:       claim.Rubric,
		Answer:       models.AgentAnswer{Verdict: claim.Rubric.LowestVerdict()},
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
		CompletedAt:  s.now(),
	}
}

// record inserts the outcome. The store's uniqueness constraint keeps the
// one-outcome-per-pair rule; a duplicate means the outcome already exists
// and is not an error here.
func (s *Scheduler) record(ctx context.Context, batchID string, outcome *models.Evaluation) {
	err := s.outcomes.Insert(ctx, batchID, outcome)
	switch {
	case errors.Is(err, database.ErrDuplicateEvaluation):
		s.logger.Warn("Outcome already recorded",
			"batch_id", batchID, "uid", outcome.UID, "claim_id", outcome.ClaimID)
	case err != nil:
		s.logger.Error("Failed to record outcome",
			"batch_id", batchID, "uid", outcome.UID, "claim_id", outcome.ClaimID, "error", err)
	}
}

// claimPayload builds the entrypoint payload for one claim.
func claimPayload(claim *models.Claim) map[string]any {
	options := make([]map[string]any, 0, len(claim.Rubric.VerdictOptions))
	for _, opt := range claim.Rubric.VerdictOptions {
		options = append(options, map[string]any{"value": opt.Value, "label": opt.Label})
	}
	payload := map[string]any{
		"claim_text":         claim.Text,
		"rubric_title":       claim.Rubric.Title,
		"rubric_description": claim.Rubric.Description,
		"verdict_options":    options,
	}
	if claim.Context != nil {
		payload["feed_context"] = map[string]any{
			"feed_id":     claim.Context.FeedID,
			"enqueue_seq": claim.Context.EnqueueSeq,
		}
	}
	return payload
}

// containerName derives a per-candidate container name the engine accepts.
func containerName(batchID string, uid int) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, batchID)
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return fmt.Sprintf("caster-%s-uid%d", sanitized, uid)
}
