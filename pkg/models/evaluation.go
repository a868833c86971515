package models

import (
	"time"

	"github.com/google/uuid"
)

// Error codes recorded on evaluations that could not complete.
const (
	// ErrCodeAgentUnavailable: the candidate's artifact could not be
	// fetched, verified, or staged.
	ErrCodeAgentUnavailable = "agent_unavailable"
	// ErrCodeSandboxStartFailed: the container failed to start or never
	// became healthy.
	ErrCodeSandboxStartFailed = "sandbox_start_failed"
	// ErrCodeSandboxInvocationFailed: the entrypoint call failed (HTTP
	// error, worker failure, or entrypoint timeout).
	ErrCodeSandboxInvocationFailed = "sandbox_invocation_failed"
	// ErrCodeInvalidAgentResponse: the agent returned a payload that does
	// not match the evaluation schema.
	ErrCodeInvalidAgentResponse = "invalid_agent_response"
)

// Score is the two-component additive score of one evaluation.
type Score struct {
	Verdict           float64 `json:"verdict_score"`
	Support           float64 `json:"support_score"`
	JustificationPass bool    `json:"justification_pass"`
	GraderRationale   string  `json:"grader_rationale,omitempty"`
}

// Total returns the combined score.
func (s Score) Total() float64 {
	return s.Verdict + s.Support
}

// AgentAnswer is the parsed final response of an agent entrypoint, with
// citations hydrated against the session's receipts.
type AgentAnswer struct {
	Verdict       int        `json:"verdict"`
	Justification string     `json:"justification"`
	Citations     []Citation `json:"citations,omitempty"`
}

// Evaluation is the recorded outcome of one (candidate × claim) run.
// ErrorCode is non-empty exactly when the evaluation could not complete.
type Evaluation struct {
	ID           uuid.UUID    `json:"evaluation_id"`
	SessionID    uuid.UUID    `json:"session_id"`
	UID          int          `json:"uid"`
	ArtifactID   string       `json:"artifact_id"`
	ClaimID      string       `json:"claim_id"`
	Rubric       Rubric       `json:"rubric"`
	Answer       AgentAnswer  `json:"answer"`
	CompletedAt  time.Time    `json:"completed_at"`
	Score        Score        `json:"score"`
	Usage        UsageSummary `json:"usage"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// Failed reports whether the evaluation carries an error code.
func (e *Evaluation) Failed() bool {
	return e.ErrorCode != ""
}
