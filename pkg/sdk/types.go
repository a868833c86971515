package sdk

import (
	"encoding/json"
	"fmt"
)

// Headers forwarded across the sandbox boundary. The worker reads them from
// the incoming request; the Toolbox replays the token on every tool call.
const (
	TokenHeader   = "x-caster-token"
	SessionHeader = "x-caster-session-id"
	HostURLHeader = "x-caster-host-container-url"
)

// Environment variables the sandbox manager injects into the container.
const (
	EnvHost        = "SANDBOX_HOST"
	EnvPort        = "SANDBOX_PORT"
	EnvTokenHeader = "SANDBOX_TOKEN_HEADER"
	EnvAgentPath   = "SANDBOX_AGENT_PATH"
)

// ClaimPayload is the evaluation payload handed to an entrypoint.
type ClaimPayload struct {
	ClaimText         string         `json:"claim_text"`
	RubricTitle       string         `json:"rubric_title"`
	RubricDescription string         `json:"rubric_description"`
	VerdictOptions    []int          `json:"verdict_options"`
	FeedContext       map[string]any `json:"feed_context,omitempty"`
}

// ParseClaimPayload decodes the generic payload map into a ClaimPayload.
func ParseClaimPayload(payload map[string]any) (ClaimPayload, error) {
	var p ClaimPayload
	raw, err := json.Marshal(payload)
	if err != nil {
		return p, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

// Citation points at one result of a receipt the agent obtained earlier in
// the session.
type Citation struct {
	ReceiptID string `json:"receipt_id"`
	ResultID  string `json:"result_id"`
}

// Answer is the shape the validator expects back from an entrypoint.
type Answer struct {
	Verdict       int        `json:"verdict"`
	Justification string     `json:"justification"`
	Citations     []Citation `json:"citations"`
}

// Map converts the answer to the JSON-safe map an entrypoint returns.
func (a Answer) Map() map[string]any {
	citations := make([]any, 0, len(a.Citations))
	for _, c := range a.Citations {
		citations = append(citations, map[string]any{
			"receipt_id": c.ReceiptID,
			"result_id":  c.ResultID,
		})
	}
	return map[string]any{
		"verdict":       a.Verdict,
		"justification": a.Justification,
		"citations":     citations,
	}
}

// ToolResult is one referenceable (or raw) result of a tool response.
type ToolResult struct {
	Index    int    `json:"index"`
	ResultID string `json:"result_id"`
	URL      string `json:"url,omitempty"`
	Note     string `json:"note,omitempty"`
	Title    string `json:"title,omitempty"`
	Raw      any    `json:"raw,omitempty"`
}

// Budget reports the session budget after a call settled.
type Budget struct {
	BudgetUSD    float64 `json:"session_budget_usd"`
	UsedUSD      float64 `json:"session_used_budget_usd"`
	RemainingUSD float64 `json:"session_remaining_budget_usd"`
}

// TokenUsage mirrors the dispatcher's LLM usage block.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolResponse is the dispatcher result as seen by the agent.
type ToolResponse struct {
	ReceiptID string       `json:"receipt_id"`
	Response  any          `json:"response"`
	Results   []ToolResult `json:"results,omitempty"`
	Policy    string       `json:"result_policy"`
	Budget    Budget       `json:"budget"`
	Usage     *TokenUsage  `json:"usage,omitempty"`
	CostUSD   *float64     `json:"cost_usd,omitempty"`
}

// ToolError is a non-200 response from the host dispatcher. Message carries
// the sanitized public error string.
type ToolError struct {
	StatusCode int
	Message    string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool call failed (status %d): %s", e.StatusCode, e.Message)
}
