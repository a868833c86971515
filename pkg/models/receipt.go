package models

import (
	"time"

	"github.com/google/uuid"
)

// ReceiptOutcome classifies how a tool call ended.
type ReceiptOutcome string

const (
	OutcomeOK             ReceiptOutcome = "OK"
	OutcomeProviderError  ReceiptOutcome = "PROVIDER_ERROR"
	OutcomeBudgetExceeded ReceiptOutcome = "BUDGET_EXCEEDED"
	OutcomeTimeout        ReceiptOutcome = "TIMEOUT"
)

// ResultPolicy states whether a receipt's results may be cited by the agent.
type ResultPolicy string

const (
	// PolicyReferenceable marks receipts whose results are citation sources.
	PolicyReferenceable ResultPolicy = "REFERENCEABLE"
	// PolicyLogOnly marks receipts kept for audit only.
	PolicyLogOnly ResultPolicy = "LOG_ONLY"
)

// ToolResult is one entry of a receipt's ordered result list. Search-style
// tools populate URL (required) plus optional Note/Title; LOG_ONLY tools
// store the normalized payload in Raw.
type ToolResult struct {
	Index    int       `json:"index"`
	ResultID uuid.UUID `json:"result_id"`
	URL      string    `json:"url,omitempty"`
	Note     string    `json:"note,omitempty"`
	Title    string    `json:"title,omitempty"`
	Raw      any       `json:"raw,omitempty"`
}

// Receipt is the immutable record of one tool call. Used for audit and for
// citation hydration; indexed by receipt id and by session id.
type Receipt struct {
	ID           uuid.UUID         `json:"receipt_id"`
	SessionID    uuid.UUID         `json:"session_id"`
	UID          int               `json:"uid"`
	Tool         string            `json:"tool"`
	IssuedAt     time.Time         `json:"issued_at"`
	Outcome      ReceiptOutcome    `json:"outcome"`
	RequestHash  string            `json:"request_hash"`
	ResponseHash string            `json:"response_hash,omitempty"`
	Response     any               `json:"response,omitempty"`
	Results      []ToolResult      `json:"results,omitempty"`
	Policy       ResultPolicy      `json:"result_policy"`
	CostUSD      *float64          `json:"cost_usd,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// FindResult returns the result whose id matches, or nil.
func (r *Receipt) FindResult(resultID uuid.UUID) *ToolResult {
	for i := range r.Results {
		if r.Results[i].ResultID == resultID {
			return &r.Results[i]
		}
	}
	return nil
}

// Citation is a reference from the agent's final answer to one result of a
// previously recorded receipt. Before hydration the ids are the agent's
// literal strings; hydration validates them and overwrites URL/Note/Title
// with the receipt's canonical values.
type Citation struct {
	ReceiptID string `json:"receipt_id"`
	ResultID  string `json:"result_id"`
	URL       string `json:"url,omitempty"`
	Note      string `json:"note,omitempty"`
	Title     string `json:"title,omitempty"`
}
