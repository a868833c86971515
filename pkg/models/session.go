// Package models contains the domain types shared across the validator
// runtime: sessions, receipts, claims, batches, and evaluation outcomes.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a tool session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionExhausted SessionStatus = "EXHAUSTED"
	SessionTimedOut  SessionStatus = "TIMED_OUT"
	SessionError     SessionStatus = "ERROR"
)

// Terminal reports whether the status permits no further transitions.
// Transitions are monotonic: ACTIVE → {COMPLETED, EXHAUSTED, TIMED_OUT, ERROR}.
func (s SessionStatus) Terminal() bool {
	return s != SessionActive
}

// Session is a time-bounded, budget-bounded authorization for one miner's
// agent to make tool calls while evaluating one claim. Records are immutable
// in identity; mutation replaces the stored record via the registry.
type Session struct {
	ID        uuid.UUID     `json:"session_id"`
	UID       int           `json:"uid"`
	ClaimID   string        `json:"claim_id"`
	IssuedAt  time.Time     `json:"issued_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	BudgetUSD float64       `json:"budget_usd"`
	Usage     Usage         `json:"usage"`
	Status    SessionStatus `json:"status"`
}

// Expired reports whether the session has passed its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RemainingBudgetUSD returns the budget not yet consumed. Never negative.
func (s *Session) RemainingBudgetUSD() float64 {
	remaining := s.BudgetUSD - s.Usage.TotalCostUSD
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clone returns a deep copy safe for mutation by the caller.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Usage = s.Usage.Clone()
	return &clone
}
