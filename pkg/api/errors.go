package api

import (
	"errors"
	"net/http"

	"github.com/caster-net/caster/pkg/budget"
	"github.com/caster-net/caster/pkg/session"
	"github.com/caster-net/caster/pkg/tools"
)

// Public error messages for the tool execute endpoint. Agents only ever see
// this enum; the real reasons stay in the host logs.
const (
	msgInvalidSession   = "invalid session"
	msgInvalidToken     = "invalid token"
	msgConcurrencyLimit = "concurrency limit reached"
	msgBudgetExceeded   = "budget exceeded"
	msgInvalidRequest   = "invalid request"
	msgUpstreamError    = "upstream error"
)

// mapToolError translates a dispatcher failure into a sanitized HTTP status
// and message. Session, token, budget, and validation failures are the
// caller's 400s; everything else failed upstream of the dispatcher.
func mapToolError(err error) (int, string) {
	switch {
	case errors.Is(err, tools.ErrSessionNotFound),
		errors.Is(err, tools.ErrSessionNotActive),
		errors.Is(err, tools.ErrSessionExpired):
		return http.StatusBadRequest, msgInvalidSession
	case errors.Is(err, session.ErrTokenMismatch),
		errors.Is(err, session.ErrTokenNotFound):
		return http.StatusBadRequest, msgInvalidToken
	case errors.Is(err, session.ErrConcurrencyLimit):
		return http.StatusBadRequest, msgConcurrencyLimit
	case errors.Is(err, tools.ErrUnknownTool):
		return http.StatusBadRequest, msgInvalidRequest
	}

	var exceeded *budget.ExceededError
	if errors.As(err, &exceeded) {
		return http.StatusBadRequest, msgBudgetExceeded
	}
	var invalid *tools.ValidationError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, msgInvalidRequest
	}

	return http.StatusBadGateway, msgUpstreamError
}
