package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates the invocation names an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive indicates the session is in a terminal status.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrSessionExpired indicates the session's expiry has passed.
	ErrSessionExpired = errors.New("session has expired")
	// ErrUnknownTool indicates the tool name is not in the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolNotConfigured indicates the tool exists but its upstream client
	// is not wired in this deployment.
	ErrToolNotConfigured = errors.New("tool is not configured")
)

// ValidationError reports rejected tool inputs. Validation failures happen
// before any upstream call and never produce a receipt.
type ValidationError struct {
	Tool    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: %s", e.Tool, e.Message)
}

func invalidf(tool, format string, a ...any) *ValidationError {
	return &ValidationError{Tool: tool, Message: fmt.Sprintf(format, a...)}
}
