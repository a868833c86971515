package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/receipt"
	"github.com/caster-net/caster/pkg/sdk"
	"github.com/caster-net/caster/pkg/session"
)

var (
	// ErrSessionInactive indicates the session is not ACTIVE.
	ErrSessionInactive = errors.New("session not active")
	// ErrUIDMismatch indicates the session belongs to another candidate.
	ErrUIDMismatch = errors.New("session uid mismatch")
)

// InvocationError wraps an entrypoint call that failed at the HTTP layer.
// StatusCode is zero when the request never completed.
type InvocationError struct {
	SessionID  uuid.UUID
	UID        int
	Entrypoint string
	StatusCode int
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("entrypoint %q invocation failed for session %s (uid %d, status %d): %v",
		e.Entrypoint, e.SessionID, e.UID, e.StatusCode, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// InvokeRequest is one entrypoint call against a running sandbox.
type InvokeRequest struct {
	Container  *Container
	SessionID  uuid.UUID
	UID        int
	Token      string
	Entrypoint string
	Payload    map[string]any
	Context    map[string]any
	ToolConfig map[string]any
}

// InvokeResult carries the agent's raw answer and the session's receipts as
// recorded by the dispatcher during the call.
type InvokeResult struct {
	Answer   map[string]any
	Receipts []*models.Receipt
}

// Invoker runs entrypoints inside sandbox containers and gathers what the
// session produced.
type Invoker struct {
	sessions   *session.Registry
	tokens     *session.TokenRegistry
	receipts   *receipt.Log
	hostURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewInvoker creates an invoker. hostURL is the address agents use to reach
// the host tool API from inside the sandbox network. callTimeout must exceed
// the worker's entrypoint timeout so 504s arrive instead of client timeouts.
func NewInvoker(sessions *session.Registry, tokens *session.TokenRegistry, receipts *receipt.Log, hostURL string, callTimeout time.Duration, logger *slog.Logger) *Invoker {
	if callTimeout == 0 {
		callTimeout = 150 * time.Second
	}
	return &Invoker{
		sessions:   sessions,
		tokens:     tokens,
		receipts:   receipts,
		hostURL:    hostURL,
		httpClient: &http.Client{Timeout: callTimeout},
		logger:     logger.With("component", "sandbox_invoker"),
	}
}

// Invoke validates the session and token, posts the entrypoint call to the
// sandbox worker, and returns the answer together with the session's
// receipts. Receipts are collected even when the call fails, so callers can
// audit partial work.
func (inv *Invoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	s, err := inv.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionInactive, s.ID, s.Status)
	}
	if s.UID != req.UID {
		return nil, fmt.Errorf("%w: session %s belongs to uid %d", ErrUIDMismatch, s.ID, s.UID)
	}
	if !inv.tokens.Verify(req.SessionID, req.Token) {
		return nil, session.ErrTokenMismatch
	}

	body := map[string]any{
		"payload": req.Payload,
		"context": req.Context,
	}
	if req.ToolConfig != nil {
		body["tool_config"] = req.ToolConfig
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entrypoint request: %w", err)
	}

	url := req.Container.BaseURL + "/entry/" + req.Entrypoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create entrypoint request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(sdk.TokenHeader, req.Token)
	httpReq.Header.Set(sdk.SessionHeader, req.SessionID.String())
	httpReq.Header.Set(sdk.HostURLHeader, inv.hostURL)

	logger := inv.logger.With("session_id", req.SessionID, "uid", req.UID, "entrypoint", req.Entrypoint)
	logger.Info("Invoking entrypoint")

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		return inv.failed(req, 0, fmt.Errorf("transport failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return inv.failed(req, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return inv.failed(req, resp.StatusCode, fmt.Errorf("worker returned %s: %s", resp.Status, workerError(respBody)))
	}

	var envelope struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return inv.failed(req, resp.StatusCode, fmt.Errorf("failed to decode result: %w", err))
	}

	logger.Info("Entrypoint returned", "receipts", len(inv.receipts.BySession(req.SessionID)))
	return &InvokeResult{
		Answer:   envelope.Result,
		Receipts: inv.receipts.BySession(req.SessionID),
	}, nil
}

// failed wraps the error as an *InvocationError, attaching whatever receipts
// the session accumulated before the failure.
func (inv *Invoker) failed(req InvokeRequest, status int, err error) (*InvokeResult, error) {
	return &InvokeResult{Receipts: inv.receipts.BySession(req.SessionID)},
		&InvocationError{
			SessionID:  req.SessionID,
			UID:        req.UID,
			Entrypoint: req.Entrypoint,
			StatusCode: status,
			Err:        err,
		}
}

func workerError(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return string(raw)
}
