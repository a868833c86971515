package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/budget"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/session"
	"github.com/caster-net/caster/pkg/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor returns a canned result or error and captures the invocation.
type fakeExecutor struct {
	result *tools.Result
	err    error
	last   tools.Invocation
	calls  int
}

func (f *fakeExecutor) Execute(_ context.Context, inv tools.Invocation) (*tools.Result, error) {
	f.calls++
	f.last = inv
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newToolServer(executor ToolExecutor) *Server {
	return NewServer(executor, nil, nil, nil, nil, nil, nil, testLogger())
}

func postJSON(t *testing.T, srv *Server, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func executeBody(t *testing.T, sessionID, token string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"session_id": sessionID,
		"token":      token,
		"tool":       "search_web",
		"args":       []any{},
		"kwargs":     map[string]any{"query": "ocean color"},
	})
	require.NoError(t, err)
	return raw
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestExecuteToolHappyPath(t *testing.T) {
	receiptID := uuid.New()
	cost := 0.0025
	executor := &fakeExecutor{
		result: &tools.Result{
			ReceiptID: receiptID,
			Response:  map[string]any{"hits": 3},
			Results: []models.ToolResult{
				{Index: 0, ResultID: uuid.New(), URL: "https://example.com", Title: "Example"},
			},
			Policy: models.PolicyReferenceable,
			Budget: tools.BudgetSnapshot{
				BudgetUSD:    0.05,
				UsedUSD:      0.0025,
				RemainingUSD: 0.0475,
			},
			CostUSD: &cost,
		},
	}
	srv := newToolServer(executor)

	sessionID := uuid.New()
	rec := postJSON(t, srv, "/v1/tools/execute",
		executeBody(t, sessionID.String(), "body-token"),
		map[string]string{"x-caster-token": "header-token"})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ReceiptID string `json:"receipt_id"`
		Budget    struct {
			BudgetUSD    float64 `json:"session_budget_usd"`
			UsedUSD      float64 `json:"session_used_budget_usd"`
			RemainingUSD float64 `json:"session_remaining_budget_usd"`
		} `json:"budget"`
		Policy  string  `json:"result_policy"`
		CostUSD float64 `json:"cost_usd"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, receiptID.String(), resp.ReceiptID)
	assert.Equal(t, string(models.PolicyReferenceable), resp.Policy)
	assert.InDelta(t, 0.0475, resp.Budget.RemainingUSD, 1e-9)
	assert.InDelta(t, 0.0025, resp.CostUSD, 1e-9)

	// The header token is the bearer; the body field is only a fallback.
	assert.Equal(t, sessionID, executor.last.SessionID)
	assert.Equal(t, "header-token", executor.last.Token)
	assert.Equal(t, "search_web", executor.last.Tool)
	assert.Equal(t, map[string]any{"query": "ocean color"}, executor.last.Kwargs)
}

func TestExecuteToolBodyTokenFallback(t *testing.T) {
	executor := &fakeExecutor{result: &tools.Result{ReceiptID: uuid.New()}}
	srv := newToolServer(executor)

	rec := postJSON(t, srv, "/v1/tools/execute",
		executeBody(t, uuid.New().String(), "body-token"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body-token", executor.last.Token)
}

func TestExecuteToolSanitizedErrors(t *testing.T) {
	sessionID := uuid.New()
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "unknown session",
			err:         fmt.Errorf("%w: %s", tools.ErrSessionNotFound, sessionID),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid session",
		},
		{
			name:        "terminal session",
			err:         fmt.Errorf("%w: session %s is COMPLETED", tools.ErrSessionNotActive, sessionID),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid session",
		},
		{
			name:        "expired session",
			err:         fmt.Errorf("%w: session %s", tools.ErrSessionExpired, sessionID),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid session",
		},
		{
			name:        "token mismatch",
			err:         session.ErrTokenMismatch,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid token",
		},
		{
			name:        "token revoked",
			err:         session.ErrTokenNotFound,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid token",
		},
		{
			name:        "concurrency limit",
			err:         session.ErrConcurrencyLimit,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "concurrency limit reached",
		},
		{
			name: "budget exceeded",
			err: &budget.ExceededError{
				SessionID:    sessionID,
				ProjectedUSD: 0.0075,
				BudgetUSD:    0.005,
			},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "budget exceeded",
		},
		{
			name:        "rejected input",
			err:         &tools.ValidationError{Tool: "search_web", Message: "query is required"},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid request",
		},
		{
			name:        "unknown tool",
			err:         fmt.Errorf("%w: %q", tools.ErrUnknownTool, "search_webz"),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid request",
		},
		{
			name:        "provider failure",
			err:         errors.New("search provider returned 500"),
			wantStatus:  http.StatusBadGateway,
			wantMessage: "upstream error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newToolServer(&fakeExecutor{err: tt.err})

			rec := postJSON(t, srv, "/v1/tools/execute",
				executeBody(t, sessionID.String(), "tok"), nil)

			require.Equal(t, tt.wantStatus, rec.Code)
			// Only the public enum goes out; internal reasons stay in logs.
			assert.Equal(t, map[string]any{"error": tt.wantMessage}, errorBody(t, rec))
		})
	}
}

func TestExecuteToolRejectsMalformedRequests(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		executor := &fakeExecutor{}
		srv := newToolServer(executor)

		rec := postJSON(t, srv, "/v1/tools/execute", []byte("{not json"), nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "invalid request"}, errorBody(t, rec))
		assert.Zero(t, executor.calls)
	})

	t.Run("malformed session id", func(t *testing.T) {
		executor := &fakeExecutor{}
		srv := newToolServer(executor)

		rec := postJSON(t, srv, "/v1/tools/execute",
			executeBody(t, "not-a-uuid", "tok"), nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "invalid request"}, errorBody(t, rec))
		assert.Zero(t, executor.calls)
	})
}
