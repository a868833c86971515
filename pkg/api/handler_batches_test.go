package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/auth"
	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/queue"
)

type fakeLedger struct {
	insertErr error
	inserted  []*models.Batch
	record    *database.BatchRecord
	getErr    error
}

func (f *fakeLedger) InsertReceived(_ context.Context, batch *models.Batch) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, batch)
	return nil
}

func (f *fakeLedger) Get(_ context.Context, _ string) (*database.BatchRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.record, nil
}

type fakeOutcomes struct {
	evals []*models.Evaluation
	err   error
}

func (f *fakeOutcomes) ListByBatch(_ context.Context, _ string) ([]*models.Evaluation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.evals, nil
}

func platformKeypair(t *testing.T) *auth.Keypair {
	t.Helper()
	kp, err := auth.NewKeypairFromSeed(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)
	return kp
}

func newBatchServer(ledger BatchLedger, outcomes OutcomeReader, inbox *queue.Inbox, verifier *auth.Verifier) *Server {
	return NewServer(nil, ledger, outcomes, inbox, verifier, nil, nil, testLogger())
}

// signedRequest builds a request carrying body and a platform signature over
// exactly those bytes.
func signedRequest(t *testing.T, kp *auth.Keypair, method, target string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, kp.SignRequest(req, body))
	return req
}

func intakeBatch() *models.Batch {
	return &models.Batch{
		ID:         "batch-7",
		Entrypoint: "evaluate_claim",
		CutoffAt:   time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Claims: []models.Claim{{
			ID:   "claim-1",
			Text: "the sky is blue",
			Rubric: models.Rubric{
				Title: "Accuracy",
				VerdictOptions: []models.VerdictOption{
					{Value: -1, Label: "Fail"},
					{Value: 1, Label: "Pass"},
				},
			},
			Reference: models.Reference{Verdict: 1, Justification: "ref"},
			BudgetUSD: 0.05,
		}},
		Candidates: []models.Candidate{{
			UID:        9,
			ArtifactID: "artifact-a",
			SHA256:     strings.Repeat("ab", 32),
			Size:       128,
		}},
	}
}

func marshalBatch(t *testing.T, batch *models.Batch) []byte {
	t.Helper()
	raw, err := json.Marshal(batch)
	require.NoError(t, err)
	return raw
}

func TestSubmitBatchAccepted(t *testing.T) {
	kp := platformKeypair(t)
	ledger := &fakeLedger{}
	inbox := queue.NewInbox(4)
	srv := newBatchServer(ledger, &fakeOutcomes{}, inbox, auth.NewVerifier([]string{kp.Address()}))

	req := signedRequest(t, kp, http.MethodPost, "/v1/batches", marshalBatch(t, intakeBatch()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp BatchAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "batch-7", resp.BatchID)
	assert.Equal(t, "RECEIVED", resp.Status)

	require.Len(t, ledger.inserted, 1)
	assert.Equal(t, "batch-7", ledger.inserted[0].ID)
	assert.Equal(t, 1, inbox.Len())
}

func TestSubmitBatchRejectsUnsigned(t *testing.T) {
	ledger := &fakeLedger{}
	srv := newBatchServer(ledger, &fakeOutcomes{}, queue.NewInbox(4), auth.NewVerifier(nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/batches",
		bytes.NewReader(marshalBatch(t, intakeBatch())))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"error": "unauthorized"}, errorBody(t, rec))
	assert.Empty(t, ledger.inserted)
}

func TestSubmitBatchRejectsTamperedBody(t *testing.T) {
	kp := platformKeypair(t)
	ledger := &fakeLedger{}
	srv := newBatchServer(ledger, &fakeOutcomes{}, queue.NewInbox(4), auth.NewVerifier(nil))

	signedBytes := marshalBatch(t, intakeBatch())
	tampered := intakeBatch()
	tampered.Candidates[0].UID = 13

	req := httptest.NewRequest(http.MethodPost, "/v1/batches",
		bytes.NewReader(marshalBatch(t, tampered)))
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, kp.SignRequest(req, signedBytes))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ledger.inserted)
}

func TestSubmitBatchRejectsUnknownCaller(t *testing.T) {
	kp := platformKeypair(t)
	other, err := auth.NewKeypairFromSeed(bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)

	ledger := &fakeLedger{}
	srv := newBatchServer(ledger, &fakeOutcomes{}, queue.NewInbox(4),
		auth.NewVerifier([]string{other.Address()}))

	req := signedRequest(t, kp, http.MethodPost, "/v1/batches", marshalBatch(t, intakeBatch()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ledger.inserted)
}

func TestSubmitBatchDuplicate(t *testing.T) {
	kp := platformKeypair(t)
	ledger := &fakeLedger{insertErr: database.ErrDuplicateBatch}
	inbox := queue.NewInbox(4)
	srv := newBatchServer(ledger, &fakeOutcomes{}, inbox, auth.NewVerifier(nil))

	req := signedRequest(t, kp, http.MethodPost, "/v1/batches", marshalBatch(t, intakeBatch()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, map[string]any{"error": "batch already recorded"}, errorBody(t, rec))
	assert.Zero(t, inbox.Len())
}

func TestSubmitBatchBackpressure(t *testing.T) {
	kp := platformKeypair(t)
	ledger := &fakeLedger{}
	inbox := queue.NewInbox(1)
	require.NoError(t, inbox.Enqueue(&models.Batch{ID: "already-queued"}))

	srv := newBatchServer(ledger, &fakeOutcomes{}, inbox, auth.NewVerifier(nil))

	req := signedRequest(t, kp, http.MethodPost, "/v1/batches", marshalBatch(t, intakeBatch()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"error": "scheduler backlog full"}, errorBody(t, rec))
	// The row was recorded before backpressure hit; restart recovery requeues it.
	assert.Len(t, ledger.inserted, 1)
}

func TestSubmitBatchValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.Batch)
		wantErr string
	}{
		{
			name:    "missing batch id",
			mutate:  func(b *models.Batch) { b.ID = "" },
			wantErr: "batch_id is required",
		},
		{
			name:    "missing entrypoint",
			mutate:  func(b *models.Batch) { b.Entrypoint = "" },
			wantErr: "entrypoint is required",
		},
		{
			name:    "missing cutoff",
			mutate:  func(b *models.Batch) { b.CutoffAt = time.Time{} },
			wantErr: "cutoff_at is required",
		},
		{
			name:    "no claims",
			mutate:  func(b *models.Batch) { b.Claims = nil },
			wantErr: "batch has no claims",
		},
		{
			name:    "no candidates",
			mutate:  func(b *models.Batch) { b.Candidates = nil },
			wantErr: "batch has no candidates",
		},
		{
			name:    "claim without id",
			mutate:  func(b *models.Batch) { b.Claims[0].ID = "" },
			wantErr: "claim 0 has no claim_id",
		},
		{
			name: "duplicate claim id",
			mutate: func(b *models.Batch) {
				b.Claims = append(b.Claims, b.Claims[0])
			},
			wantErr: `duplicate claim_id "claim-1"`,
		},
		{
			name: "claim without verdict options",
			mutate: func(b *models.Batch) {
				b.Claims[0].Rubric.VerdictOptions = nil
			},
			wantErr: `claim "claim-1" has no verdict options`,
		},
		{
			name:    "negative budget",
			mutate:  func(b *models.Batch) { b.Claims[0].BudgetUSD = -1 },
			wantErr: `claim "claim-1" has a negative budget`,
		},
		{
			name:    "candidate without artifact id",
			mutate:  func(b *models.Batch) { b.Candidates[0].ArtifactID = "" },
			wantErr: "candidate 0 has no artifact_id",
		},
		{
			name: "duplicate artifact id",
			mutate: func(b *models.Batch) {
				b.Candidates = append(b.Candidates, b.Candidates[0])
			},
			wantErr: `duplicate artifact_id "artifact-a"`,
		},
	}

	kp := platformKeypair(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			srv := newBatchServer(ledger, &fakeOutcomes{}, queue.NewInbox(4), auth.NewVerifier(nil))

			batch := intakeBatch()
			tt.mutate(batch)

			req := signedRequest(t, kp, http.MethodPost, "/v1/batches", marshalBatch(t, batch))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"error": tt.wantErr}, errorBody(t, rec))
			assert.Empty(t, ledger.inserted)
		})
	}
}

func TestGetBatchStatus(t *testing.T) {
	kp := platformKeypair(t)
	batch := intakeBatch()
	started := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	completed := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	ledger := &fakeLedger{record: &database.BatchRecord{
		Batch:       *batch,
		Status:      models.BatchCompleted,
		ReceivedAt:  started.Add(-time.Minute),
		StartedAt:   &started,
		CompletedAt: &completed,
	}}
	outcomes := &fakeOutcomes{evals: []*models.Evaluation{
		{UID: 9, ClaimID: "claim-1", Answer: models.AgentAnswer{Verdict: 1}},
	}}
	srv := newBatchServer(ledger, outcomes, queue.NewInbox(4), auth.NewVerifier(nil))

	req := signedRequest(t, kp, http.MethodGet, "/v1/batches/batch-7", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "batch-7", resp.BatchID)
	assert.Equal(t, models.BatchCompleted, resp.Status)
	assert.Equal(t, "evaluate_claim", resp.Entrypoint)
	assert.Equal(t, 1, resp.Claims)
	assert.Equal(t, 1, resp.Candidates)
	require.NotNil(t, resp.CompletedAt)
	assert.True(t, completed.Equal(*resp.CompletedAt))
	require.Len(t, resp.Evaluations, 1)
	assert.Equal(t, 9, resp.Evaluations[0].UID)
}

func TestGetBatchNotFound(t *testing.T) {
	kp := platformKeypair(t)
	ledger := &fakeLedger{getErr: database.ErrBatchNotFound}
	srv := newBatchServer(ledger, &fakeOutcomes{}, queue.NewInbox(4), auth.NewVerifier(nil))

	req := signedRequest(t, kp, http.MethodGet, "/v1/batches/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "batch not found"}, errorBody(t, rec))
}

func TestGetBatchRequiresSignature(t *testing.T) {
	srv := newBatchServer(&fakeLedger{}, &fakeOutcomes{}, queue.NewInbox(4), auth.NewVerifier(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/batch-7", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
