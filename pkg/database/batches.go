package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/caster-net/caster/pkg/models"
)

var (
	// ErrBatchNotFound indicates no batch row exists for the id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrDuplicateBatch indicates an insert with an already-recorded batch id.
	ErrDuplicateBatch = errors.New("batch already recorded")
)

// pgUniqueViolation is the postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

// BatchTransitionError reports a status update that found the batch in a
// state the transition does not start from.
type BatchTransitionError struct {
	BatchID string
	From    models.BatchStatus
	To      models.BatchStatus
	Current models.BatchStatus
}

func (e *BatchTransitionError) Error() string {
	return fmt.Sprintf("batch %s is %s, cannot transition %s to %s",
		e.BatchID, e.Current, e.From, e.To)
}

// BatchRecord is a batch row joined with its ledger state.
type BatchRecord struct {
	Batch       models.Batch
	Status      models.BatchStatus
	ReceivedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// batchRow mirrors the batches table.
type batchRow struct {
	BatchID     string       `db:"batch_id"`
	Entrypoint  string       `db:"entrypoint"`
	CutoffAt    time.Time    `db:"cutoff_at"`
	Status      string       `db:"status"`
	Claims      []byte       `db:"claims"`
	Candidates  []byte       `db:"candidates"`
	ReceivedAt  time.Time    `db:"received_at"`
	StartedAt   sql.NullTime `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

// BatchStore persists the batch ledger. Rows are written once on intake and
// only their status and timestamps change afterwards.
type BatchStore struct {
	db *sqlx.DB
}

// NewBatchStore creates a batch store on the given database.
func NewBatchStore(db *sqlx.DB) *BatchStore {
	return &BatchStore{db: db}
}

// InsertReceived records a freshly accepted batch in RECEIVED status.
// Returns ErrDuplicateBatch when the batch id is already in the ledger.
func (s *BatchStore) InsertReceived(ctx context.Context, batch *models.Batch) error {
	claims, err := json.Marshal(batch.Claims)
	if err != nil {
		return fmt.Errorf("failed to encode claims: %w", err)
	}
	candidates, err := json.Marshal(batch.Candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (batch_id, entrypoint, cutoff_at, status, claims, candidates, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID, batch.Entrypoint, batch.CutoffAt.UTC(), models.BatchReceived,
		claims, candidates, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateBatch
		}
		return fmt.Errorf("failed to insert batch %s: %w", batch.ID, err)
	}
	return nil
}

// Get loads one batch with its ledger state, or ErrBatchNotFound.
func (s *BatchStore) Get(ctx context.Context, batchID string) (*BatchRecord, error) {
	var row batchRow
	err := s.db.GetContext(ctx, &row, `
		SELECT batch_id, entrypoint, cutoff_at, status, claims, candidates,
		       received_at, started_at, completed_at
		FROM batches WHERE batch_id = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	return recordFromRow(&row)
}

// ListReceived returns batches accepted but never started, oldest first.
// Startup requeues these so accepted work survives a restart.
func (s *BatchStore) ListReceived(ctx context.Context) ([]*models.Batch, error) {
	var rows []batchRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT batch_id, entrypoint, cutoff_at, status, claims, candidates,
		       received_at, started_at, completed_at
		FROM batches WHERE status = $1
		ORDER BY received_at, batch_id`, models.BatchReceived)
	if err != nil {
		return nil, fmt.Errorf("failed to list received batches: %w", err)
	}

	batches := make([]*models.Batch, 0, len(rows))
	for i := range rows {
		record, err := recordFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		batches = append(batches, &record.Batch)
	}
	return batches, nil
}

// MarkRunning moves the batch from RECEIVED to RUNNING and stamps the start
// time.
func (s *BatchStore) MarkRunning(ctx context.Context, batchID string) error {
	return s.transition(ctx, batchID, models.BatchReceived, models.BatchRunning, "started_at")
}

// MarkCompleted moves the batch from RUNNING to COMPLETED and stamps the
// completion time.
func (s *BatchStore) MarkCompleted(ctx context.Context, batchID string) error {
	return s.transition(ctx, batchID, models.BatchRunning, models.BatchCompleted, "completed_at")
}

// MarkInterrupted moves the batch from RUNNING to INTERRUPTED and stamps the
// completion time.
func (s *BatchStore) MarkInterrupted(ctx context.Context, batchID string) error {
	return s.transition(ctx, batchID, models.BatchRunning, models.BatchInterrupted, "completed_at")
}

// MarkOrphansInterrupted flips every RUNNING batch to INTERRUPTED. Called on
// startup: a RUNNING row can only be left behind by a previous process that
// died mid-batch.
func (s *BatchStore) MarkOrphansInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = $1, completed_at = $2
		WHERE status = $3`,
		models.BatchInterrupted, time.Now().UTC(), models.BatchRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark orphaned batches: %w", err)
	}
	return res.RowsAffected()
}

// transition performs a guarded status update: the row moves from -> to only
// if it is currently in from. A zero-row update is diagnosed as either a
// missing batch or an illegal transition.
func (s *BatchStore) transition(ctx context.Context, batchID string, from, to models.BatchStatus, stampColumn string) error {
	// stampColumn comes from the Mark* callers above, never from input.
	query := fmt.Sprintf(`UPDATE batches SET status = $1, %s = $2 WHERE batch_id = $3 AND status = $4`, stampColumn)
	res, err := s.db.ExecContext(ctx, query, to, time.Now().UTC(), batchID, from)
	if err != nil {
		return fmt.Errorf("failed to transition batch %s to %s: %w", batchID, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transition batch %s to %s: %w", batchID, to, err)
	}
	if affected == 1 {
		return nil
	}

	record, err := s.Get(ctx, batchID)
	if err != nil {
		return err
	}
	return &BatchTransitionError{BatchID: batchID, From: from, To: to, Current: record.Status}
}

func recordFromRow(row *batchRow) (*BatchRecord, error) {
	record := &BatchRecord{
		Batch: models.Batch{
			ID:         row.BatchID,
			Entrypoint: row.Entrypoint,
			CutoffAt:   row.CutoffAt,
		},
		Status:     models.BatchStatus(row.Status),
		ReceivedAt: row.ReceivedAt,
	}
	if err := json.Unmarshal(row.Claims, &record.Batch.Claims); err != nil {
		return nil, fmt.Errorf("failed to decode claims for batch %s: %w", row.BatchID, err)
	}
	if err := json.Unmarshal(row.Candidates, &record.Batch.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates for batch %s: %w", row.BatchID, err)
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		record.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		record.CompletedAt = &t
	}
	return record, nil
}
