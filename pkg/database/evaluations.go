package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/caster-net/caster/pkg/models"
)

// ErrDuplicateEvaluation indicates an insert for a (batch, uid, claim) triple
// that already has a recorded outcome. The unique constraint on the table is
// what enforces the one-outcome rule; callers treat this error as "already
// recorded" and move on.
var ErrDuplicateEvaluation = errors.New("evaluation already recorded")

// evaluationRow mirrors the evaluations table.
type evaluationRow struct {
	EvaluationID      uuid.UUID      `db:"evaluation_id"`
	BatchID           string         `db:"batch_id"`
	SessionID         uuid.UUID      `db:"session_id"`
	UID               int            `db:"uid"`
	ArtifactID        string         `db:"artifact_id"`
	ClaimID           string         `db:"claim_id"`
	Rubric            []byte         `db:"rubric"`
	Verdict           int            `db:"verdict"`
	Justification     string         `db:"justification"`
	Citations         []byte         `db:"citations"`
	VerdictScore      float64        `db:"verdict_score"`
	SupportScore      float64        `db:"support_score"`
	JustificationPass bool           `db:"justification_pass"`
	GraderRationale   string         `db:"grader_rationale"`
	Usage             []byte         `db:"usage"`
	ErrorCode         sql.NullString `db:"error_code"`
	ErrorMessage      sql.NullString `db:"error_message"`
	CompletedAt       time.Time      `db:"completed_at"`
}

// EvaluationStore persists recorded evaluation outcomes. Rows are immutable
// once written; retention pruning is the only delete path.
type EvaluationStore struct {
	db *sqlx.DB
}

// NewEvaluationStore creates an evaluation store on the given database.
func NewEvaluationStore(db *sqlx.DB) *EvaluationStore {
	return &EvaluationStore{db: db}
}

// Insert records one evaluation outcome under its batch. The table's unique
// constraint on (batch_id, uid, claim_id) rejects a second outcome for the
// same pair; that case surfaces as ErrDuplicateEvaluation.
func (s *EvaluationStore) Insert(ctx context.Context, batchID string, eval *models.Evaluation) error {
	rubric, err := json.Marshal(eval.Rubric)
	if err != nil {
		return fmt.Errorf("failed to encode rubric: %w", err)
	}
	usage, err := json.Marshal(eval.Usage)
	if err != nil {
		return fmt.Errorf("failed to encode usage: %w", err)
	}
	var citations []byte
	if len(eval.Answer.Citations) > 0 {
		citations, err = json.Marshal(eval.Answer.Citations)
		if err != nil {
			return fmt.Errorf("failed to encode citations: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (
			evaluation_id, batch_id, session_id, uid, artifact_id, claim_id,
			rubric, verdict, justification, citations,
			verdict_score, support_score, justification_pass, grader_rationale,
			usage, error_code, error_message, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		eval.ID, batchID, eval.SessionID, eval.UID, eval.ArtifactID, eval.ClaimID,
		rubric, eval.Answer.Verdict, eval.Answer.Justification, citations,
		eval.Score.Verdict, eval.Score.Support, eval.Score.JustificationPass, eval.Score.GraderRationale,
		usage, nullString(eval.ErrorCode), nullString(eval.ErrorMessage), eval.CompletedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEvaluation
		}
		return fmt.Errorf("failed to insert evaluation %s: %w", eval.ID, err)
	}
	return nil
}

// ListByBatch returns every recorded outcome of the batch, ordered by
// candidate uid then claim id.
func (s *EvaluationStore) ListByBatch(ctx context.Context, batchID string) ([]*models.Evaluation, error) {
	var rows []evaluationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT evaluation_id, batch_id, session_id, uid, artifact_id, claim_id,
		       rubric, verdict, justification, citations,
		       verdict_score, support_score, justification_pass, grader_rationale,
		       usage, error_code, error_message, completed_at
		FROM evaluations WHERE batch_id = $1
		ORDER BY uid, claim_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations for batch %s: %w", batchID, err)
	}

	evals := make([]*models.Evaluation, 0, len(rows))
	for i := range rows {
		eval, err := evaluationFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

// PruneOlderThan deletes evaluations completed before the cutoff and returns
// how many rows went away.
func (s *EvaluationStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE completed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune evaluations: %w", err)
	}
	return res.RowsAffected()
}

func evaluationFromRow(row *evaluationRow) (*models.Evaluation, error) {
	eval := &models.Evaluation{
		ID:         row.EvaluationID,
		SessionID:  row.SessionID,
		UID:        row.UID,
		ArtifactID: row.ArtifactID,
		ClaimID:    row.ClaimID,
		Answer: models.AgentAnswer{
			Verdict:       row.Verdict,
			Justification: row.Justification,
		},
		Score: models.Score{
			Verdict:           row.VerdictScore,
			Support:           row.SupportScore,
			JustificationPass: row.JustificationPass,
			GraderRationale:   row.GraderRationale,
		},
		ErrorCode:    row.ErrorCode.String,
		ErrorMessage: row.ErrorMessage.String,
		CompletedAt:  row.CompletedAt,
	}
	if err := json.Unmarshal(row.Rubric, &eval.Rubric); err != nil {
		return nil, fmt.Errorf("failed to decode rubric for evaluation %s: %w", row.EvaluationID, err)
	}
	if err := json.Unmarshal(row.Usage, &eval.Usage); err != nil {
		return nil, fmt.Errorf("failed to decode usage for evaluation %s: %w", row.EvaluationID, err)
	}
	if len(row.Citations) > 0 {
		if err := json.Unmarshal(row.Citations, &eval.Answer.Citations); err != nil {
			return nil, fmt.Errorf("failed to decode citations for evaluation %s: %w", row.EvaluationID, err)
		}
	}
	return eval, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
