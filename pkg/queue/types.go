package queue

import (
	"context"
	"time"

	"github.com/caster-net/caster/pkg/chain"
	"github.com/caster-net/caster/pkg/models"
)

// WorkerStatus represents the current state of the batch worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// BatchRunner executes one batch end to end and returns its result.
// RunBatch owns the batch's ledger transitions; the worker only feeds it.
type BatchRunner interface {
	RunBatch(ctx context.Context, batch *models.Batch) (*models.BatchResult, error)
}

// ResultSubmitter delivers a finished batch result to the platform.
type ResultSubmitter interface {
	SubmitBatchResult(ctx context.Context, result *models.BatchResult) error
}

// WeightSetter forwards per-candidate weights derived from a batch.
type WeightSetter interface {
	SubmitWeights(ctx context.Context, batchID string, weights []chain.Weight) error
}

// WorkerHealth is a snapshot of the batch worker for the health endpoint.
type WorkerHealth struct {
	Status           WorkerStatus `json:"status"`
	CurrentBatchID   string       `json:"current_batch_id,omitempty"`
	BatchesProcessed int          `json:"batches_processed"`
	QueueDepth       int          `json:"queue_depth"`
	LastActivity     time.Time    `json:"last_activity"`
}
