package api

import (
	"time"

	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/queue"
)

// BatchAcceptedResponse is returned by POST /v1/batches.
type BatchAcceptedResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BatchStatusResponse is returned by GET /v1/batches/:id.
type BatchStatusResponse struct {
	BatchID     string               `json:"batch_id"`
	Status      models.BatchStatus   `json:"status"`
	Entrypoint  string               `json:"entrypoint"`
	CutoffAt    time.Time            `json:"cutoff_at"`
	ReceivedAt  time.Time            `json:"received_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Claims      int                  `json:"claims"`
	Candidates  int                  `json:"candidates"`
	Evaluations []*models.Evaluation `json:"evaluations"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database"`
	Worker   *queue.WorkerHealth    `json:"worker,omitempty"`
}
