package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/models"
)

// handleSubmitBatch handles POST /v1/batches. The signed-caller middleware
// has already authenticated the platform, so validation messages name the
// offending field.
//
// Flow:
//  1. Decode and validate the batch document.
//  2. Record it RECEIVED in the ledger; a duplicate id is a conflict.
//  3. Hand it to the worker. A full inbox is backpressure: the row stays
//     RECEIVED and startup recovery requeues it.
func (s *Server) handleSubmitBatch(c *gin.Context) {
	var batch models.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch document"})
		return
	}
	if err := validateBatch(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ledger.InsertReceived(c.Request.Context(), &batch); err != nil {
		if errors.Is(err, database.ErrDuplicateBatch) {
			c.JSON(http.StatusConflict, gin.H{"error": "batch already recorded"})
			return
		}
		s.logger.Error("Failed to record batch", "batch_id", batch.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := s.inbox.Enqueue(&batch); err != nil {
		s.logger.Warn("Batch recorded but inbox is full, it stays RECEIVED until restart recovery",
			"batch_id", batch.ID,
			"queue_depth", s.inbox.Len())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler backlog full"})
		return
	}

	s.logger.Info("Batch accepted",
		"batch_id", batch.ID,
		"claims", len(batch.Claims),
		"candidates", len(batch.Candidates),
		"caller", c.GetString(callerKey))

	c.JSON(http.StatusAccepted, &BatchAcceptedResponse{
		BatchID: batch.ID,
		Status:  string(models.BatchReceived),
		Message: "batch accepted for evaluation",
	})
}

// handleGetBatch handles GET /v1/batches/:id.
func (s *Server) handleGetBatch(c *gin.Context) {
	batchID := c.Param("id")

	record, err := s.ledger.Get(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, database.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		s.logger.Error("Failed to load batch", "batch_id", batchID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	evaluations, err := s.outcomes.ListByBatch(c.Request.Context(), batchID)
	if err != nil {
		s.logger.Error("Failed to load outcomes", "batch_id", batchID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, &BatchStatusResponse{
		BatchID:     record.Batch.ID,
		Status:      record.Status,
		Entrypoint:  record.Batch.Entrypoint,
		CutoffAt:    record.Batch.CutoffAt,
		ReceivedAt:  record.ReceivedAt,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		Claims:      len(record.Batch.Claims),
		Candidates:  len(record.Batch.Candidates),
		Evaluations: evaluations,
	})
}

// validateBatch enforces the intake contract: non-empty identity and work,
// unique claim ids, unique candidate artifact ids, and a usable rubric on
// every claim.
func validateBatch(batch *models.Batch) error {
	if batch.ID == "" {
		return errors.New("batch_id is required")
	}
	if batch.Entrypoint == "" {
		return errors.New("entrypoint is required")
	}
	if batch.CutoffAt.IsZero() {
		return errors.New("cutoff_at is required")
	}
	if len(batch.Claims) == 0 {
		return errors.New("batch has no claims")
	}
	if len(batch.Candidates) == 0 {
		return errors.New("batch has no candidates")
	}

	claimIDs := make(map[string]struct{}, len(batch.Claims))
	for i, claim := range batch.Claims {
		if claim.ID == "" {
			return fmt.Errorf("claim %d has no claim_id", i)
		}
		if _, dup := claimIDs[claim.ID]; dup {
			return fmt.Errorf("duplicate claim_id %q", claim.ID)
		}
		claimIDs[claim.ID] = struct{}{}
		if len(claim.Rubric.VerdictOptions) == 0 {
			return fmt.Errorf("claim %q has no verdict options", claim.ID)
		}
		if claim.BudgetUSD < 0 {
			return fmt.Errorf("claim %q has a negative budget", claim.ID)
		}
	}

	artifactIDs := make(map[string]struct{}, len(batch.Candidates))
	for i, candidate := range batch.Candidates {
		if candidate.ArtifactID == "" {
			return fmt.Errorf("candidate %d has no artifact_id", i)
		}
		if _, dup := artifactIDs[candidate.ArtifactID]; dup {
			return fmt.Errorf("duplicate artifact_id %q", candidate.ArtifactID)
		}
		artifactIDs[candidate.ArtifactID] = struct{}{}
	}

	return nil
}
