package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caster-net/caster/pkg/models"
)

// RecoveryStore is the slice of the batch ledger startup recovery needs.
type RecoveryStore interface {
	MarkOrphansInterrupted(ctx context.Context) (int64, error)
	ListReceived(ctx context.Context) ([]*models.Batch, error)
}

// RecoverStartupState repairs the batch ledger after a restart.
// Called once during startup, before the worker begins processing.
//
// Flow:
//  1. Batches left RUNNING by the previous process can never finish; mark
//     them INTERRUPTED.
//  2. Batches accepted but never started are requeued. Ones already past
//     cutoff still go through the worker so the ledger records them as
//     INTERRUPTED instead of leaving them RECEIVED forever.
func RecoverStartupState(ctx context.Context, store RecoveryStore, inbox *Inbox, logger *slog.Logger) error {
	log := logger.With("component", "startup_recovery")

	orphans, err := store.MarkOrphansInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark orphaned batches: %w", err)
	}
	if orphans > 0 {
		log.Warn("Marked batches from previous run as interrupted", "count", orphans)
	}

	pending, err := store.ListReceived(ctx)
	if err != nil {
		return fmt.Errorf("failed to list received batches: %w", err)
	}
	for _, batch := range pending {
		if err := inbox.Enqueue(batch); err != nil {
			// Ledger rows stay RECEIVED; a later restart picks them up.
			log.Error("Failed to requeue batch", "batch_id", batch.ID, "error", err)
			continue
		}
		log.Info("Requeued batch from previous run", "batch_id", batch.ID, "cutoff_at", batch.CutoffAt)
	}

	return nil
}
