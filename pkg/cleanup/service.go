// Package cleanup enforces data retention: old evaluation rows are deleted
// from the ledger and stale staged artifacts are removed from disk.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/caster-net/caster/pkg/config"
)

// EvaluationPruner deletes evaluation rows older than the cutoff.
type EvaluationPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArtifactPruner removes staged artifacts not used since the cutoff.
type ArtifactPruner interface {
	PruneOlderThan(cutoff time.Time) (int, error)
}

// Service periodically enforces the retention policies. All operations are
// idempotent; a failed sweep is retried on the next tick.
type Service struct {
	config    *config.RetentionConfig
	outcomes  EvaluationPruner
	artifacts ArtifactPruner
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention service.
func NewService(cfg *config.RetentionConfig, outcomes EvaluationPruner, artifacts ArtifactPruner, logger *slog.Logger) *Service {
	return &Service{
		config:    cfg,
		outcomes:  outcomes,
		artifacts: artifacts,
		logger:    logger.With("component", "cleanup"),
		now:       time.Now,
	}
}

// Start launches the background cleanup loop. A second Start is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"evaluation_retention_days", s.config.EvaluationRetentionDays,
		"artifact_ttl", s.config.ArtifactTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneEvaluations(ctx)
	s.pruneArtifacts()
}

func (s *Service) pruneEvaluations(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.config.EvaluationRetentionDays)
	count, err := s.outcomes.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention: evaluation prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned old evaluations", "count", count, "cutoff", cutoff)
	}
}

func (s *Service) pruneArtifacts() {
	cutoff := s.now().UTC().Add(-s.config.ArtifactTTL)
	count, err := s.artifacts.PruneOlderThan(cutoff)
	if err != nil {
		s.logger.Error("Retention: artifact prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned stale artifacts", "count", count, "cutoff", cutoff)
	}
}
