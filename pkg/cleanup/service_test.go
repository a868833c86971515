package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/config"
)

type fakeEvaluationPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakeEvaluationPruner) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func (f *fakeEvaluationPruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeArtifactPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	count   int
	err     error
}

func (f *fakeArtifactPruner) PruneOlderThan(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func (f *fakeArtifactPruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		EvaluationRetentionDays: 30,
		ArtifactTTL:             72 * time.Hour,
		CleanupInterval:         time.Hour,
	}
}

func TestRunAllPrunesBothStores(t *testing.T) {
	evals := &fakeEvaluationPruner{count: 4}
	artifacts := &fakeArtifactPruner{count: 2}
	svc := NewService(retentionConfig(), evals, artifacts, testLogger())

	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	svc.runAll(context.Background())

	require.Equal(t, 1, evals.calls())
	assert.True(t, evals.cutoffs[0].Equal(frozen.AddDate(0, 0, -30)))

	require.Equal(t, 1, artifacts.calls())
	assert.True(t, artifacts.cutoffs[0].Equal(frozen.Add(-72*time.Hour)))
}

func TestRunAllContinuesPastEvaluationFailure(t *testing.T) {
	evals := &fakeEvaluationPruner{err: errors.New("database down")}
	artifacts := &fakeArtifactPruner{}
	svc := NewService(retentionConfig(), evals, artifacts, testLogger())

	svc.runAll(context.Background())

	// The artifact sweep still runs when the evaluation sweep fails.
	assert.Equal(t, 1, evals.calls())
	assert.Equal(t, 1, artifacts.calls())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	evals := &fakeEvaluationPruner{}
	artifacts := &fakeArtifactPruner{}
	cfg := retentionConfig()
	cfg.CleanupInterval = time.Hour
	svc := NewService(cfg, evals, artifacts, testLogger())

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return evals.calls() == 1 && artifacts.calls() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService(retentionConfig(), &fakeEvaluationPruner{}, &fakeArtifactPruner{}, testLogger())

	// Stop before Start is a no-op.
	svc.Stop()

	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}

func TestSecondStartIsNoOp(t *testing.T) {
	evals := &fakeEvaluationPruner{}
	svc := NewService(retentionConfig(), evals, &fakeArtifactPruner{}, testLogger())

	svc.Start(context.Background())
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return evals.calls() >= 1 }, 2*time.Second, 10*time.Millisecond)
	// A second Start must not spawn a second loop; with an hour-long
	// interval only the startup sweep can have run.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, evals.calls())
}
