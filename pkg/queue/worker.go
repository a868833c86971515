package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/caster-net/caster/pkg/chain"
	"github.com/caster-net/caster/pkg/models"
)

// Worker is the single background consumer of the batch inbox. It runs one
// batch at a time and forwards each finished batch to the platform and the
// chain before picking up the next one.
type Worker struct {
	inbox     *Inbox
	runner    BatchRunner
	submitter ResultSubmitter
	weights   WeightSetter
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu               sync.RWMutex
	status           WorkerStatus
	currentBatchID   string
	batchesProcessed int
	lastActivity     time.Time
}

// NewWorker creates the batch worker.
// weights may be nil (chain submission disabled).
func NewWorker(inbox *Inbox, runner BatchRunner, submitter ResultSubmitter, weights WeightSetter, logger *slog.Logger) *Worker {
	return &Worker{
		inbox:        inbox,
		runner:       runner,
		submitter:    submitter,
		weights:      weights,
		logger:       logger.With("component", "batch_worker"),
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the in-flight batch to
// finish. It is safe to call Stop multiple times. Batches still waiting in
// the inbox are not lost: their ledger rows stay RECEIVED and startup
// recovery requeues them.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		Status:           w.status,
		CurrentBatchID:   w.currentBatchID,
		BatchesProcessed: w.batchesProcessed,
		QueueDepth:       w.inbox.Len(),
		LastActivity:     w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("Batch worker started")

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Batch worker shutting down")
			return
		case <-ctx.Done():
			w.logger.Info("Context cancelled, batch worker shutting down")
			return
		case batch := <-w.inbox.ch:
			w.process(ctx, batch)
		}
	}
}

// process runs one batch and delivers its result.
//
// Flow:
//  1. Run the batch; the runner owns ledger transitions and outcomes.
//  2. On run failure (interrupted or setup error) stop here; the ledger
//     already reflects it and there is no result to deliver.
//  3. Submit the result to the platform.
//  4. Derive weights from the outcomes and forward them to the chain.
//
// Delivery failures are logged, never retried into the ledger: the batch
// stays COMPLETED and the platform can re-request the outcome.
func (w *Worker) process(ctx context.Context, batch *models.Batch) {
	log := w.logger.With("batch_id", batch.ID)

	w.setStatus(WorkerStatusWorking, batch.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	result, err := w.runner.RunBatch(ctx, batch)
	if err != nil {
		log.Error("Batch run failed", "error", err)
		w.countProcessed()
		return
	}

	// Delivery must survive a shutdown-cancelled run context.
	deliverCtx := context.WithoutCancel(ctx)

	if err := w.submitter.SubmitBatchResult(deliverCtx, result); err != nil {
		log.Error("Failed to submit batch result", "error", err)
	} else {
		log.Info("Batch result submitted", "evaluations", len(result.Evaluations))
	}

	w.submitWeights(deliverCtx, result)
	w.countProcessed()
}

// submitWeights forwards per-candidate weights when a chain client is
// configured. A batch with no outcomes sets nothing.
func (w *Worker) submitWeights(ctx context.Context, result *models.BatchResult) {
	if w.weights == nil {
		return
	}
	weights := chain.WeightsFromEvaluations(result.Evaluations)
	if len(weights) == 0 {
		return
	}
	if err := w.weights.SubmitWeights(ctx, result.BatchID, weights); err != nil {
		w.logger.Error("Failed to submit weights", "batch_id", result.BatchID, "error", err)
		return
	}
	w.logger.Info("Weights submitted", "batch_id", result.BatchID, "candidates", len(weights))
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, batchID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentBatchID = batchID
	w.lastActivity = time.Now()
}

func (w *Worker) countProcessed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batchesProcessed++
}
