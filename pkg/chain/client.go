// Package chain defines the seam to the subtensor chain. Only the interface
// the scheduler consumes is implemented here; the shipped client records
// what would be submitted and nothing else.
package chain

import (
	"context"
	"log/slog"
	"sort"

	"github.com/caster-net/caster/pkg/models"
)

// Weight is one (uid, value) pair of a weight submission.
type Weight struct {
	UID   int     `json:"uid"`
	Value float64 `json:"value"`
}

// Client forwards batch-derived weights to the chain.
type Client interface {
	SubmitWeights(ctx context.Context, batchID string, weights []Weight) error
}

// NoopClient logs weight submissions without touching the chain.
type NoopClient struct {
	logger *slog.Logger
}

var _ Client = (*NoopClient)(nil)

// NewNoopClient creates the logging no-op chain client.
func NewNoopClient(logger *slog.Logger) *NoopClient {
	return &NoopClient{logger: logger.With("component", "chain_client")}
}

// SubmitWeights records the submission in the log and returns nil.
func (c *NoopClient) SubmitWeights(_ context.Context, batchID string, weights []Weight) error {
	c.logger.Info("Weight submission skipped, chain client is a no-op",
		"batch_id", batchID, "weights", len(weights))
	for _, w := range weights {
		c.logger.Debug("Computed weight", "batch_id", batchID, "uid", w.UID, "value", w.Value)
	}
	return nil
}

// WeightsFromEvaluations averages each candidate's total score across the
// batch's evaluations. Failed evaluations count with their recorded zero
// scores. Returned weights are ordered by uid.
func WeightsFromEvaluations(evals []*models.Evaluation) []Weight {
	totals := make(map[int]float64)
	counts := make(map[int]int)
	for _, e := range evals {
		totals[e.UID] += e.Score.Total()
		counts[e.UID]++
	}

	weights := make([]Weight, 0, len(totals))
	for uid, total := range totals {
		weights = append(weights, Weight{UID: uid, Value: total / float64(counts[uid])})
	}
	sort.Slice(weights, func(i, j int) bool { return weights[i].UID < weights[j].UID })
	return weights
}
