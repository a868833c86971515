package models

import "time"

// BatchStatus tracks a batch through the scheduler.
type BatchStatus string

const (
	BatchReceived    BatchStatus = "RECEIVED"
	BatchRunning     BatchStatus = "RUNNING"
	BatchCompleted   BatchStatus = "COMPLETED"
	BatchInterrupted BatchStatus = "INTERRUPTED"
)

// Candidate is a (miner uid, agent artifact) pair participating in a batch.
type Candidate struct {
	UID        int    `json:"uid"`
	ArtifactID string `json:"artifact_id"`
	SHA256     string `json:"sha256"`
	Size       int64  `json:"size"`
}

// Batch is a bundle of claims to be evaluated across a set of candidate
// agents. Claims and candidates are ordered; artifact ids are unique within
// a batch.
type Batch struct {
	ID         string      `json:"batch_id"`
	Entrypoint string      `json:"entrypoint"`
	CutoffAt   time.Time   `json:"cutoff_at"`
	Claims     []Claim     `json:"claims"`
	Candidates []Candidate `json:"candidates"`
}

// BatchResult is the scheduler's summary of one completed batch run.
type BatchResult struct {
	BatchID       string        `json:"batch_id"`
	Claims        []Claim       `json:"claims"`
	Evaluations   []*Evaluation `json:"evaluations"`
	CandidateUIDs []int         `json:"candidate_uids"`
}
