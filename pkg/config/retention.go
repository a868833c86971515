package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// EvaluationRetentionDays is how many days to keep evaluation rows of
	// finished batches before deleting them.
	EvaluationRetentionDays int `yaml:"evaluation_retention_days"`

	// ArtifactTTL is the maximum age of a staged artifact since it was
	// last used before the cleanup loop removes it.
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EvaluationRetentionDays: 30,
		ArtifactTTL:             72 * time.Hour,
		CleanupInterval:         12 * time.Hour,
	}
}
