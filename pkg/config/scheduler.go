package config

import "time"

// SchedulerConfig contains batch worker and session issuance settings.
type SchedulerConfig struct {
	// SessionTTL is how long an issued per-claim session stays valid.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// InboxCapacity bounds how many accepted batches may wait for the
	// worker before intake reports backpressure.
	InboxCapacity int `yaml:"inbox_capacity"`

	// TokenInflightLimit caps concurrent tool calls per session token.
	TokenInflightLimit int `yaml:"token_inflight_limit"`

	// GracefulShutdownTimeout is the max time to wait for the in-flight
	// batch to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SessionTTL:              10 * time.Minute,
		InboxCapacity:           16,
		TokenInflightLimit:      1,
		GracefulShutdownTimeout: 2 * time.Minute,
	}
}
