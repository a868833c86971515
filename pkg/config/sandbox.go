package config

import "time"

// SandboxConfig controls how agent containers are created and called.
type SandboxConfig struct {
	// Image is the sandbox worker image (carries the caster-sandbox binary).
	Image string `yaml:"image"`

	// WorkerPort is the in-container port the worker listens on.
	WorkerPort int `yaml:"worker_port"`

	// Network, when set, joins sandboxes to this named bridge network and
	// publishes nothing; when empty the worker port is published on
	// loopback with an ephemeral host port.
	Network string `yaml:"network"`

	// SeccompProfile is the path of a seccomp JSON profile applied to the
	// container. Empty keeps the engine default.
	SeccompProfile string `yaml:"seccomp_profile"`

	// MountPath is the in-container directory the staged artifact is
	// mounted at, read-only.
	MountPath string `yaml:"mount_path"`

	// HealthTimeout bounds the post-start /healthz poll.
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// StopTimeout is the grace period passed to the engine on stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// CallTimeout is the host-side HTTP timeout per entrypoint call. Must
	// exceed EntrypointTimeout so the worker's 504 arrives instead of a
	// client timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// EntrypointTimeout is the in-worker wall-clock budget per entrypoint
	// call, exported to the container as ENTRYPOINT_TIMEOUT_SECONDS.
	EntrypointTimeout time.Duration `yaml:"entrypoint_timeout"`

	// ToolConfig is passed through to agent entrypoints unchanged.
	ToolConfig map[string]any `yaml:"tool_config"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		Image:             "caster-sandbox:latest",
		WorkerPort:        8000,
		MountPath:         "/opt/caster/agent",
		HealthTimeout:     15 * time.Second,
		StopTimeout:       10 * time.Second,
		CallTimeout:       150 * time.Second,
		EntrypointTimeout: 120 * time.Second,
	}
}
