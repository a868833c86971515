package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/caster-net/caster/pkg/auth"
	"github.com/caster-net/caster/pkg/llm"
)

// Validator checks a loaded configuration with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at the
// first error). Sections are checked in dependency order: the server and
// state first, then the platform identity, then providers, then runtime
// tuning.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateState(); err != nil {
		return err
	}
	if err := v.validatePlatform(); err != nil {
		return err
	}
	if err := v.validateProviders(); err != nil {
		return err
	}
	if err := v.validateSandbox(); err != nil {
		return err
	}
	if err := v.validateScheduler(); err != nil {
		return err
	}
	if err := v.validatePricing(); err != nil {
		return err
	}
	return v.validateRetention()
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return NewValidationError("server", "", fmt.Errorf("section is nil"))
	}
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d, must be between 1 and 65535", ErrInvalidValue, s.Port))
	}
	if s.ToolBaseURL == "" {
		return NewValidationError("server", "tool_base_url", ErrMissingRequiredField)
	}
	if err := validateHTTPURL(s.ToolBaseURL); err != nil {
		return NewValidationError("server", "tool_base_url", err)
	}
	return nil
}

func (v *Validator) validateState() error {
	if v.cfg.StateDir == "" {
		return NewValidationError("state", "state_dir", ErrMissingRequiredField)
	}
	if !filepath.IsAbs(v.cfg.StateDir) {
		return NewValidationError("state", "state_dir", fmt.Errorf("%w: must be an absolute path", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validatePlatform() error {
	p := v.cfg.Platform
	if p == nil {
		return NewValidationError("platform", "", fmt.Errorf("section is nil"))
	}
	if p.BaseURL == "" {
		return NewValidationError("platform", "base_url", ErrMissingRequiredField)
	}
	if err := validateHTTPURL(p.BaseURL); err != nil {
		return NewValidationError("platform", "base_url", err)
	}
	if p.Timeout <= 0 {
		return NewValidationError("platform", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.SigningSeed == "" {
		return NewValidationError("platform", "signing_seed", ErrMissingRequiredField)
	}
	if seed, err := hex.DecodeString(strings.TrimPrefix(p.SigningSeed, "0x")); err != nil || len(seed) != 32 {
		return NewValidationError("platform", "signing_seed", fmt.Errorf("%w: must be 32 hex-encoded bytes", ErrInvalidValue))
	}
	for i, caller := range p.AllowedCallers {
		if _, err := auth.DecodeSS58(caller); err != nil {
			return NewValidationError("platform", fmt.Sprintf("allowed_callers[%d]", i), err)
		}
	}
	return nil
}

func (v *Validator) validateProviders() error {
	if v.cfg.Search != nil && v.cfg.Search.BaseURL != "" {
		if err := validateHTTPURL(v.cfg.Search.BaseURL); err != nil {
			return NewValidationError("search", "base_url", err)
		}
	}
	if v.cfg.Repo != nil && v.cfg.Repo.BaseURL != "" {
		if err := validateHTTPURL(v.cfg.Repo.BaseURL); err != nil {
			return NewValidationError("repo", "base_url", err)
		}
	}
	if v.cfg.Feed != nil && v.cfg.Feed.BaseURL != "" {
		if err := validateHTTPURL(v.cfg.Feed.BaseURL); err != nil {
			return NewValidationError("feed", "base_url", err)
		}
	}

	l := v.cfg.LLM
	if l == nil {
		return NewValidationError("llm", "", fmt.Errorf("section is nil"))
	}
	if l.BaseURL != "" {
		if err := validateHTTPURL(l.BaseURL); err != nil {
			return NewValidationError("llm", "base_url", err)
		}
	}
	if l.GraderModel == "" {
		return NewValidationError("llm", "grader_model", ErrMissingRequiredField)
	}
	if !llm.ModelAllowed(l.GraderModel) {
		return NewValidationError("llm", "grader_model", fmt.Errorf("%w: %q is not an allowed model", ErrInvalidValue, l.GraderModel))
	}
	return nil
}

func (v *Validator) validateSandbox() error {
	s := v.cfg.Sandbox
	if s == nil {
		return NewValidationError("sandbox", "", fmt.Errorf("section is nil"))
	}
	if s.Image == "" {
		return NewValidationError("sandbox", "image", ErrMissingRequiredField)
	}
	if s.WorkerPort < 1 || s.WorkerPort > 65535 {
		return NewValidationError("sandbox", "worker_port", fmt.Errorf("%w: %d, must be between 1 and 65535", ErrInvalidValue, s.WorkerPort))
	}
	if s.HealthTimeout <= 0 {
		return NewValidationError("sandbox", "health_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.StopTimeout <= 0 {
		return NewValidationError("sandbox", "stop_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.EntrypointTimeout <= 0 {
		return NewValidationError("sandbox", "entrypoint_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	// The host must keep waiting past the worker's own deadline, otherwise
	// timeouts surface as client errors instead of the worker's 504.
	if s.CallTimeout <= s.EntrypointTimeout {
		return NewValidationError("sandbox", "call_timeout",
			fmt.Errorf("%w: must exceed entrypoint_timeout (%s)", ErrInvalidValue, s.EntrypointTimeout))
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return NewValidationError("scheduler", "", fmt.Errorf("section is nil"))
	}
	if s.SessionTTL <= 0 {
		return NewValidationError("scheduler", "session_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.InboxCapacity < 1 {
		return NewValidationError("scheduler", "inbox_capacity", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.TokenInflightLimit < 1 {
		return NewValidationError("scheduler", "token_inflight_limit", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.GracefulShutdownTimeout <= 0 {
		return NewValidationError("scheduler", "graceful_shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validatePricing() error {
	p := v.cfg.Pricing
	if p == nil {
		return NewValidationError("pricing", "", fmt.Errorf("section is nil"))
	}
	if p.SearchRepoUSD < 0 {
		return NewValidationError("pricing", "search_repo_usd", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if p.GetRepoFileUSD < 0 {
		return NewValidationError("pricing", "get_repo_file_usd", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if p.SearchItemsUSD < 0 {
		return NewValidationError("pricing", "search_items_usd", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return NewValidationError("retention", "", fmt.Errorf("section is nil"))
	}
	if r.EvaluationRetentionDays < 1 {
		return NewValidationError("retention", "evaluation_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.ArtifactTTL <= 0 {
		return NewValidationError("retention", "artifact_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidValue)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidValue)
	}
	return nil
}
