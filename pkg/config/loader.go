package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// casterYAMLConfig represents the complete caster.yaml file structure.
// Every section is optional; missing sections keep their built-in defaults.
type casterYAMLConfig struct {
	StateDir  string           `yaml:"state_dir"`
	Server    *ServerConfig    `yaml:"server"`
	Platform  *PlatformConfig  `yaml:"platform"`
	Chain     *ChainConfig     `yaml:"chain"`
	Search    *SearchConfig    `yaml:"search"`
	Repo      *RepoConfig      `yaml:"repo"`
	Feed      *FeedConfig      `yaml:"feed"`
	LLM       *LLMConfig       `yaml:"llm"`
	Sandbox   *SandboxConfig   `yaml:"sandbox"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Pricing   *PricingConfig   `yaml:"pricing"`
	Retention *RetentionConfig `yaml:"retention"`
}

// configFileName is the single configuration file read from configDir.
const configFileName = "caster.yaml"

// defaultStateDir holds staged artifacts when state_dir is unset.
const defaultStateDir = "/var/lib/caster"

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read caster.yaml
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into section structs
//  4. Merge user values onto built-in defaults
//  5. Validate everything, fail-fast
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"platform_url", cfg.Platform.BaseURL,
		"sandbox_image", cfg.Sandbox.Image,
		"chain_enabled", cfg.Chain.Enabled,
		"allowed_callers", len(cfg.Platform.AllowedCallers))

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	var file casterYAMLConfig
	if err := loadYAML(filepath.Join(configDir, configFileName), &file); err != nil {
		return nil, NewLoadError(configFileName, err)
	}

	cfg := &Config{configDir: configDir, StateDir: file.StateDir}
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir
	}

	// Each section starts from its defaults; user-provided values merge on
	// top so unset fields keep their built-in values.
	var err error
	if cfg.Server, err = resolve(DefaultServerConfig(), file.Server); err != nil {
		return nil, fmt.Errorf("failed to merge server config: %w", err)
	}
	if cfg.Platform, err = resolve(DefaultPlatformConfig(), file.Platform); err != nil {
		return nil, fmt.Errorf("failed to merge platform config: %w", err)
	}
	if cfg.Chain, err = resolve(DefaultChainConfig(), file.Chain); err != nil {
		return nil, fmt.Errorf("failed to merge chain config: %w", err)
	}
	if cfg.Search, err = resolve(DefaultSearchConfig(), file.Search); err != nil {
		return nil, fmt.Errorf("failed to merge search config: %w", err)
	}
	if cfg.Repo, err = resolve(DefaultRepoConfig(), file.Repo); err != nil {
		return nil, fmt.Errorf("failed to merge repo config: %w", err)
	}
	if cfg.Feed, err = resolve(DefaultFeedConfig(), file.Feed); err != nil {
		return nil, fmt.Errorf("failed to merge feed config: %w", err)
	}
	if cfg.LLM, err = resolve(DefaultLLMConfig(), file.LLM); err != nil {
		return nil, fmt.Errorf("failed to merge llm config: %w", err)
	}
	if cfg.Sandbox, err = resolve(DefaultSandboxConfig(), file.Sandbox); err != nil {
		return nil, fmt.Errorf("failed to merge sandbox config: %w", err)
	}
	if cfg.Scheduler, err = resolve(DefaultSchedulerConfig(), file.Scheduler); err != nil {
		return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
	}
	if cfg.Pricing, err = resolve(DefaultPricingConfig(), file.Pricing); err != nil {
		return nil, fmt.Errorf("failed to merge pricing config: %w", err)
	}
	if cfg.Retention, err = resolve(DefaultRetentionConfig(), file.Retention); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}

	return cfg, nil
}

// resolve merges the user-provided section onto its defaults (non-zero
// values override) and returns the defaults when the section is absent.
func resolve[T any](defaults *T, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, err
	}
	return defaults, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes the original data through on parse/execution
	// errors, letting the YAML parser produce the clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}
