// Package config loads, merges, and validates the validator's YAML
// configuration. Initialize is the single entry point; everything else is
// the section types with their defaults.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the umbrella configuration object returned by Initialize and
// used throughout the application. Every section is non-nil after a
// successful Initialize.
type Config struct {
	configDir string

	// StateDir is the host directory for durable local state (staged
	// artifacts live under it).
	StateDir string

	Server    *ServerConfig
	Platform  *PlatformConfig
	Chain     *ChainConfig
	Search    *SearchConfig
	Repo      *RepoConfig
	Feed      *FeedConfig
	LLM       *LLMConfig
	Sandbox   *SandboxConfig
	Scheduler *SchedulerConfig
	Pricing   *PricingConfig
	Retention *RetentionConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig controls the host HTTP API.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// ToolBaseURL is the URL sandboxed agents use to reach this server's
	// tool API. It is advertised to each sandbox in the host-url header and
	// must be reachable from inside the sandbox network (typically the
	// Docker bridge gateway, not localhost).
	ToolBaseURL string `yaml:"tool_base_url"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:        "0.0.0.0",
		Port:        8080,
		ToolBaseURL: "http://172.17.0.1:8080",
	}
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PlatformConfig points at the evaluation platform and carries the signing
// identity for the callback protocol.
type PlatformConfig struct {
	// BaseURL is the platform API root.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each platform HTTP call.
	Timeout time.Duration `yaml:"timeout"`

	// SigningSeed is the hex-encoded sr25519 seed this validator signs
	// outbound requests with. Use {{.VAR}} to pull it from the environment.
	SigningSeed string `yaml:"signing_seed"`

	// AllowedCallers is the ss58 allow-list for inbound signed callbacks.
	// Empty admits any caller whose signature verifies.
	AllowedCallers []string `yaml:"allowed_callers"`
}

// DefaultPlatformConfig returns the built-in platform defaults.
func DefaultPlatformConfig() *PlatformConfig {
	return &PlatformConfig{
		Timeout: 60 * time.Second,
	}
}

// ChainConfig controls weight submission.
type ChainConfig struct {
	// Enabled turns weight submission on: finished batches additionally
	// produce per-candidate weights handed to the chain client. When false
	// finished batches go to the platform only.
	Enabled bool `yaml:"enabled"`
}

// DefaultChainConfig returns the built-in chain defaults.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{Enabled: false}
}

// SearchConfig points at the web/X/AI search provider.
type SearchConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSearchConfig returns the built-in search defaults.
func DefaultSearchConfig() *SearchConfig {
	return &SearchConfig{Timeout: 30 * time.Second}
}

// RepoConfig points at the repository search service.
type RepoConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultRepoConfig returns the built-in repo search defaults.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{Timeout: 30 * time.Second}
}

// FeedConfig points at the claim feed service. Feed requests are signed
// with the platform keypair, so no API key is needed.
type FeedConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultFeedConfig returns the built-in feed defaults.
func DefaultFeedConfig() *FeedConfig {
	return &FeedConfig{Timeout: 30 * time.Second}
}

// LLMConfig points at the OpenAI-compatible inference endpoint used for
// both agent llm_chat calls and the grader.
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// GraderModel is the model ref the scorer grades support with. Must be
	// on the allowed-models list.
	GraderModel string `yaml:"grader_model"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Timeout:     120 * time.Second,
		GraderModel: "openai/gpt-oss-120b",
	}
}

