package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/auth"
)

// testSeed is a well-formed 32-byte hex seed.
var testSeed = strings.Repeat("ab", 32)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o600))
	return dir
}

func minimalYAML() string {
	return `
platform:
  base_url: "https://platform.example.com"
  signing_seed: "` + testSeed + `"
`
}

func TestInitializeMinimalConfig(t *testing.T) {
	dir := writeConfig(t, minimalYAML())

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, defaultStateDir, cfg.StateDir)

	// Unset sections keep their built-in defaults.
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 60*time.Second, cfg.Platform.Timeout)
	assert.False(t, cfg.Chain.Enabled)
	assert.Equal(t, "caster-sandbox:latest", cfg.Sandbox.Image)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.SessionTTL)
	assert.Equal(t, 16, cfg.Scheduler.InboxCapacity)
	assert.Equal(t, "openai/gpt-oss-120b", cfg.LLM.GraderModel)
	assert.Equal(t, 30, cfg.Retention.EvaluationRetentionDays)
}

func TestInitializeMergesUserValuesOntoDefaults(t *testing.T) {
	dir := writeConfig(t, `
state_dir: /data/caster

server:
  port: 9090
  tool_base_url: "http://10.0.0.1:9090"

platform:
  base_url: "https://platform.example.com"
  signing_seed: "`+testSeed+`"
  timeout: 30s

sandbox:
  image: "registry.example.com/caster-sandbox:v3"
  entrypoint_timeout: 60s
  call_timeout: 90s
  tool_config:
    region: eu

scheduler:
  session_ttl: 5m
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "/data/caster", cfg.StateDir)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset field keeps its default")
	assert.Equal(t, 30*time.Second, cfg.Platform.Timeout)
	assert.Equal(t, "registry.example.com/caster-sandbox:v3", cfg.Sandbox.Image)
	assert.Equal(t, 60*time.Second, cfg.Sandbox.EntrypointTimeout)
	assert.Equal(t, 90*time.Second, cfg.Sandbox.CallTimeout)
	assert.Equal(t, 8000, cfg.Sandbox.WorkerPort, "unset field keeps its default")
	assert.Equal(t, map[string]any{"region": "eu"}, cfg.Sandbox.ToolConfig)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.SessionTTL)
	assert.Equal(t, 1, cfg.Scheduler.TokenInflightLimit, "unset field keeps its default")
}

func TestInitializeExpandsEnvironment(t *testing.T) {
	t.Setenv("CASTER_TEST_SEED", testSeed)
	t.Setenv("CASTER_TEST_PLATFORM", "https://platform.example.com")

	dir := writeConfig(t, `
platform:
  base_url: "{{.CASTER_TEST_PLATFORM}}"
  signing_seed: "{{.CASTER_TEST_SEED}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "https://platform.example.com", cfg.Platform.BaseURL)
	assert.Equal(t, testSeed, cfg.Platform.SigningSeed)
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, configFileName, loadErr.File)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "platform: [not: a: mapping")
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidatesLoadedConfig(t *testing.T) {
	dir := writeConfig(t, `
platform:
  base_url: "https://platform.example.com"
  signing_seed: "not-hex"
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "signing_seed")
}

func TestInitializeAllowedCallers(t *testing.T) {
	address := auth.EncodeSS58([32]byte{1, 2, 3})
	dir := writeConfig(t, `
platform:
  base_url: "https://platform.example.com"
  signing_seed: "`+testSeed+`"
  allowed_callers:
    - "`+address+`"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{address}, cfg.Platform.AllowedCallers)
}

func TestExpandEnvLeavesPlainYAMLAlone(t *testing.T) {
	in := []byte("platform:\n  base_url: https://example.com\n")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnvMissingVariableIsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: '{{.CASTER_DEFINITELY_UNSET_VAR}}'"))
	assert.Equal(t, "key: ''", string(out))
}
