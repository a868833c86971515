// Package sandbox starts and stops the hardened agent containers and
// invokes entrypoints inside them. One container per candidate; the host
// talks to the in-container worker over HTTP.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/caster-net/caster/pkg/sdk"
)

// Resource limits applied to every sandbox container.
const (
	tmpfsSizeBytes = 64 * units.MiB
	memoryBytes    = 1 * units.GiB
	nanoCPUs       = 1_000_000_000 // one CPU
	pidsLimit      = 128
	nprocLimit     = 128
	nofileLimit    = 512

	sandboxUser = "caster"
)

// Config controls how sandbox containers are created.
type Config struct {
	// Image is the sandbox worker image (carries the caster-sandbox binary).
	Image string
	// WorkerPort is the in-container port the worker listens on.
	WorkerPort int
	// Network, when set, joins the container to this named bridge network and
	// publishes nothing; when empty the worker port is published on loopback
	// with an ephemeral host port. The two modes are mutually exclusive.
	Network string
	// SeccompProfile is the path of a seccomp JSON profile applied to the
	// container. Empty keeps the engine default profile.
	SeccompProfile string
	// MountPath is the in-container directory the staged artifact dir is
	// mounted at, read-only.
	MountPath string
	// HealthTimeout bounds the post-start /healthz poll.
	HealthTimeout time.Duration
	// StopTimeout is the grace period passed to the engine on stop.
	StopTimeout time.Duration
	// EntrypointTimeout is exported to the worker as
	// ENTRYPOINT_TIMEOUT_SECONDS. Zero keeps the worker default.
	EntrypointTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerPort == 0 {
		c.WorkerPort = 8000
	}
	if c.MountPath == "" {
		c.MountPath = "/opt/caster/agent"
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 15 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}

// StartSpec describes one candidate's container.
type StartSpec struct {
	// Name is the container name.
	Name string
	// UID is the candidate uid, recorded as a container label.
	UID int
	// StagingDir is the host directory holding the staged artifact; it is
	// mounted read-only at Config.MountPath.
	StagingDir string
	// AgentFile is the artifact file name inside StagingDir.
	AgentFile string
}

// Container is a running sandbox.
type Container struct {
	ID   string
	Name string
	// BaseURL is the worker base URL reachable from this process.
	BaseURL string

	stopLogs context.CancelFunc
}

// Manager creates, health-checks, and tears down sandbox containers.
type Manager struct {
	cli        *client.Client
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewManager connects to the Docker engine from the environment.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Manager{
		cli:        cli,
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{Timeout: 2 * time.Second},
		logger:     logger.With("component", "sandbox_manager"),
	}, nil
}

// Start creates and starts a hardened container for the spec and waits for
// the worker to report healthy.
//
// Flow:
//  1. Build the container and host configs (read-only rootfs, tmpfs /tmp,
//     all capabilities dropped, no-new-privileges, optional seccomp profile,
//     pids/memory/cpu/ulimit caps, unprivileged user, ro artifact mount).
//  2. Create and start the container.
//  3. Resolve the worker base URL (published loopback port or named network).
//  4. Stream container logs until Stop.
//  5. Poll GET /healthz until healthy or Config.HealthTimeout.
//
// Any failure after create removes the partial container best-effort.
func (m *Manager) Start(ctx context.Context, spec StartSpec) (*Container, error) {
	containerCfg, hostCfg, netCfg, err := m.buildConfigs(spec)
	if err != nil {
		return nil, err
	}

	created, err := m.cli.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}
	logger := m.logger.With("container_id", created.ID[:12], "uid", spec.UID)

	if err := m.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		m.removePartial(created.ID)
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	baseURL, err := m.resolveBaseURL(ctx, created.ID, spec.Name)
	if err != nil {
		m.removePartial(created.ID)
		return nil, err
	}

	logCtx, stopLogs := context.WithCancel(context.Background())
	go m.streamLogs(logCtx, created.ID, logger)

	c := &Container{ID: created.ID, Name: spec.Name, BaseURL: baseURL, stopLogs: stopLogs}
	if err := m.awaitHealthy(ctx, c); err != nil {
		stopLogs()
		m.removePartial(created.ID)
		return nil, err
	}

	logger.Info("Sandbox started", "base_url", baseURL)
	return c, nil
}

// Stop stops the log streamer, stops the container with the configured
// grace period, and removes it. Removal failures are logged, not returned.
func (m *Manager) Stop(ctx context.Context, c *Container) error {
	if c == nil {
		return nil
	}
	if c.stopLogs != nil {
		c.stopLogs()
	}

	timeout := int(m.cfg.StopTimeout.Seconds())
	if err := m.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop sandbox container %s: %w", c.Name, err)
	}
	if err := m.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
		m.logger.Warn("Failed to remove sandbox container", "container", c.Name, "error", err)
	}
	m.logger.Info("Sandbox stopped", "container", c.Name)
	return nil
}

func (m *Manager) buildConfigs(spec StartSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(m.cfg.WorkerPort))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid worker port %d: %w", m.cfg.WorkerPort, err)
	}

	agentPath := m.cfg.MountPath + "/" + spec.AgentFile
	env := []string{
		sdk.EnvHost + "=0.0.0.0",
		sdk.EnvPort + "=" + strconv.Itoa(m.cfg.WorkerPort),
		sdk.EnvTokenHeader + "=" + sdk.TokenHeader,
		sdk.EnvAgentPath + "=" + agentPath,
	}
	if m.cfg.EntrypointTimeout > 0 {
		env = append(env, "ENTRYPOINT_TIMEOUT_SECONDS="+strconv.Itoa(int(m.cfg.EntrypointTimeout/time.Second)))
	}
	containerCfg := &container.Config{
		Image: m.cfg.Image,
		User:  sandboxUser,
		Env:   env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			"caster.component": "sandbox",
			"caster.uid":       strconv.Itoa(spec.UID),
		},
	}

	securityOpt := []string{"no-new-privileges:true"}
	if m.cfg.SeccompProfile != "" {
		profile, err := os.ReadFile(m.cfg.SeccompProfile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read seccomp profile: %w", err)
		}
		securityOpt = append(securityOpt, "seccomp="+string(profile))
	}

	limit := int64(pidsLimit)
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("rw,noexec,nosuid,nodev,size=%d", tmpfsSizeBytes),
		},
		CapDrop:     []string{"ALL"},
		SecurityOpt: securityOpt,
		Binds:       []string{spec.StagingDir + ":" + m.cfg.MountPath + ":ro"},
		Resources: container.Resources{
			Memory:    memoryBytes,
			NanoCPUs:  nanoCPUs,
			PidsLimit: &limit,
			Ulimits: []*units.Ulimit{
				{Name: "nproc", Soft: nprocLimit, Hard: nprocLimit},
				{Name: "nofile", Soft: nofileLimit, Hard: nofileLimit},
			},
		},
	}

	var netCfg *network.NetworkingConfig
	if m.cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(m.cfg.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				m.cfg.Network: {},
			},
		}
	} else {
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		}
	}

	return containerCfg, hostCfg, netCfg, nil
}

// resolveBaseURL returns the worker URL: the published loopback port, or the
// container name on the shared network.
func (m *Manager) resolveBaseURL(ctx context.Context, id, name string) (string, error) {
	if m.cfg.Network != "" {
		return fmt.Sprintf("http://%s:%d", name, m.cfg.WorkerPort), nil
	}

	inspect, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to inspect sandbox container: %w", err)
	}
	port, err := nat.NewPort("tcp", strconv.Itoa(m.cfg.WorkerPort))
	if err != nil {
		return "", err
	}
	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		return "", fmt.Errorf("sandbox container published no binding for port %s", port)
	}
	return fmt.Sprintf("http://127.0.0.1:%s", bindings[0].HostPort), nil
}

// awaitHealthy polls the worker's /healthz until it answers 200.
func (m *Manager) awaitHealthy(ctx context.Context, c *Container) error {
	deadline := time.Now().Add(m.cfg.HealthTimeout)
	url := c.BaseURL + "/healthz"

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create health request: %w", err)
		}
		resp, err := m.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("sandbox %s did not become healthy within %s", c.Name, m.cfg.HealthTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sandbox health wait cancelled: %w", ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// streamLogs copies container output to the logger until ctx is cancelled.
func (m *Manager) streamLogs(ctx context.Context, id string, logger *slog.Logger) {
	reader, err := m.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.Warn("Failed to stream sandbox logs", "error", err)
		return
	}
	defer func() { _ = reader.Close() }()

	stdout := &logWriter{logger: logger, stream: "stdout"}
	stderr := &logWriter{logger: logger, stream: "stderr"}
	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && ctx.Err() == nil {
		logger.Debug("Sandbox log stream ended", "error", err)
	}
}

// removePartial force-removes a container left over from a failed start.
func (m *Manager) removePartial(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		m.logger.Warn("Failed to remove partial sandbox container", "container_id", id[:12], "error", err)
	}
}

// logWriter forwards whole lines of container output to slog.
type logWriter struct {
	logger *slog.Logger
	stream string
	buf    []byte
}

var _ io.Writer = (*logWriter)(nil)

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		if line != "" {
			w.logger.Debug("sandbox: "+line, "stream", w.stream)
		}
	}
	return len(p), nil
}
