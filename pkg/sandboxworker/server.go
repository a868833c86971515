// Package sandboxworker implements the HTTP server that runs inside a
// sandbox container. It exposes the agent's entrypoints to the host and
// executes each call in a re-executed child process so the seccomp filter
// and the crash domain stay per-call.
package sandboxworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caster-net/caster/pkg/sdk"
)

// defaultEntrypointTimeout bounds a single entrypoint call.
const defaultEntrypointTimeout = 120 * time.Second

// Config carries the worker settings. The sandbox manager injects them
// through the environment when it starts the container.
type Config struct {
	Host              string
	Port              int
	TokenHeader       string
	AgentPath         string
	EntrypointTimeout time.Duration
}

// ConfigFromEnv reads the worker configuration from the environment
// variables the sandbox manager sets, falling back to defaults for
// anything unset.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:              "0.0.0.0",
		Port:              8000,
		TokenHeader:       sdk.TokenHeader,
		AgentPath:         os.Getenv(sdk.EnvAgentPath),
		EntrypointTimeout: defaultEntrypointTimeout,
	}
	if v := os.Getenv(sdk.EnvHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(sdk.EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv(sdk.EnvTokenHeader); v != "" {
		cfg.TokenHeader = v
	}
	if v := os.Getenv("ENTRYPOINT_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.EntrypointTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

// EntryRequest is one entrypoint call as the HTTP layer hands it to the
// runner.
type EntryRequest struct {
	Entrypoint string
	SessionID  string
	Token      string
	HostURL    string
	Payload    map[string]any
	Context    map[string]any
	ToolConfig map[string]any
}

// EntrypointRunner executes one entrypoint call and returns the agent's
// answer document.
type EntrypointRunner interface {
	Run(ctx context.Context, req EntryRequest) (map[string]any, error)
}

// Server is the in-container HTTP server.
type Server struct {
	cfg    Config
	runner EntrypointRunner
	logger *slog.Logger
}

// NewServer creates the worker server around the given runner.
func NewServer(cfg Config, runner EntrypointRunner, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		runner: runner,
		logger: logger.With("component", "sandbox_worker"),
	}
}

// Router builds the gin engine with the worker routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.POST("/entry/:name", s.handleEntry)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Sandbox worker listening", "addr", srv.Addr, "agent_path", s.cfg.AgentPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("worker server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("worker shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// entryBody is the request body for POST /entry/:name.
type entryBody struct {
	Payload    map[string]any `json:"payload"`
	Context    map[string]any `json:"context"`
	ToolConfig map[string]any `json:"tool_config"`
}

// handleEntry executes one entrypoint call.
//
// Flow:
// 1. Require the session token header
// 2. Require the session id and host URL headers
// 3. Decode the payload body
// 4. Run the entrypoint through the runner
// 5. Map runner failures to 404/504/500, success to {"result": ...}
func (s *Server) handleEntry(c *gin.Context) {
	token := c.GetHeader(s.cfg.TokenHeader)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token header"})
		return
	}

	sessionID := c.GetHeader(sdk.SessionHeader)
	hostURL := c.GetHeader(sdk.HostURLHeader)
	if sessionID == "" || hostURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session headers"})
		return
	}

	var body entryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	name := c.Param("name")
	result, err := s.runner.Run(c.Request.Context(), EntryRequest{
		Entrypoint: name,
		SessionID:  sessionID,
		Token:      token,
		HostURL:    hostURL,
		Payload:    body.Payload,
		Context:    body.Context,
		ToolConfig: body.ToolConfig,
	})
	if err != nil {
		s.renderRunError(c, name, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// renderRunError maps runner failures onto HTTP statuses. Timeouts become
// 504 so the host can distinguish them, a missing entrypoint becomes 404,
// everything else is a 500 with the failure message but no stack.
func (s *Server) renderRunError(c *gin.Context, entrypoint string, err error) {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": timeoutErr.Error()})
		return
	}

	var coded *CodedError
	if errors.As(err, &coded) && coded.Code == CodeMissingEntrypoint {
		c.JSON(http.StatusNotFound, gin.H{"error": coded.Message})
		return
	}

	s.logger.Error("Entrypoint failed", "entrypoint", entrypoint, "error", err)
	message := err.Error()
	if coded != nil {
		message = coded.Message
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "entrypoint failed", "exception": message})
}
