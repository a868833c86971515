// Package api exposes the host HTTP surface: tool execution for sandboxed
// agents, signed batch intake from the platform, batch status reads, and the
// health probe.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caster-net/caster/pkg/auth"
	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/queue"
	"github.com/caster-net/caster/pkg/tools"
)

// ToolExecutor runs one authenticated tool call end to end.
type ToolExecutor interface {
	Execute(ctx context.Context, inv tools.Invocation) (*tools.Result, error)
}

// BatchLedger is the slice of the batch store that intake and status reads
// touch.
type BatchLedger interface {
	InsertReceived(ctx context.Context, batch *models.Batch) error
	Get(ctx context.Context, batchID string) (*database.BatchRecord, error)
}

// OutcomeReader lists the persisted outcomes of a batch.
type OutcomeReader interface {
	ListByBatch(ctx context.Context, batchID string) ([]*models.Evaluation, error)
}

// HealthChecker reports database connectivity for the health probe.
type HealthChecker interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// WorkerReporter exposes the batch worker's health snapshot.
type WorkerReporter interface {
	Health() queue.WorkerHealth
}

// Server wires the HTTP handlers to their backing components.
type Server struct {
	executor ToolExecutor
	ledger   BatchLedger
	outcomes OutcomeReader
	inbox    *queue.Inbox
	verifier *auth.Verifier
	db       HealthChecker
	worker   WorkerReporter
	logger   *slog.Logger

	httpSrv *http.Server
}

// NewServer creates the host API server. worker may be nil; the health probe
// then omits the worker snapshot.
func NewServer(
	executor ToolExecutor,
	ledger BatchLedger,
	outcomes OutcomeReader,
	inbox *queue.Inbox,
	verifier *auth.Verifier,
	db HealthChecker,
	worker WorkerReporter,
	logger *slog.Logger,
) *Server {
	return &Server{
		executor: executor,
		ledger:   ledger,
		outcomes: outcomes,
		inbox:    inbox,
		verifier: verifier,
		db:       db,
		worker:   worker,
		logger:   logger.With("component", "api"),
	}
}

// Router builds the gin engine. Platform routes sit behind the signed-caller
// gate; tool execution authenticates per call with session id + token inside
// the dispatcher.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), securityHeaders())

	router.GET("/healthz", s.handleHealth)

	v1 := router.Group("/v1")
	v1.POST("/tools/execute", s.handleExecuteTool)

	batches := v1.Group("/batches", s.signedCaller())
	batches.POST("", s.handleSubmitBatch)
	batches.GET("/:id", s.handleGetBatch)

	return router
}

// Start serves on addr. Blocks until the listener stops, like
// http.Server.ListenAndServe.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router()}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
