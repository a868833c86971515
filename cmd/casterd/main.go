// casterd is the validator host daemon. It accepts evaluation batches from
// the platform, runs candidate agents in sandboxes, serves their tool calls,
// scores the answers, and reports the results back.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/caster-net/caster/pkg/api"
	"github.com/caster-net/caster/pkg/artifact"
	"github.com/caster-net/caster/pkg/auth"
	"github.com/caster-net/caster/pkg/budget"
	"github.com/caster-net/caster/pkg/chain"
	"github.com/caster-net/caster/pkg/cleanup"
	"github.com/caster-net/caster/pkg/config"
	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/eval"
	"github.com/caster-net/caster/pkg/llm"
	"github.com/caster-net/caster/pkg/platform"
	"github.com/caster-net/caster/pkg/queue"
	"github.com/caster-net/caster/pkg/receipt"
	"github.com/caster-net/caster/pkg/sandbox"
	"github.com/caster-net/caster/pkg/score"
	"github.com/caster-net/caster/pkg/search"
	"github.com/caster-net/caster/pkg/session"
	"github.com/caster-net/caster/pkg/tools"
	"github.com/caster-net/caster/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	logger := slog.Default()

	slog.Info("Starting casterd",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	batchStore := database.NewBatchStore(dbClient.DB())
	evalStore := database.NewEvaluationStore(dbClient.DB())

	// 3. Repair the batch ledger and requeue work from the previous run
	inbox := queue.NewInbox(cfg.Scheduler.InboxCapacity)
	if err := queue.RecoverStartupState(ctx, batchStore, inbox, logger); err != nil {
		slog.Error("Failed to recover startup state", "error", err)
		os.Exit(1)
	}

	// 4. Platform identity: outbound signing key and inbound caller allow-list
	keypair, err := auth.NewKeypairFromHex(cfg.Platform.SigningSeed)
	if err != nil {
		slog.Error("Failed to load signing key", "error", err)
		os.Exit(1)
	}
	verifier := auth.NewVerifier(cfg.Platform.AllowedCallers)
	slog.Info("Platform identity loaded",
		"address", keypair.Address(),
		"allowed_callers", len(cfg.Platform.AllowedCallers))

	platformClient := platform.NewClient(platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		Timeout: cfg.Platform.Timeout,
	}, keypair, logger)

	// 5. Upstream providers. Each is optional; tools backed by an
	// unconfigured provider report "tool not configured" to the agent.
	var searchClient *search.Client
	if cfg.Search.BaseURL != "" {
		searchClient, err = search.New(search.Config{
			BaseURL: cfg.Search.BaseURL,
			APIKey:  cfg.Search.APIKey,
			Timeout: cfg.Search.Timeout,
		})
		if err != nil {
			slog.Error("Failed to create search client", "error", err)
			os.Exit(1)
		}
	}

	var repoClient *search.RepoClient
	if cfg.Repo.BaseURL != "" {
		repoClient, err = search.NewRepoClient(search.RepoConfig{
			BaseURL: cfg.Repo.BaseURL,
			APIKey:  cfg.Repo.APIKey,
			Timeout: cfg.Repo.Timeout,
		})
		if err != nil {
			slog.Error("Failed to create repo search client", "error", err)
			os.Exit(1)
		}
	}

	var feedClient *search.FeedClient
	if cfg.Feed.BaseURL != "" {
		feedClient, err = search.NewFeedClient(search.FeedConfig{
			BaseURL: cfg.Feed.BaseURL,
			Timeout: cfg.Feed.Timeout,
		}, keypair)
		if err != nil {
			slog.Error("Failed to create feed client", "error", err)
			os.Exit(1)
		}
	}

	var llmClient *llm.Client
	if cfg.LLM.BaseURL != "" {
		llmClient, err = llm.New(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			slog.Error("Failed to create llm client", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No llm endpoint configured, llm_chat is disabled and support grading scores zero")
	}

	slog.Info("Upstream providers configured",
		"search", searchClient != nil,
		"repo", repoClient != nil,
		"feed", feedClient != nil,
		"llm", llmClient != nil)

	// 6. Session accounting and the tool pipeline
	sessions := session.NewRegistry()
	tokens := session.NewTokenRegistry(int64(cfg.Scheduler.TokenInflightLimit))
	receipts := receipt.NewLog()

	pricing := budget.DefaultTable()
	if cfg.Pricing.SearchRepoUSD > 0 {
		pricing.SearchFlatUSD["search_repo"] = cfg.Pricing.SearchRepoUSD
	}
	if cfg.Pricing.GetRepoFileUSD > 0 {
		pricing.SearchFlatUSD["get_repo_file"] = cfg.Pricing.GetRepoFileUSD
	}
	if cfg.Pricing.SearchItemsUSD > 0 {
		pricing.SearchFlatUSD["search_items"] = cfg.Pricing.SearchItemsUSD
	}
	tracker := budget.NewTracker(pricing)

	handlers := tools.NewHandlers(searchClient, repoClient, feedClient, llmClient, version.GitCommit)
	dispatcher := tools.NewDispatcher(sessions, tokens, receipts, tracker, handlers, logger)

	// 7. Sandbox engine and the evaluation pipeline
	manager, err := sandbox.NewManager(sandbox.Config{
		Image:             cfg.Sandbox.Image,
		WorkerPort:        cfg.Sandbox.WorkerPort,
		Network:           cfg.Sandbox.Network,
		SeccompProfile:    cfg.Sandbox.SeccompProfile,
		MountPath:         cfg.Sandbox.MountPath,
		HealthTimeout:     cfg.Sandbox.HealthTimeout,
		StopTimeout:       cfg.Sandbox.StopTimeout,
		EntrypointTimeout: cfg.Sandbox.EntrypointTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to create sandbox manager", "error", err)
		os.Exit(1)
	}

	invoker := sandbox.NewInvoker(sessions, tokens, receipts,
		cfg.Server.ToolBaseURL, cfg.Sandbox.CallTimeout, logger)
	grader := score.NewLLMGrader(llmClient, cfg.LLM.GraderModel)
	scorer := score.NewScorer(grader, logger)
	orchestrator := eval.NewOrchestrator(invoker, sessions, receipts, scorer, logger)

	artifacts := artifact.NewStore(cfg.StateDir, platformClient, logger)
	scheduler := queue.NewScheduler(queue.SchedulerConfig{
		SessionTTL: cfg.Scheduler.SessionTTL,
		ToolConfig: cfg.Sandbox.ToolConfig,
	}, artifacts, manager, orchestrator, batchStore, evalStore, sessions, tokens, receipts, logger)

	// 8. Start the batch worker (before the HTTP server so recovered
	// batches drain even if intake never gets a request)
	var weights queue.WeightSetter
	if cfg.Chain.Enabled {
		weights = chain.NewNoopClient(logger)
	}
	worker := queue.NewWorker(inbox, scheduler, platformClient, weights, logger)
	worker.Start(ctx)

	// 9. Start the retention sweeper
	cleanupService := cleanup.NewService(cfg.Retention, evalStore, artifacts, logger)
	cleanupService.Start(ctx)

	// 10. Create HTTP server
	httpServer := api.NewServer(dispatcher, batchStore, evalStore, inbox, verifier, dbClient, worker, logger)

	// 11. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("casterd started successfully",
		"addr", cfg.Server.Addr(),
		"inbox_capacity", cfg.Scheduler.InboxCapacity,
		"sandbox_image", cfg.Sandbox.Image)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: let the in-flight batch finish, then stop the
	// sweeper and the HTTP server
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Scheduler.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Batch worker stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, the interrupted batch will be repaired on restart")
	}

	cleanupService.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
