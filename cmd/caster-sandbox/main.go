// caster-sandbox is the in-container worker. It serves the entrypoint API
// the host calls and re-executes itself as a seccomp-confined child for
// each agent invocation.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caster-net/caster/pkg/sandboxworker"
)

func main() {
	// Child mode must be dispatched before anything else: the child locks
	// seccomp and runs the agent, it never serves HTTP.
	if len(os.Args) > 1 && os.Args[1] == sandboxworker.ChildCommand {
		os.Exit(sandboxworker.RunChild())
	}

	logger := slog.Default()
	cfg := sandboxworker.ConfigFromEnv()
	runner := sandboxworker.NewRunner(cfg.AgentPath, cfg.EntrypointTimeout, logger)
	server := sandboxworker.NewServer(cfg, runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("Sandbox worker exited with error", "error", err)
		os.Exit(1)
	}
}
