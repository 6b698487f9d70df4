// Package main is the entry point for the replaybox server.
//
// main only reads configuration, builds the logger and the sandbox, and
// starts the server. Everything else lives under internal/.
//
// Run as "replaybox worker" the binary instead executes a single sandbox
// job read from stdin and prints its report; the process and docker
// backends start it that way for every round.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sakif/replaybox/internal/config"
	"github.com/sakif/replaybox/internal/executor/docker"
	"github.com/sakif/replaybox/internal/executor/sandbox"
	"github.com/sakif/replaybox/internal/middleware"
	"github.com/sakif/replaybox/internal/server"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		runWorker()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Logging.Level) // already checked by Load
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// modernc sqlite does not create missing parent directories.
	if dbDir := filepath.Dir(cfg.Server.DBPath); cfg.Server.DBPath != ":memory:" {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		logger.Error("failed to create sandbox backend",
			slog.String("backend", cfg.Sandbox.Backend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	exec, err := sandbox.NewWithBackend(cfg.SandboxLimits(), backend, logger)
	if err != nil {
		backend.Close()
		logger.Error("failed to create sandbox", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srvCfg := server.Config{
		Port:         cfg.Server.Port,
		DBPath:       cfg.Server.DBPath,
		MaxCodeBytes: cfg.Sandbox.MaxCodeBytes,
		WriteTimeout: cfg.WriteTimeout(),
	}
	if cfg.RateLimit.Enabled {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		srvCfg.RateLimit = &rl
	} else {
		logger.Warn("rate limiting is disabled")
	}

	srv, err := server.New(srvCfg, logger, exec)
	if err != nil {
		exec.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM and closes the sandbox and the
	// database on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newBackend builds the backend SANDBOX_BACKEND selects.
func newBackend(cfg *config.Config, logger *slog.Logger) (sandbox.Backend, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendProcess:
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating the server binary: %w", err)
		}
		return sandbox.NewProcessBackend(cfg.ProcessBackend(self), logger)
	case config.BackendDocker:
		return docker.New(cfg.DockerBackend(), logger)
	default:
		return sandbox.NewInProcessBackend(), nil
	}
}

// runWorker serves one job. The report goes to stdout, so nothing else may
// be written there.
func runWorker() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sandbox.ServeWorker(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
