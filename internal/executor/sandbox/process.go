package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ProcessConfig configures the worker-process backend.
type ProcessConfig struct {
	// Command starts a worker, e.g. {"/usr/local/bin/replaybox", "worker"}.
	Command []string
	// Env is appended to the server's environment for the worker.
	Env []string
	// Grace is added to the round timeout before the worker is killed. The
	// worker stops itself at the timeout; the kill is the backstop.
	Grace time.Duration
}

// ProcessBackend runs every pass in its own worker process. The worker's
// heap holds exactly one isolate, so the memory watchdog inside it bounds
// that round alone, and rounds run concurrently up to the slot count.
type ProcessBackend struct {
	config ProcessConfig
	logger *slog.Logger
}

var _ Backend = (*ProcessBackend)(nil)

// NewProcessBackend checks that the worker command can be found.
func NewProcessBackend(cfg ProcessConfig, logger *slog.Logger) (*ProcessBackend, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("sandbox: worker command is empty")
	}
	path, err := exec.LookPath(cfg.Command[0])
	if err != nil {
		return nil, fmt.Errorf("sandbox: worker command: %w", err)
	}
	cfg.Command = append([]string{path}, cfg.Command[1:]...)
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	return &ProcessBackend{config: cfg, logger: logger}, nil
}

func (b *ProcessBackend) Name() string { return "process" }

func (b *ProcessBackend) Close() error { return nil }

// Run starts a worker, feeds it the job on stdin and reads its report from
// stdout.
func (b *ProcessBackend) Run(ctx context.Context, job Job) (Report, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return Report{}, fmt.Errorf("sandbox: encoding job: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, job.Limits.Timeout+b.config.Grace)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.config.Command[0], b.config.Command[1:]...)
	cmd.Env = append(os.Environ(), b.config.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Report{}, fmt.Errorf("%w: starting worker: %v", ErrNoIsolate, err)
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return Stopped(ctx), nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		b.logger.Warn("worker killed after its grace period", slog.Int("pid", cmd.Process.Pid))
		return TimedOut(job.Limits), nil
	case waitErr != nil:
		return Report{}, fmt.Errorf("sandbox: worker failed: %w: %s", waitErr, firstLine(stderr.String()))
	}

	return DecodeReport(stdout.Bytes())
}
