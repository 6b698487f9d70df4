// Package sandbox runs untrusted JavaScript in a fresh goja runtime per
// replay round. Each round gets its own isolate, its own output buffer and
// input cursor; nothing survives the round.
//
// Where the isolate lives is up to the Backend: on a goroutine of this
// process, in a worker process, or in a container (package docker).
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/replaybox/internal/executor"
)

// Executor implements the executor.Executor interface on goja isolates.
type Executor struct {
	config  Config
	logger  *slog.Logger
	slots   *Slots
	backend Backend
}

var _ executor.Executor = (*Executor)(nil)

// New creates a sandbox Executor that runs isolates in this process.
//
// All in-process isolates share one heap, so with a memory limit set the
// rounds run one at a time: heap growth during a round is then that
// round's own. Use NewWithBackend with a ProcessBackend to bound memory
// per round and still run rounds concurrently.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	return NewWithBackend(cfg, localBackend{}, logger)
}

// NewWithBackend creates a sandbox Executor that runs each pass on backend.
// The executor owns the backend and closes it.
func NewWithBackend(cfg Config, backend Backend, logger *slog.Logger) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = localBackend{}
	}

	size := cfg.MaxIsolates
	if _, shared := backend.(localBackend); shared && cfg.MemoryLimit > 0 && size > 1 {
		logger.Warn("memory-limited in-process isolates run one at a time",
			slog.Int("maxIsolates", cfg.MaxIsolates),
		)
		size = 1
	}

	logger.Info("sandbox ready",
		slog.String("backend", backend.Name()),
		slog.Int("isolates", size),
		slog.Duration("timeout", cfg.Timeout),
		slog.Int64("memoryLimitMB", cfg.MemoryLimit/(1024*1024)),
		slog.Int("maxCallStack", cfg.MaxCallStackSize),
	)

	return &Executor{
		config:  cfg,
		logger:  logger,
		slots:   NewSlots(size, cfg.AcquireTimeout, logger),
		backend: backend,
	}, nil
}

// Close stops handing out isolate slots and closes the backend.
func (e *Executor) Close() error {
	e.slots.Close()
	return e.backend.Close()
}

// Stats reports isolate slot usage and the backend in use.
func (e *Executor) Stats() map[string]any {
	stats := e.slots.Stats()
	stats["backend"] = e.backend.Name()
	return stats
}

// Execute runs one replay round: the whole script from the top, answering
// prompts from req.Inputs in order.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if err := executor.Validate(req, e.config.Limits); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := xid.New().String()
	logger := e.logger.With(slog.String("run", runID))

	release, err := e.slots.Acquire(ctx)
	if err != nil {
		logger.Warn("no isolate slot", slog.String("error", err.Error()))
		return exhausted(start, "no isolate available, try again shortly", err), nil
	}
	defer release()

	rep, err := e.backend.Run(ctx, Job{
		Code:   req.Code,
		Inputs: req.Inputs,
		Limits: e.config.round(),
	})
	if err != nil {
		logger.Error("isolate failed", slog.String("error", err.Error()))
		if errors.Is(err, ErrNoIsolate) {
			return exhausted(start, "could not create an isolate", err), nil
		}
		return hostFailure(start, "the isolate failed unexpectedly"), nil
	}
	res := coordinate(rep, len(req.Inputs), time.Since(start))

	attrs := []any{
		slog.String("state", string(res.State)),
		slog.Int("inputsConsumed", res.InputsConsumed),
		slog.Int("lines", len(res.Output)),
		slog.Duration("duration", res.Duration),
	}
	if kind := res.Kind(); kind != "" {
		attrs = append(attrs, slog.String("kind", string(kind)))
	}
	if res.Kind() == executor.KindHostFailure {
		logger.Error("execution failed", attrs...)
	} else {
		logger.Debug("execution finished", attrs...)
	}

	return res, nil
}

func exhausted(start time.Time, msg string, cause error) *executor.ExecutionResult {
	if errors.Is(cause, context.Canceled) {
		return hostFailure(start, "execution cancelled")
	}
	return failedResult(start, executor.KindResourceExhausted, msg)
}

func hostFailure(start time.Time, msg string) *executor.ExecutionResult {
	return failedResult(start, executor.KindHostFailure, msg)
}

func failedResult(start time.Time, kind executor.ErrorKind, msg string) *executor.ExecutionResult {
	elapsed := time.Since(start)
	return &executor.ExecutionResult{
		State:      executor.StateFailed,
		Output:     []string{},
		ErrorKind:  &kind,
		Message:    msg,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
}

