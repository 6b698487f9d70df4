package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/replaybox/internal/apperror"
	"github.com/sakif/replaybox/internal/executor"
	"github.com/sakif/replaybox/internal/metrics"
	"github.com/sakif/replaybox/internal/model"
)

// ScriptSource supplies the code of a saved script.
type ScriptSource interface {
	GetByID(ctx context.Context, id string) (*model.Script, error)
}

// ExecutionService runs replay rounds and records their outcome. It is
// itself an executor.Executor, so handlers cannot tell it from the
// sandbox underneath.
type ExecutionService struct {
	exec    executor.Executor
	scripts ScriptSource
	logger  *slog.Logger
}

var _ executor.Executor = (*ExecutionService)(nil)

// NewExecutionService wraps exec. scripts may be nil when saved scripts are
// not available; RunScript then reports every id as missing.
func NewExecutionService(exec executor.Executor, scripts ScriptSource, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		exec:    exec,
		scripts: scripts,
		logger:  logger,
	}
}

// Execute runs one round of ad-hoc code.
func (s *ExecutionService) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if s.exec == nil {
		return nil, apperror.Unavailable("script execution is not available")
	}

	res, err := s.exec.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			metrics.ObserveRejected("validation")
		} else {
			s.logger.Error("execution error", slog.String("error", err.Error()))
		}
		return nil, err
	}

	metrics.ObserveExecution(res)
	if res.State == executor.StateFailed {
		s.logger.Warn("execution failed",
			slog.String("kind", string(res.Kind())),
			slog.String("message", res.Message),
			slog.Int64("durationMs", res.DurationMs),
		)
	}
	return res, nil
}

// RunScript runs one round of a saved script. The code is read afresh on
// every round; the client only resends its inputs.
func (s *ExecutionService) RunScript(ctx context.Context, id string, inputs []any) (*executor.ExecutionResult, error) {
	if s.scripts == nil {
		return nil, apperror.NotFound("script", id)
	}

	script, err := s.scripts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.Execute(ctx, executor.ExecutionRequest{Code: script.Code, Inputs: inputs})
}
