// Package handler contains the HTTP handlers. Handlers parse requests, call
// a service and write the response; they hold no business rules.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/replaybox/internal/executor"
)

// ExecuteHandler runs ad-hoc code through the replay sandbox.
type ExecuteHandler struct {
	exec   executor.Executor
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(exec executor.Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		logger: logger,
	}
}

// HandleExecute runs one replay round.
//
// HTTP: POST /api/execute
// REQUEST BODY: {"code": "print(input('name?'))", "inputs": ["ada"]}
//
// The client resubmits the same code with one more input each time the
// response says requiresInput, and starts again with an empty inputs list
// once it does not.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executor.ExecutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	res, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeExecution(w, res)
}
