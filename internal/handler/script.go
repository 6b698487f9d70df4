package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/replaybox/internal/apperror"
	"github.com/sakif/replaybox/internal/executor"
	"github.com/sakif/replaybox/internal/model"
	"github.com/sakif/replaybox/internal/service"
)

// ScriptService is the part of service.ScriptService the handler uses.
type ScriptService interface {
	Create(ctx context.Context, in service.ScriptInput) (*model.Script, error)
	GetByID(ctx context.Context, id string) (*model.Script, error)
	List(ctx context.Context, limit, offset int) (*service.ScriptPage, error)
	Update(ctx context.Context, id string, in service.ScriptInput) (*model.Script, error)
	Delete(ctx context.Context, id string) error
}

// ScriptRunner runs a replay round of a saved script.
type ScriptRunner interface {
	RunScript(ctx context.Context, id string, inputs []any) (*executor.ExecutionResult, error)
}

// ScriptHandler manages saved scripts and runs them.
type ScriptHandler struct {
	scripts ScriptService
	runner  ScriptRunner
	logger  *slog.Logger
}

// NewScriptHandler creates a new ScriptHandler.
func NewScriptHandler(scripts ScriptService, runner ScriptRunner, logger *slog.Logger) *ScriptHandler {
	return &ScriptHandler{
		scripts: scripts,
		runner:  runner,
		logger:  logger,
	}
}

type scriptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

func (r scriptRequest) input() service.ScriptInput {
	return service.ScriptInput{Name: r.Name, Description: r.Description, Code: r.Code}
}

type runRequest struct {
	Inputs []any `json:"inputs"`
}

// HandleList returns one page of saved scripts.
//
// HTTP: GET /api/scripts?limit=20&offset=0
func (h *ScriptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.scripts.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleGetByID returns a single script.
//
// HTTP: GET /api/scripts/{id}
func (h *ScriptHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	script, err := h.scripts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

// HandleCreate saves a new script.
//
// HTTP: POST /api/scripts
// REQUEST BODY: {"name": "greeter", "description": "", "code": "print(input('name?'))"}
func (h *ScriptHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	script, err := h.scripts.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/scripts/"+script.ID)
	writeJSON(w, http.StatusCreated, script)
}

// HandleUpdate replaces a script's name, description and code.
//
// HTTP: PUT /api/scripts/{id}
func (h *ScriptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	script, err := h.scripts.Update(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

// HandleDelete removes a script.
//
// HTTP: DELETE /api/scripts/{id}
func (h *ScriptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.scripts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRun runs one replay round of a saved script. Only the inputs travel
// with the request; the code is read from storage on every round.
//
// HTTP: POST /api/scripts/{id}/run
// REQUEST BODY: {"inputs": ["ada"]} (an empty body means no inputs)
func (h *ScriptHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	res, err := h.runner.RunScript(r.Context(), chi.URLParam(r, "id"), req.Inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeExecution(w, res)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
