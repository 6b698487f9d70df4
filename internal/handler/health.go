package handler

import (
	"log/slog"
	"net/http"
)

// Pinger is anything whose reachability can be checked, such as the
// database.
type Pinger interface {
	Ping() error
}

// SlotReporter reports isolate slot usage.
type SlotReporter interface {
	Stats() map[string]any
}

// HealthHandler reports liveness plus the state of the dependencies.
type HealthHandler struct {
	db     Pinger
	slots  SlotReporter
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Either dependency may be nil
// when it is not configured.
func NewHealthHandler(db Pinger, slots SlotReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, slots: slots, logger: logger}
}

type healthResponse struct {
	Status   string         `json:"status"`
	Database string         `json:"database"`
	Isolates map[string]any `json:"isolates,omitempty"`
}

// HandleHealth answers 200 when everything is reachable and 503 otherwise.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	switch {
	case h.db == nil:
		resp.Database = "disabled"
	default:
		if err := h.db.Ping(); err != nil {
			h.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
			resp.Database = "unreachable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	if h.slots == nil {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		resp.Isolates = h.slots.Stats()
		if closed, _ := resp.Isolates["closed"].(bool); closed {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
