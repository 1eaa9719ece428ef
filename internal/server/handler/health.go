package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logHandler(logger, "health")}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// StatusHandler reports table counts and dependency health.
type StatusHandler struct {
	mode      string
	storage   string
	startedAt time.Time
	counts    domain.StatusReporter
	deps      map[string]Pinger
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. deps maps a dependency name to
// its health check and may be empty.
func NewStatusHandler(mode, storage string, counts domain.StatusReporter, deps map[string]Pinger, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		storage:   storage,
		startedAt: time.Now().UTC(),
		counts:    counts,
		deps:      deps,
		logger:    logHandler(logger, "status"),
	}
}

type statusResponse struct {
	Mode          string              `json:"mode"`
	Storage       string              `json:"storage"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Database      string              `json:"database"`
	Tables        []domain.TableCount `json:"tables,omitempty"`
	Dependencies  map[string]string   `json:"dependencies,omitempty"`
}

// GetStatus responds with row counts of the main tables and the health of
// optional dependencies. A failing database yields 503.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		Storage:       h.storage,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Database:      "ok",
		Dependencies:  make(map[string]string, len(h.deps)),
	}

	tables, err := h.counts.TableCounts(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "table counts failed", slog.String("error", err.Error()))
		resp.Database = "error: " + err.Error()
	}
	resp.Tables = tables

	for name, p := range h.deps {
		if err := p.Ping(r.Context()); err != nil {
			resp.Dependencies[name] = "error: " + err.Error()
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
