package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// ReferenceHandler serves sports and bookmakers.
type ReferenceHandler struct {
	refs   domain.ReferenceStore
	logger *slog.Logger
}

// NewReferenceHandler creates a ReferenceHandler.
func NewReferenceHandler(refs domain.ReferenceStore, logger *slog.Logger) *ReferenceHandler {
	return &ReferenceHandler{refs: refs, logger: logHandler(logger, "reference")}
}

// ListSports returns every known sport.
// GET /api/sports
func (h *ReferenceHandler) ListSports(w http.ResponseWriter, r *http.Request) {
	sports, err := h.refs.ListSports(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list sports", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sports": sports})
}

// ListBookmakers returns every known bookmaker.
// GET /api/bookmakers
func (h *ReferenceHandler) ListBookmakers(w http.ResponseWriter, r *http.Request) {
	books, err := h.refs.ListBookmakers(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list bookmakers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmakers": books})
}
