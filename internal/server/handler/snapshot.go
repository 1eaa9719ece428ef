package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// SnapshotHandler lists historical fetch bookkeeping.
type SnapshotHandler struct {
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(snapshots domain.SnapshotStore, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, logger: logHandler(logger, "snapshot")}
}

// ListSnapshots returns api snapshots newest first, without raw responses.
// GET /api/snapshots?sport=&limit=
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := h.snapshots.List(r.Context(), r.URL.Query().Get("sport"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list snapshots", err)
		return
	}
	for i := range snaps {
		snaps[i].RawResponse = nil
	}
	if snaps == nil {
		snaps = []domain.ApiSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}
