package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// AuditHandler serves the audit log: rejected corrections, score conflicts
// and retention runs.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// ListAudit returns audit entries newest first. event takes a comma
// separated list.
// GET /api/audit?event=&since=&until=&limit=&offset=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := domain.AuditFilter{ListOpts: opts}
	for _, e := range strings.Split(r.URL.Query().Get("event"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			f.Events = append(f.Events, e)
		}
	}

	entries, err := h.audit.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list audit log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": opts.Limit, "offset": opts.Offset})
}
