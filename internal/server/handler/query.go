package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

const maxQueryBody = 64 * 1024

// QueryHandler runs read-only analytics SQL.
type QueryHandler struct {
	runner  domain.QueryRunner
	maxRows int
	logger  *slog.Logger
}

// NewQueryHandler creates a QueryHandler. A nil runner answers 501.
func NewQueryHandler(runner domain.QueryRunner, maxRows int, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{runner: runner, maxRows: maxRows, logger: logHandler(logger, "query")}
}

type queryRequest struct {
	SQL string `json:"sql"`
}

// RunQuery executes one SELECT in a read-only transaction.
// POST /api/query {"sql": "SELECT ..."}
func (h *QueryHandler) RunQuery(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusNotImplemented, "queries need the postgres storage driver")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, http.StatusBadRequest, "sql must not be empty")
		return
	}

	res, err := h.runner.Query(r.Context(), req.SQL, h.maxRows)
	if err != nil {
		h.logger.WarnContext(r.Context(), "query rejected or failed", slog.String("error", err.Error()))
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// Syntax and planner errors from the database belong to the caller.
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
