package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// ArbitrageScanner scans the current odds of a game for arbitrage.
type ArbitrageScanner interface {
	Scan(ctx context.Context, gameID string) ([]domain.ArbOpportunity, error)
}

// ArbitrageHandler serves on-demand arbitrage scans.
type ArbitrageHandler struct {
	games   GameService
	scanner ArbitrageScanner
	logger  *slog.Logger
}

// NewArbitrageHandler creates an ArbitrageHandler.
func NewArbitrageHandler(games GameService, scanner ArbitrageScanner, logger *slog.Logger) *ArbitrageHandler {
	return &ArbitrageHandler{games: games, scanner: scanner, logger: logHandler(logger, "arbitrage")}
}

// GameArbitrage returns the arbitrage currently available on a game.
// GET /api/games/{id}/arbitrage
func (h *ArbitrageHandler) GameArbitrage(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.games.Get(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "failed to get game", err)
		return
	}
	opps, err := h.scanner.Scan(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to scan arbitrage", err)
		return
	}
	if opps == nil {
		opps = []domain.ArbOpportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": id, "opportunities": opps})
}
