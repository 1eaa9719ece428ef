package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// OddsService defines the read methods the odds handlers need.
type OddsService interface {
	Current(ctx context.Context, gameID string, market domain.Market) ([]domain.Observation, error)
	Movements(ctx context.Context, market domain.Market, f domain.MovementFilter) ([]domain.Movement, error)
}

// OddsHandler serves current odds and the movement projection.
type OddsHandler struct {
	games  GameService
	odds   OddsService
	logger *slog.Logger
}

// NewOddsHandler creates an OddsHandler.
func NewOddsHandler(games GameService, odds OddsService, logger *slog.Logger) *OddsHandler {
	return &OddsHandler{games: games, odds: odds, logger: logHandler(logger, "odds")}
}

// CurrentOdds returns the latest observation per bookmaker for a game. With
// no market parameter every market is returned.
// GET /api/games/{id}/odds?market=
func (h *OddsHandler) CurrentOdds(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	markets := domain.Markets
	if v := r.URL.Query().Get("market"); v != "" {
		m, err := parseMarket(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		markets = []domain.Market{m}
	}

	if _, err := h.games.Get(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "failed to get game", err)
		return
	}

	out := make(map[domain.Market][]domain.Observation, len(markets))
	for _, m := range markets {
		obs, err := h.odds.Current(r.Context(), id, m)
		if err != nil {
			writeServiceError(w, r, h.logger, "failed to get current odds", err)
			return
		}
		if obs == nil {
			obs = []domain.Observation{}
		}
		out[m] = obs
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": id, "odds": out})
}

// ListMovements returns observations of one market with their deltas.
// GET /api/movements/{market}?game=&bookmaker=&since=&until=&limit=
func (h *OddsHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	m, err := parseMarket(pathParam(r, "market"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := domain.MovementFilter{
		GameID: r.URL.Query().Get("game"),
		Since:  opts.Since,
		Until:  opts.Until,
		Limit:  opts.Limit,
	}
	if v := r.URL.Query().Get("bookmaker"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "bookmaker must be a positive id")
			return
		}
		f.BookmakerID = id
	}

	ms, err := h.odds.Movements(r.Context(), m, f)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list movements", err)
		return
	}
	if ms == nil {
		ms = []domain.Movement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m, "movements": ms})
}
