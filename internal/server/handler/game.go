package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// GameService defines the methods the game handler requires from the service
// layer.
type GameService interface {
	Get(ctx context.Context, id string) (domain.GameView, error)
	List(ctx context.Context, f domain.GameFilter) ([]domain.GameView, error)
}

// OutcomeService lists graded outcomes.
type OutcomeService interface {
	ListByGame(ctx context.Context, gameID string) ([]domain.BetOutcome, error)
}

// GameHandler serves game and outcome endpoints.
type GameHandler struct {
	games    GameService
	outcomes OutcomeService
	logger   *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(games GameService, outcomes OutcomeService, logger *slog.Logger) *GameHandler {
	return &GameHandler{games: games, outcomes: outcomes, logger: logHandler(logger, "game")}
}

type listGamesResponse struct {
	Games  []domain.GameView `json:"games"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ListGames returns games ordered by commence time.
// GET /api/games?status=&sport=&since=&until=&limit=&offset=
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := domain.GameStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	games, err := h.games.List(r.Context(), domain.GameFilter{
		SportKey: r.URL.Query().Get("sport"),
		Status:   status,
		ListOpts: opts,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list games", err)
		return
	}
	if games == nil {
		games = []domain.GameView{}
	}
	writeJSON(w, http.StatusOK, listGamesResponse{Games: games, Limit: opts.Limit, Offset: opts.Offset})
}

// GetGame returns a single game.
// GET /api/games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	g, err := h.games.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get game", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ListOutcomes returns the graded outcomes of a game.
// GET /api/games/{id}/outcomes
func (h *GameHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.games.Get(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "failed to get game", err)
		return
	}
	out, err := h.outcomes.ListByGame(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list outcomes", err)
		return
	}
	if out == nil {
		out = []domain.BetOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": id, "outcomes": out})
}
