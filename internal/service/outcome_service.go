package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/grading"
)

// OutcomeService grades the closing odds of completed games.
type OutcomeService struct {
	games    domain.GameStore
	odds     domain.OddsStore
	outcomes domain.OutcomeStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(games domain.GameStore, odds domain.OddsStore, outcomes domain.OutcomeStore, logger *slog.Logger) *OutcomeService {
	return &OutcomeService{
		games:    games,
		odds:     odds,
		outcomes: outcomes,
		logger:   logger.With(slog.String("component", "outcome_service")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GradeGame grades the latest observation of every bookmaker and market of a
// completed game and returns the number of outcomes written. Regrading
// replaces earlier results.
func (s *OutcomeService) GradeGame(ctx context.Context, gameID string) (int, error) {
	g, err := s.games.Get(ctx, gameID)
	if err != nil {
		return 0, fmt.Errorf("outcome_service: get game %s: %w", gameID, err)
	}
	if g.Status != domain.StatusCompleted || g.HomeScore == nil || g.AwayScore == nil {
		return 0, fmt.Errorf("outcome_service: game %s is %s: %w", gameID, g.Status, domain.ErrInvalidTransition)
	}

	gradedAt := s.now()
	var outcomes []domain.BetOutcome
	for _, m := range domain.Markets {
		closing, err := s.odds.Current(ctx, gameID, m)
		if err != nil {
			return 0, fmt.Errorf("outcome_service: closing %s odds for %s: %w", m, gameID, err)
		}
		for _, obs := range closing {
			outcomes = append(outcomes, grading.Grade(obs, *g.HomeScore, *g.AwayScore, gradedAt)...)
		}
	}
	if len(outcomes) == 0 {
		return 0, nil
	}
	if err := s.outcomes.Upsert(ctx, outcomes); err != nil {
		return 0, fmt.Errorf("outcome_service: upsert outcomes for %s: %w", gameID, err)
	}
	return len(outcomes), nil
}

// GradeCompleted grades every completed game of sportKey (all sports when
// empty) that commenced at or after since. Failures are logged and joined.
func (s *OutcomeService) GradeCompleted(ctx context.Context, sportKey string, since *time.Time) (int, error) {
	games, err := s.games.List(ctx, domain.GameFilter{
		SportKey: sportKey,
		Status:   domain.StatusCompleted,
		ListOpts: domain.ListOpts{Since: since},
	})
	if err != nil {
		return 0, fmt.Errorf("outcome_service: list completed games: %w", err)
	}

	var (
		total int
		errs  []error
	)
	for _, g := range games {
		n, err := s.GradeGame(ctx, g.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "grade game failed",
				slog.String("game_id", g.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		total += n
	}
	s.logger.InfoContext(ctx, "graded completed games",
		slog.Int("games", len(games)),
		slog.Int("outcomes", total),
		slog.Int("failed", len(errs)),
	)
	return total, errors.Join(errs...)
}

// ListByGame returns the graded outcomes of a game.
func (s *OutcomeService) ListByGame(ctx context.Context, gameID string) ([]domain.BetOutcome, error) {
	out, err := s.outcomes.ListByGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("outcome_service: list outcomes for %s: %w", gameID, err)
	}
	return out, nil
}
