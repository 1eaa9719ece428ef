package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
)

// GameService wraps the game registry with the audit, notification and
// event side effects of completing a game.
type GameService struct {
	games    domain.GameStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger

	// Conflict keys already reported, loaded from the audit log on first use.
	mu       sync.Mutex
	reported map[string]bool
}

// NewGameService creates a GameService. bus and notifier may be nil.
func NewGameService(
	games domain.GameStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		games:    games,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "game_service")),
	}
}

// Upsert creates or refreshes a game.
func (s *GameService) Upsert(ctx context.Context, g domain.GameUpsert) (domain.Game, error) {
	game, err := s.games.UpsertGame(ctx, g)
	if err != nil {
		return domain.Game{}, fmt.Errorf("game_service: upsert %s: %w", g.ID, err)
	}
	return game, nil
}

// Complete records a final score. Completing twice with the same score is a
// no-op and publishes nothing; a different score returns
// domain.ErrStateConflict after reporting it, and the stored score is left
// untouched.
func (s *GameService) Complete(ctx context.Context, id string, home, away int, at time.Time) (domain.Game, error) {
	before, err := s.games.Get(ctx, id)
	if err != nil {
		return domain.Game{}, fmt.Errorf("game_service: complete %s: %w", id, err)
	}
	if before.Status == domain.StatusCompleted && before.SameScore(home, away) {
		return before.Game, nil
	}

	game, err := s.games.CompleteGame(ctx, id, home, away, at)
	if errors.Is(err, domain.ErrStateConflict) {
		if cur, getErr := s.games.Get(ctx, id); getErr == nil {
			before = cur
		}
		s.ReportConflict(ctx, before.Game, home, away)
		return domain.Game{}, fmt.Errorf("game_service: complete %s: %w", id, err)
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("game_service: complete %s: %w", id, err)
	}

	s.publish(ctx, domain.ChannelGameCompleted, map[string]any{
		"event":      "game_completed",
		"game_id":    id,
		"home_score": home,
		"away_score": away,
	})
	return game, nil
}

// ReportConflict audits, publishes and notifies a final score that
// disagrees with the one stored for g. A conflict between the same stored
// and reported scores is reported once; repeats are only logged at debug.
func (s *GameService) ReportConflict(ctx context.Context, g domain.Game, home, away int) {
	key := conflictKey(g, home, away)
	if !s.markReported(ctx, key) {
		s.logger.DebugContext(ctx, "game state conflict already reported",
			slog.String("game_id", g.ID),
			slog.String("conflict_key", key),
		)
		return
	}

	s.logger.WarnContext(ctx, "game state conflict",
		slog.String("game_id", g.ID),
		slog.Any("stored_home_score", derefInt(g.HomeScore)),
		slog.Any("stored_away_score", derefInt(g.AwayScore)),
		slog.Int("home_score", home),
		slog.Int("away_score", away),
	)
	detail := map[string]any{
		"game_id":           g.ID,
		"stored_home_score": derefInt(g.HomeScore),
		"stored_away_score": derefInt(g.AwayScore),
		"home_score":        home,
		"away_score":        away,
		"conflict_key":      key,
	}
	s.auditLog(ctx, auditGameConflict, detail)
	s.publish(ctx, domain.ChannelGameConflict, map[string]any{
		"event":      "game_conflict",
		"game_id":    g.ID,
		"home_score": home,
		"away_score": away,
	})
	if err := s.notifier.Notify(ctx, notify.Event{
		Type:   notify.EventStateConflict,
		Title:  "Final score conflict",
		Fields: detail,
	}); err != nil {
		s.logger.WarnContext(ctx, "notify state conflict failed", slog.String("error", err.Error()))
	}
}

// CorrectScore overwrites the score of a completed game. This is the only
// path that changes a recorded final score.
func (s *GameService) CorrectScore(ctx context.Context, id string, home, away int) (domain.Game, error) {
	before, err := s.games.Get(ctx, id)
	if err != nil {
		return domain.Game{}, fmt.Errorf("game_service: correct score %s: %w", id, err)
	}
	game, err := s.games.CorrectScore(ctx, id, home, away)
	if err != nil {
		return domain.Game{}, fmt.Errorf("game_service: correct score %s: %w", id, err)
	}
	s.auditLog(ctx, "score_corrected", map[string]any{
		"game_id":        id,
		"old_home_score": derefInt(before.HomeScore),
		"old_away_score": derefInt(before.AwayScore),
		"home_score":     home,
		"away_score":     away,
	})
	s.publish(ctx, domain.ChannelGameCompleted, map[string]any{
		"event":      "game_completed",
		"game_id":    id,
		"home_score": home,
		"away_score": away,
		"corrected":  true,
	})
	return game, nil
}

// Get returns one game with team names.
func (s *GameService) Get(ctx context.Context, id string) (domain.GameView, error) {
	g, err := s.games.Get(ctx, id)
	if err != nil {
		return domain.GameView{}, fmt.Errorf("game_service: get %s: %w", id, err)
	}
	return g, nil
}

// List returns games matching f.
func (s *GameService) List(ctx context.Context, f domain.GameFilter) ([]domain.GameView, error) {
	gs, err := s.games.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("game_service: list: %w", err)
	}
	return gs, nil
}

const auditGameConflict = "game_state_conflict"

func conflictKey(g domain.Game, home, away int) string {
	return fmt.Sprintf("%s|%v-%v|%d-%d", g.ID, derefInt(g.HomeScore), derefInt(g.AwayScore), home, away)
}

// markReported records key and reports whether it was new.
func (s *GameService) markReported(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported == nil {
		s.reported = s.loadReported(ctx)
	}
	if s.reported[key] {
		return false
	}
	s.reported[key] = true
	return true
}

func (s *GameService) loadReported(ctx context.Context) map[string]bool {
	const pageSize = 500
	out := map[string]bool{}
	if s.audit == nil {
		return out
	}
	for offset := 0; ; offset += pageSize {
		entries, err := s.audit.List(ctx, domain.AuditFilter{
			Events:   []string{auditGameConflict},
			ListOpts: domain.ListOpts{Limit: pageSize, Offset: offset},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "load reported conflicts failed", slog.String("error", err.Error()))
			return out
		}
		for _, e := range entries {
			if k, ok := e.Detail["conflict_key"].(string); ok {
				out[k] = true
			}
		}
		if len(entries) < pageSize {
			return out
		}
	}
}

func (s *GameService) publish(ctx context.Context, channel string, msg map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GameService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func derefInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
