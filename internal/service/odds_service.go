package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// OddsService records observations and fans out the side effects of a
// promotion: the current-odds cache and the odds.latest event.
type OddsService struct {
	odds   domain.OddsStore
	moves  domain.MovementReader
	cache  domain.OddsCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewOddsService creates an OddsService. cache and bus may be nil.
func NewOddsService(
	odds domain.OddsStore,
	moves domain.MovementReader,
	cache domain.OddsCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OddsService {
	return &OddsService{
		odds:   odds,
		moves:  moves,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "odds_service")),
	}
}

// Record stores one observation. A duplicate is a success; a duplicate whose
// prices differ from the stored row is logged and audited but the stored row
// is kept.
func (s *OddsService) Record(ctx context.Context, obs domain.Observation) (domain.RecordResult, error) {
	res, err := s.odds.Record(ctx, obs)
	if err != nil {
		return res, fmt.Errorf("odds_service: record %s %s/%d: %w", obs.Market, obs.GameID, obs.BookmakerID, err)
	}

	if res.Conflicting {
		s.logger.WarnContext(ctx, "observation correction rejected",
			slog.String("market", string(obs.Market)),
			slog.String("game_id", obs.GameID),
			slog.Int64("bookmaker_id", obs.BookmakerID),
			slog.Time("snapshot_timestamp", obs.SnapshotTime),
			slog.Int64("stored_id", res.ID),
		)
		s.auditLog(ctx, "observation_correction_rejected", map[string]any{
			"market":             string(obs.Market),
			"game_id":            obs.GameID,
			"bookmaker_id":       obs.BookmakerID,
			"snapshot_timestamp": obs.SnapshotTime.UTC().Format(time.RFC3339Nano),
			"stored_id":          res.ID,
			"submitted":          obs.Prices,
		})
	}

	if res.Promoted {
		obs.ID = res.ID
		obs.IsLatest = true
		s.onPromoted(ctx, obs)
	}
	return res, nil
}

func (s *OddsService) onPromoted(ctx context.Context, obs domain.Observation) {
	if s.cache != nil {
		if err := s.cache.SetCurrent(ctx, obs); err != nil {
			s.logger.WarnContext(ctx, "odds cache set failed",
				slog.String("game_id", obs.GameID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":       "odds_latest",
		"observation": obs,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelOddsLatest, payload); err != nil {
		s.logger.WarnContext(ctx, "publish odds.latest failed",
			slog.String("game_id", obs.GameID),
			slog.String("error", err.Error()),
		)
	}
}

// Current returns the latest observation of every bookmaker for a game and
// market. The cache answers only when it holds the complete set; otherwise
// the store answers and refills it.
func (s *OddsService) Current(ctx context.Context, gameID string, market domain.Market) ([]domain.Observation, error) {
	if s.cache != nil {
		obs, complete, err := s.cache.GetCurrent(ctx, gameID, market)
		switch {
		case err != nil:
			s.logger.DebugContext(ctx, "odds cache miss",
				slog.String("game_id", gameID),
				slog.String("error", err.Error()),
			)
		case complete:
			return obs, nil
		}
	}

	obs, err := s.odds.Current(ctx, gameID, market)
	if err != nil {
		return nil, fmt.Errorf("odds_service: current %s %s: %w", market, gameID, err)
	}
	if s.cache != nil {
		if err := s.cache.FillCurrent(ctx, gameID, market, obs); err != nil {
			s.logger.WarnContext(ctx, "odds cache fill failed",
				slog.String("game_id", gameID),
				slog.String("error", err.Error()),
			)
		}
	}
	return obs, nil
}

// Series returns the observations of one market in series order.
func (s *OddsService) Series(ctx context.Context, market domain.Market, f domain.SeriesFilter) ([]domain.Observation, error) {
	obs, err := s.odds.Series(ctx, market, f)
	if err != nil {
		return nil, fmt.Errorf("odds_service: series %s: %w", market, err)
	}
	return obs, nil
}

// Movements returns the movement projection of one market.
func (s *OddsService) Movements(ctx context.Context, market domain.Market, f domain.MovementFilter) ([]domain.Movement, error) {
	ms, err := s.moves.Movements(ctx, market, f)
	if err != nil {
		return nil, fmt.Errorf("odds_service: movements %s: %w", market, err)
	}
	return ms, nil
}

func (s *OddsService) auditLog(ctx context.Context, event string, detail map[string]any) {
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
