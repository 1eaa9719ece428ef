package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/movement"
)

// OddsStore implements domain.OddsStore and domain.MovementReader.
type OddsStore struct {
	db *DB
}

// NewOddsStore creates an OddsStore over db.
func NewOddsStore(db *DB) *OddsStore {
	return &OddsStore{db: db}
}

// Record inserts obs unless its natural key already exists, and moves the
// latest flag of its (game, bookmaker) partition when obs is strictly newer
// than the current latest row. The whole operation runs under the write lock.
func (s *OddsStore) Record(_ context.Context, obs domain.Observation) (domain.RecordResult, error) {
	if err := obs.Validate(); err != nil {
		return domain.RecordResult{}, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.games[obs.GameID]; !ok {
		return domain.RecordResult{}, fmt.Errorf("memory: record %s game %s: %w", obs.Market, obs.GameID, domain.ErrReferenceMissing)
	}
	if _, ok := s.db.bookmakers[obs.BookmakerID]; !ok {
		return domain.RecordResult{}, fmt.Errorf("memory: record %s bookmaker %d: %w", obs.Market, obs.BookmakerID, domain.ErrReferenceMissing)
	}

	rows := s.db.odds[obs.Market]
	latest := -1
	for i, r := range rows {
		if r.GameID != obs.GameID || r.BookmakerID != obs.BookmakerID {
			continue
		}
		if r.SnapshotTime.Equal(obs.SnapshotTime) {
			return domain.RecordResult{
				ID:          r.ID,
				Duplicate:   true,
				Conflicting: !r.Prices.Equal(obs.Market, obs.Prices),
			}, nil
		}
		if r.IsLatest {
			latest = i
		}
	}

	obs.ID = s.db.id()
	obs.SnapshotTime = obs.SnapshotTime.UTC()
	obs.RecordedAt = s.db.now()
	obs.RawOutcomes = cloneRaw(obs.RawOutcomes)
	obs.IsLatest = false

	res := domain.RecordResult{ID: obs.ID, Inserted: true}
	if latest < 0 || obs.SnapshotTime.After(rows[latest].SnapshotTime) {
		if latest >= 0 {
			rows[latest].IsLatest = false
		}
		obs.IsLatest = true
		res.Promoted = true
	}
	s.db.odds[obs.Market] = append(rows, obs)
	return res, nil
}

func (s *OddsStore) Current(_ context.Context, gameID string, market domain.Market) ([]domain.Observation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.Observation
	for _, r := range s.db.odds[market] {
		if r.GameID == gameID && r.IsLatest {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookmakerID < out[j].BookmakerID })
	return out, nil
}

func (s *OddsStore) Latest(_ context.Context, market domain.Market, gameID string, bookmakerID int64) (domain.Observation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	for _, r := range s.db.odds[market] {
		if r.GameID == gameID && r.BookmakerID == bookmakerID && r.IsLatest {
			return r, nil
		}
	}
	return domain.Observation{}, domain.ErrNotFound
}

func (s *OddsStore) Series(_ context.Context, market domain.Market, f domain.SeriesFilter) ([]domain.Observation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.Observation
	for _, r := range s.db.odds[market] {
		if f.GameID != "" && r.GameID != f.GameID {
			continue
		}
		if f.BookmakerID != 0 && r.BookmakerID != f.BookmakerID {
			continue
		}
		if f.Since != nil && r.SnapshotTime.Before(*f.Since) {
			continue
		}
		if f.Until != nil && r.SnapshotTime.After(*f.Until) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.GameID != b.GameID {
			return a.GameID < b.GameID
		}
		if a.BookmakerID != b.BookmakerID {
			return a.BookmakerID < b.BookmakerID
		}
		if !a.SnapshotTime.Equal(b.SnapshotTime) {
			return a.SnapshotTime.Before(b.SnapshotTime)
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *OddsStore) Count(_ context.Context, market domain.Market) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return int64(len(s.db.odds[market])), nil
}

// Movements computes the projection over full partitions, then filters.
func (s *OddsStore) Movements(ctx context.Context, market domain.Market, f domain.MovementFilter) ([]domain.Movement, error) {
	if !market.Valid() {
		return nil, fmt.Errorf("memory: movements: unknown market %q", market)
	}
	series, err := s.Series(ctx, market, domain.SeriesFilter{GameID: f.GameID, BookmakerID: f.BookmakerID})
	if err != nil {
		return nil, err
	}
	return movement.Filter(movement.Compute(series), f), nil
}
