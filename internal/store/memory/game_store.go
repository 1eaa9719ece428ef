package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// GameStore implements domain.GameStore.
type GameStore struct {
	db *DB
}

// NewGameStore creates a GameStore over db.
func NewGameStore(db *DB) *GameStore {
	return &GameStore{db: db}
}

func (s *GameStore) UpsertGame(_ context.Context, in domain.GameUpsert) (domain.Game, error) {
	if in.ID == "" {
		return domain.Game{}, fmt.Errorf("memory: upsert game: empty id")
	}
	if in.Status == domain.StatusCompleted {
		return domain.Game{}, fmt.Errorf("memory: upsert game %s: %w: completion requires CompleteGame", in.ID, domain.ErrInvalidTransition)
	}
	if in.Status != "" && !in.Status.Valid() {
		return domain.Game{}, fmt.Errorf("memory: upsert game %s: %w: unknown status %q", in.ID, domain.ErrInvalidTransition, in.Status)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	now := s.db.now()
	g, ok := s.db.games[in.ID]
	if !ok {
		if _, ok := s.db.sports[in.SportID]; !ok {
			return domain.Game{}, fmt.Errorf("memory: upsert game %s: sport %d: %w", in.ID, in.SportID, domain.ErrReferenceMissing)
		}
		for _, tid := range []int64{in.HomeTeamID, in.AwayTeamID} {
			if _, ok := s.db.teams[tid]; !ok {
				return domain.Game{}, fmt.Errorf("memory: upsert game %s: team %d: %w", in.ID, tid, domain.ErrReferenceMissing)
			}
		}
		status := in.Status
		if status == "" {
			status = domain.StatusScheduled
		}
		g = domain.Game{
			ID:           in.ID,
			SportID:      in.SportID,
			CommenceTime: in.CommenceTime.UTC(),
			HomeTeamID:   in.HomeTeamID,
			AwayTeamID:   in.AwayTeamID,
			HomeScore:    in.HomeScore,
			AwayScore:    in.AwayScore,
			Status:       status,
			RawPayload:   cloneRaw(in.RawPayload),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.db.games[g.ID] = g
		return g, nil
	}

	g.CommenceTime = in.CommenceTime.UTC()
	if in.RawPayload != nil {
		g.RawPayload = cloneRaw(in.RawPayload)
	}
	if g.Status != domain.StatusCompleted {
		if in.Status != "" && g.Status.CanTransition(in.Status) {
			g.Status = in.Status
		}
		if in.HomeScore != nil {
			g.HomeScore = in.HomeScore
		}
		if in.AwayScore != nil {
			g.AwayScore = in.AwayScore
		}
	}
	g.UpdatedAt = now
	s.db.games[g.ID] = g
	return g, nil
}

func (s *GameStore) CompleteGame(_ context.Context, id string, home, away int, completedAt time.Time) (domain.Game, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	g, ok := s.db.games[id]
	if !ok {
		return domain.Game{}, domain.ErrNotFound
	}
	if g.Status == domain.StatusCompleted {
		if g.SameScore(home, away) {
			return g, nil
		}
		return g, conflictError(g, home, away)
	}

	h, a := home, away
	ts := completedAt.UTC()
	g.HomeScore, g.AwayScore = &h, &a
	g.Status = domain.StatusCompleted
	g.CompletedAt = &ts
	g.UpdatedAt = s.db.now()
	s.db.games[id] = g
	return g, nil
}

func (s *GameStore) CorrectScore(_ context.Context, id string, home, away int) (domain.Game, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	g, ok := s.db.games[id]
	if !ok {
		return domain.Game{}, domain.ErrNotFound
	}
	if g.Status != domain.StatusCompleted {
		return domain.Game{}, fmt.Errorf("memory: correct score %s: %w: game is %s", id, domain.ErrInvalidTransition, g.Status)
	}
	h, a := home, away
	g.HomeScore, g.AwayScore = &h, &a
	g.UpdatedAt = s.db.now()
	s.db.games[id] = g
	return g, nil
}

func (s *GameStore) Get(_ context.Context, id string) (domain.GameView, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	g, ok := s.db.games[id]
	if !ok {
		return domain.GameView{}, domain.ErrNotFound
	}
	return s.view(g), nil
}

func (s *GameStore) List(_ context.Context, f domain.GameFilter) ([]domain.GameView, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.GameView
	for _, g := range s.db.games {
		v := s.view(g)
		if f.SportKey != "" && v.SportKey != f.SportKey {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		if f.Since != nil && g.CommenceTime.Before(*f.Since) {
			continue
		}
		if f.Until != nil && g.CommenceTime.After(*f.Until) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommenceTime.Equal(out[j].CommenceTime) {
			return out[i].CommenceTime.Before(out[j].CommenceTime)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.ListOpts), nil
}

func (s *GameStore) Count(_ context.Context) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return int64(len(s.db.games)), nil
}

// view joins names onto g. Callers hold db.mu.
func (s *GameStore) view(g domain.Game) domain.GameView {
	g.RawPayload = cloneRaw(g.RawPayload)
	return domain.GameView{
		Game:         g,
		SportKey:     s.db.sports[g.SportID].Key,
		HomeTeamName: s.db.teams[g.HomeTeamID].Name,
		AwayTeamName: s.db.teams[g.AwayTeamID].Name,
	}
}

func conflictError(g domain.Game, home, away int) error {
	return fmt.Errorf("%w: game %s already completed %d-%d, got %d-%d",
		domain.ErrStateConflict, g.ID, deref(g.HomeScore), deref(g.AwayScore), home, away)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
