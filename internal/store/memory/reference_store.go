package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// ReferenceStore implements domain.ReferenceStore.
type ReferenceStore struct {
	db *DB
}

// NewReferenceStore creates a ReferenceStore over db.
func NewReferenceStore(db *DB) *ReferenceStore {
	return &ReferenceStore{db: db}
}

func (s *ReferenceStore) EnsureSport(_ context.Context, key, title string) (domain.Sport, error) {
	if key == "" {
		return domain.Sport{}, fmt.Errorf("memory: ensure sport: empty key")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for id, sp := range s.db.sports {
		if sp.Key == key {
			if title != "" && sp.Title != title {
				sp.Title = title
				s.db.sports[id] = sp
			}
			return sp, nil
		}
	}
	if title == "" {
		title = key
	}
	sp := domain.Sport{ID: s.db.id(), Key: key, Title: title, CreatedAt: s.db.now()}
	s.db.sports[sp.ID] = sp
	return sp, nil
}

func (s *ReferenceStore) EnsureBookmaker(_ context.Context, key, title string) (domain.Bookmaker, error) {
	if key == "" {
		return domain.Bookmaker{}, fmt.Errorf("memory: ensure bookmaker: empty key")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for id, b := range s.db.bookmakers {
		if b.Key == key {
			if title != "" && b.Title != title {
				b.Title = title
				s.db.bookmakers[id] = b
			}
			return b, nil
		}
	}
	if title == "" {
		title = key
	}
	b := domain.Bookmaker{ID: s.db.id(), Key: key, Title: title, CreatedAt: s.db.now()}
	s.db.bookmakers[b.ID] = b
	return b, nil
}

func (s *ReferenceStore) EnsureTeam(_ context.Context, name string, sportID int64) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, fmt.Errorf("memory: ensure team: empty name")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.sports[sportID]; !ok {
		return domain.Team{}, fmt.Errorf("memory: ensure team %s: sport %d: %w", name, sportID, domain.ErrReferenceMissing)
	}
	for _, t := range s.db.teams {
		if t.Name == name && t.SportID == sportID {
			return t, nil
		}
	}
	t := domain.Team{ID: s.db.id(), Name: name, SportID: sportID, CreatedAt: s.db.now()}
	s.db.teams[t.ID] = t
	return t, nil
}

func (s *ReferenceStore) SportByKey(_ context.Context, key string) (domain.Sport, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, sp := range s.db.sports {
		if sp.Key == key {
			return sp, nil
		}
	}
	return domain.Sport{}, domain.ErrNotFound
}

func (s *ReferenceStore) BookmakerByKey(_ context.Context, key string) (domain.Bookmaker, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, b := range s.db.bookmakers {
		if b.Key == key {
			return b, nil
		}
	}
	return domain.Bookmaker{}, domain.ErrNotFound
}

func (s *ReferenceStore) ListSports(_ context.Context) ([]domain.Sport, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]domain.Sport, 0, len(s.db.sports))
	for _, sp := range s.db.sports {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *ReferenceStore) ListBookmakers(_ context.Context) ([]domain.Bookmaker, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]domain.Bookmaker, 0, len(s.db.bookmakers))
	for _, b := range s.db.bookmakers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *ReferenceStore) ListTeams(_ context.Context, sportID int64) ([]domain.Team, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.Team
	for _, t := range s.db.teams {
		if sportID == 0 || t.SportID == sportID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
