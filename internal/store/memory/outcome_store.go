package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore.
type OutcomeStore struct {
	db *DB
}

// NewOutcomeStore creates an OutcomeStore over db.
func NewOutcomeStore(db *DB) *OutcomeStore {
	return &OutcomeStore{db: db}
}

// Upsert writes outcomes keyed by (game, bookmaker, market, selection),
// replacing earlier grades of the same key.
func (s *OutcomeStore) Upsert(_ context.Context, outcomes []domain.BetOutcome) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, o := range outcomes {
		replaced := false
		for i, existing := range s.db.outcomes {
			if existing.GameID == o.GameID && existing.BookmakerID == o.BookmakerID &&
				existing.Market == o.Market && existing.Selection == o.Selection {
				o.ID = existing.ID
				s.db.outcomes[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			o.ID = s.db.id()
			s.db.outcomes = append(s.db.outcomes, o)
		}
	}
	return nil
}

func (s *OutcomeStore) ListByGame(_ context.Context, gameID string) ([]domain.BetOutcome, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.BetOutcome
	for _, o := range s.db.outcomes {
		if o.GameID == gameID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookmakerID != out[j].BookmakerID {
			return out[i].BookmakerID < out[j].BookmakerID
		}
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].Selection < out[j].Selection
	})
	return out, nil
}
