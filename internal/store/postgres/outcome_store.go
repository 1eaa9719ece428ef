package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Upsert writes graded outcomes in one batch. Regrading a selection replaces
// its previous result.
func (s *OutcomeStore) Upsert(ctx context.Context, outcomes []domain.BetOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	const query = `
		INSERT INTO bet_outcomes (
			game_id, bookmaker_id, market, selection, line, price,
			result, observation_id, graded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (game_id, bookmaker_id, market, selection) DO UPDATE SET
			line           = EXCLUDED.line,
			price          = EXCLUDED.price,
			result         = EXCLUDED.result,
			observation_id = EXCLUDED.observation_id,
			graded_at      = EXCLUDED.graded_at`

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(query,
			o.GameID, o.BookmakerID, string(o.Market), o.Selection, o.Line, o.Price,
			string(o.Result), o.ObservationID, o.GradedAt.UTC(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range outcomes {
		if _, err := br.Exec(); err != nil {
			return mapErr(err, "upsert bet outcome")
		}
	}
	return nil
}

// ListByGame returns the graded outcomes of one game.
func (s *OutcomeStore) ListByGame(ctx context.Context, gameID string) ([]domain.BetOutcome, error) {
	const query = `
		SELECT outcome_id, game_id, bookmaker_id, market, selection, line, price,
			result, observation_id, graded_at
		FROM bet_outcomes
		WHERE game_id = $1
		ORDER BY bookmaker_id, market, selection`

	rows, err := s.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []domain.BetOutcome
	for rows.Next() {
		var o domain.BetOutcome
		var market, result string
		if err := rows.Scan(&o.ID, &o.GameID, &o.BookmakerID, &market, &o.Selection,
			&o.Line, &o.Price, &result, &o.ObservationID, &o.GradedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		o.Market = domain.Market(market)
		o.Result = domain.OutcomeResult(result)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return out, nil
}
