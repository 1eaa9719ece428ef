package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// ReferenceStore implements domain.ReferenceStore using PostgreSQL. Every
// Ensure call is a single upsert statement, so concurrent callers converge on
// the same row.
type ReferenceStore struct {
	pool *pgxpool.Pool
}

// NewReferenceStore creates a new ReferenceStore backed by the given pool.
func NewReferenceStore(pool *pgxpool.Pool) *ReferenceStore {
	return &ReferenceStore{pool: pool}
}

// EnsureSport returns the sport with key, creating it if needed. A differing
// non-empty title replaces the stored one.
func (s *ReferenceStore) EnsureSport(ctx context.Context, key, title string) (domain.Sport, error) {
	if key == "" {
		return domain.Sport{}, fmt.Errorf("postgres: ensure sport: empty key")
	}
	const query = `
		INSERT INTO sports (sport_key, sport_title)
		VALUES ($1, COALESCE(NULLIF($2, ''), $1))
		ON CONFLICT (sport_key) DO UPDATE SET
			sport_title = COALESCE(NULLIF($2, ''), sports.sport_title)
		RETURNING sport_id, sport_key, sport_title, created_at`

	var sp domain.Sport
	err := s.pool.QueryRow(ctx, query, key, title).Scan(&sp.ID, &sp.Key, &sp.Title, &sp.CreatedAt)
	if err != nil {
		return domain.Sport{}, mapErr(err, "ensure sport "+key)
	}
	return sp, nil
}

// EnsureBookmaker returns the bookmaker with key, creating it if needed.
func (s *ReferenceStore) EnsureBookmaker(ctx context.Context, key, title string) (domain.Bookmaker, error) {
	if key == "" {
		return domain.Bookmaker{}, fmt.Errorf("postgres: ensure bookmaker: empty key")
	}
	const query = `
		INSERT INTO bookmakers (bookmaker_key, bookmaker_title)
		VALUES ($1, COALESCE(NULLIF($2, ''), $1))
		ON CONFLICT (bookmaker_key) DO UPDATE SET
			bookmaker_title = COALESCE(NULLIF($2, ''), bookmakers.bookmaker_title)
		RETURNING bookmaker_id, bookmaker_key, bookmaker_title, created_at`

	var b domain.Bookmaker
	err := s.pool.QueryRow(ctx, query, key, title).Scan(&b.ID, &b.Key, &b.Title, &b.CreatedAt)
	if err != nil {
		return domain.Bookmaker{}, mapErr(err, "ensure bookmaker "+key)
	}
	return b, nil
}

// EnsureTeam returns the team (name, sportID), creating it if needed. An
// unknown sport yields domain.ErrReferenceMissing.
func (s *ReferenceStore) EnsureTeam(ctx context.Context, name string, sportID int64) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, fmt.Errorf("postgres: ensure team: empty name")
	}
	const query = `
		INSERT INTO teams (team_name, sport_id)
		VALUES ($1, $2)
		ON CONFLICT (team_name, sport_id) DO UPDATE SET team_name = EXCLUDED.team_name
		RETURNING team_id, team_name, sport_id, created_at`

	var t domain.Team
	err := s.pool.QueryRow(ctx, query, name, sportID).Scan(&t.ID, &t.Name, &t.SportID, &t.CreatedAt)
	if err != nil {
		return domain.Team{}, mapErr(err, "ensure team "+name)
	}
	return t, nil
}

func (s *ReferenceStore) SportByKey(ctx context.Context, key string) (domain.Sport, error) {
	var sp domain.Sport
	err := s.pool.QueryRow(ctx,
		`SELECT sport_id, sport_key, sport_title, created_at FROM sports WHERE sport_key = $1`, key,
	).Scan(&sp.ID, &sp.Key, &sp.Title, &sp.CreatedAt)
	if err != nil {
		return domain.Sport{}, mapErr(err, "get sport "+key)
	}
	return sp, nil
}

func (s *ReferenceStore) BookmakerByKey(ctx context.Context, key string) (domain.Bookmaker, error) {
	var b domain.Bookmaker
	err := s.pool.QueryRow(ctx,
		`SELECT bookmaker_id, bookmaker_key, bookmaker_title, created_at FROM bookmakers WHERE bookmaker_key = $1`, key,
	).Scan(&b.ID, &b.Key, &b.Title, &b.CreatedAt)
	if err != nil {
		return domain.Bookmaker{}, mapErr(err, "get bookmaker "+key)
	}
	return b, nil
}

func (s *ReferenceStore) ListSports(ctx context.Context) ([]domain.Sport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sport_id, sport_key, sport_title, created_at FROM sports ORDER BY sport_key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sports: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sport, error) {
		var sp domain.Sport
		err := row.Scan(&sp.ID, &sp.Key, &sp.Title, &sp.CreatedAt)
		return sp, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sports: %w", err)
	}
	return out, nil
}

func (s *ReferenceStore) ListBookmakers(ctx context.Context) ([]domain.Bookmaker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bookmaker_id, bookmaker_key, bookmaker_title, created_at FROM bookmakers ORDER BY bookmaker_key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bookmakers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Bookmaker, error) {
		var b domain.Bookmaker
		err := row.Scan(&b.ID, &b.Key, &b.Title, &b.CreatedAt)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bookmakers: %w", err)
	}
	return out, nil
}

// ListTeams returns teams of sportID, or of every sport when sportID is 0.
func (s *ReferenceStore) ListTeams(ctx context.Context, sportID int64) ([]domain.Team, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT team_id, team_name, sport_id, created_at FROM teams
		WHERE $1 = 0 OR sport_id = $1
		ORDER BY team_name`, sportID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list teams: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Team, error) {
		var t domain.Team
		err := row.Scan(&t.ID, &t.Name, &t.SportID, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan teams: %w", err)
	}
	return out, nil
}
