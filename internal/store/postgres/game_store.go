package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// GameStore implements domain.GameStore using PostgreSQL.
type GameStore struct {
	pool *pgxpool.Pool
}

// NewGameStore creates a new GameStore backed by the given connection pool.
func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

const gameCols = `g.game_id, g.sport_id, g.commence_time, g.home_team_id, g.away_team_id,
	g.home_score, g.away_score, g.status, g.completed_at, g.raw_data,
	g.created_at, g.updated_at`

const gameViewFrom = ` FROM games g
	JOIN sports s ON s.sport_id = g.sport_id
	JOIN teams ht ON ht.team_id = g.home_team_id
	JOIN teams at ON at.team_id = g.away_team_id`

func scanGame(row pgx.Row, extra ...any) (domain.Game, error) {
	var g domain.Game
	var status string
	var raw []byte
	dest := []any{
		&g.ID, &g.SportID, &g.CommenceTime, &g.HomeTeamID, &g.AwayTeamID,
		&g.HomeScore, &g.AwayScore, &status, &g.CompletedAt, &raw,
		&g.CreatedAt, &g.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Game{}, err
	}
	g.Status = domain.GameStatus(status)
	if len(raw) > 0 {
		g.RawPayload = json.RawMessage(raw)
	}
	return g, nil
}

func scanGameView(row pgx.Row) (domain.GameView, error) {
	var v domain.GameView
	g, err := scanGame(row, &v.SportKey, &v.HomeTeamName, &v.AwayTeamName)
	if err != nil {
		return domain.GameView{}, err
	}
	v.Game = g
	return v, nil
}

// nullableJSON turns an empty payload into SQL NULL.
func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// UpsertGame creates the game on first sight; later calls update commence
// time, raw payload, forward status moves and live scores. Identity columns
// are never rewritten, and a completed game keeps its status and score.
func (s *GameStore) UpsertGame(ctx context.Context, in domain.GameUpsert) (domain.Game, error) {
	if in.ID == "" {
		return domain.Game{}, fmt.Errorf("postgres: upsert game: empty id")
	}
	if in.Status == domain.StatusCompleted {
		return domain.Game{}, fmt.Errorf("postgres: upsert game %s: %w: completion requires CompleteGame", in.ID, domain.ErrInvalidTransition)
	}
	if in.Status != "" && !in.Status.Valid() {
		return domain.Game{}, fmt.Errorf("postgres: upsert game %s: %w: unknown status %q", in.ID, domain.ErrInvalidTransition, in.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Game{}, fmt.Errorf("postgres: begin upsert game %s: %w", in.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := in.Status
	if status == "" {
		status = domain.StatusScheduled
	}
	const insert = `
		INSERT INTO games (
			game_id, sport_id, commence_time, home_team_id, away_team_id,
			home_score, away_score, status, raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (game_id) DO NOTHING
		RETURNING ` + gameColsBare

	g, err := scanGame(tx.QueryRow(ctx, insert,
		in.ID, in.SportID, in.CommenceTime.UTC(), in.HomeTeamID, in.AwayTeamID,
		in.HomeScore, in.AwayScore, string(status), nullableJSON(in.RawPayload),
	))
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return domain.Game{}, fmt.Errorf("postgres: commit upsert game %s: %w", in.ID, err)
		}
		return g, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.Game{}, mapErr(err, "insert game "+in.ID)
	}

	current, err := scanGame(tx.QueryRow(ctx,
		`SELECT `+gameColsBare+` FROM games WHERE game_id = $1 FOR UPDATE`, in.ID))
	if err != nil {
		return domain.Game{}, mapErr(err, "lock game "+in.ID)
	}

	next := current.Status
	home, away := current.HomeScore, current.AwayScore
	if current.Status != domain.StatusCompleted {
		if in.Status != "" && current.Status.CanTransition(in.Status) {
			next = in.Status
		}
		if in.HomeScore != nil {
			home = in.HomeScore
		}
		if in.AwayScore != nil {
			away = in.AwayScore
		}
	}

	const update = `
		UPDATE games SET
			commence_time = $2,
			raw_data      = COALESCE($3, raw_data),
			status        = $4,
			home_score    = $5,
			away_score    = $6,
			updated_at    = NOW()
		WHERE game_id = $1
		RETURNING ` + gameColsBare

	g, err = scanGame(tx.QueryRow(ctx, update,
		in.ID, in.CommenceTime.UTC(), nullableJSON(in.RawPayload), string(next), home, away,
	))
	if err != nil {
		return domain.Game{}, mapErr(err, "update game "+in.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Game{}, fmt.Errorf("postgres: commit upsert game %s: %w", in.ID, err)
	}
	return g, nil
}

// CompleteGame records the final score. Repeating the call with the same
// score is a no-op; a different score on a completed game returns
// domain.ErrStateConflict and leaves the stored score untouched.
func (s *GameStore) CompleteGame(ctx context.Context, id string, home, away int, completedAt time.Time) (domain.Game, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Game{}, fmt.Errorf("postgres: begin complete game %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanGame(tx.QueryRow(ctx,
		`SELECT `+gameColsBare+` FROM games WHERE game_id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Game{}, mapErr(err, "lock game "+id)
	}

	if current.Status == domain.StatusCompleted {
		if current.SameScore(home, away) {
			return current, nil
		}
		return current, fmt.Errorf("%w: game %s already completed %d-%d, got %d-%d",
			domain.ErrStateConflict, id, *current.HomeScore, *current.AwayScore, home, away)
	}

	g, err := scanGame(tx.QueryRow(ctx, `
		UPDATE games SET
			home_score   = $2,
			away_score   = $3,
			status       = 'completed',
			completed_at = $4,
			updated_at   = NOW()
		WHERE game_id = $1
		RETURNING `+gameColsBare,
		id, home, away, completedAt.UTC(),
	))
	if err != nil {
		return domain.Game{}, mapErr(err, "complete game "+id)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Game{}, fmt.Errorf("postgres: commit complete game %s: %w", id, err)
	}
	return g, nil
}

// CorrectScore overwrites the score of a completed game.
func (s *GameStore) CorrectScore(ctx context.Context, id string, home, away int) (domain.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx, `
		UPDATE games SET home_score = $2, away_score = $3, updated_at = NOW()
		WHERE game_id = $1 AND status = 'completed'
		RETURNING `+gameColsBare,
		id, home, away,
	))
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Game{}, mapErr(err, "correct score "+id)
	}

	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM games WHERE game_id = $1`, id).Scan(&status); err != nil {
		return domain.Game{}, mapErr(err, "get game "+id)
	}
	return domain.Game{}, fmt.Errorf("postgres: correct score %s: %w: game is %s", id, domain.ErrInvalidTransition, status)
}

func (s *GameStore) Get(ctx context.Context, id string) (domain.GameView, error) {
	v, err := scanGameView(s.pool.QueryRow(ctx,
		`SELECT `+gameCols+`, s.sport_key, ht.team_name, at.team_name`+gameViewFrom+` WHERE g.game_id = $1`, id))
	if err != nil {
		return domain.GameView{}, mapErr(err, "get game "+id)
	}
	return v, nil
}

// List returns games ordered by commence time with optional sport, status
// and commence-time filters.
func (s *GameStore) List(ctx context.Context, f domain.GameFilter) ([]domain.GameView, error) {
	query := `SELECT ` + gameCols + `, s.sport_key, ht.team_name, at.team_name` + gameViewFrom + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.SportKey != "" {
		query += fmt.Sprintf(" AND s.sport_key = $%d", argIdx)
		args = append(args, f.SportKey)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND g.status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND g.commence_time >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND g.commence_time <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY g.commence_time, g.game_id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list games: %w", err)
	}
	defer rows.Close()

	var out []domain.GameView
	for rows.Next() {
		v, err := scanGameView(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan game: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list games rows: %w", err)
	}
	return out, nil
}

func (s *GameStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM games").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count games: %w", err)
	}
	return n, nil
}

// gameColsBare is gameCols without the table alias, for RETURNING clauses.
const gameColsBare = `game_id, sport_id, commence_time, home_team_id, away_team_id,
	home_score, away_score, status, completed_at, raw_data,
	created_at, updated_at`
