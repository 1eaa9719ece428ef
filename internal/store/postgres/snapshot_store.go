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

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotCols = `snapshot_id, sport_key, snapshot_timestamp, previous_timestamp, next_timestamp,
	games_count, total_odds_count, raw_response, archive_key, created_at`

func scanSnapshot(row pgx.Row) (domain.ApiSnapshot, error) {
	var a domain.ApiSnapshot
	var raw []byte
	err := row.Scan(&a.ID, &a.SportKey, &a.SnapshotTime, &a.PreviousTime, &a.NextTime,
		&a.GamesCount, &a.TotalOddsCount, &raw, &a.ArchiveKey, &a.CreatedAt)
	if err != nil {
		return domain.ApiSnapshot{}, err
	}
	if len(raw) > 0 {
		a.RawResponse = json.RawMessage(raw)
	}
	return a, nil
}

// Insert appends snap. When (sport, snapshot time) was already recorded the
// stored row is returned with false.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.ApiSnapshot) (domain.ApiSnapshot, bool, error) {
	ts := snap.SnapshotTime.UTC().Truncate(time.Microsecond)
	const insert = `
		INSERT INTO api_snapshots (
			sport_key, snapshot_timestamp, previous_timestamp, next_timestamp,
			games_count, total_odds_count, raw_response
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sport_key, snapshot_timestamp) DO NOTHING
		RETURNING ` + snapshotCols

	a, err := scanSnapshot(s.pool.QueryRow(ctx, insert,
		snap.SportKey, ts, snap.PreviousTime, snap.NextTime,
		snap.GamesCount, snap.TotalOddsCount, nullableJSON(snap.RawResponse),
	))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ApiSnapshot{}, false, mapErr(err, "insert api snapshot")
	}

	a, err = scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM api_snapshots WHERE sport_key = $1 AND snapshot_timestamp = $2`,
		snap.SportKey, ts))
	if err != nil {
		return domain.ApiSnapshot{}, false, mapErr(err, "load api snapshot")
	}
	return a, false, nil
}

// List returns snapshots newest first.
func (s *SnapshotStore) List(ctx context.Context, sportKey string, opts domain.ListOpts) ([]domain.ApiSnapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM api_snapshots WHERE 1=1`
	args := []any{}
	argIdx := 1

	if sportKey != "" {
		query += fmt.Sprintf(" AND sport_key = $%d", argIdx)
		args = append(args, sportKey)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND snapshot_timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND snapshot_timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY snapshot_timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.query(ctx, query, args...)
}

// ListBefore returns unarchived snapshots created before the cutoff, oldest
// first.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ApiSnapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM api_snapshots
		WHERE archive_key = '' AND created_at < $1
		ORDER BY created_at`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// MarkArchived clears raw_response on the given rows and records the archive
// object key.
func (s *SnapshotStore) MarkArchived(ctx context.Context, ids []int64, archiveKey string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE api_snapshots SET raw_response = NULL, archive_key = $2 WHERE snapshot_id = ANY($1)`,
		ids, archiveKey)
	if err != nil {
		return fmt.Errorf("postgres: mark %d snapshots archived: %w", len(ids), err)
	}
	return nil
}

func (s *SnapshotStore) query(ctx context.Context, query string, args ...any) ([]domain.ApiSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list api snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.ApiSnapshot
	for rows.Next() {
		a, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan api snapshot: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: api snapshots rows: %w", err)
	}
	return out, nil
}
