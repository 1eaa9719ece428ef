package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// oddsTable describes where one market is stored.
type oddsTable struct {
	market domain.Market
	name   string
	idCol  string
	view   string
	fields []string
}

var oddsTables = map[domain.Market]oddsTable{
	domain.MarketMoneyline: {domain.MarketMoneyline, "moneylines", "moneyline_id", "moneyline_movements", domain.MarketFields(domain.MarketMoneyline)},
	domain.MarketSpread:    {domain.MarketSpread, "spreads", "spread_id", "spread_movements", domain.MarketFields(domain.MarketSpread)},
	domain.MarketTotal:     {domain.MarketTotal, "totals", "total_id", "total_movements", domain.MarketFields(domain.MarketTotal)},
}

func tableFor(m domain.Market) (oddsTable, error) {
	t, ok := oddsTables[m]
	if !ok {
		return oddsTable{}, fmt.Errorf("postgres: %w: unknown market %q", domain.ErrInvalidObservation, m)
	}
	return t, nil
}

func (t oddsTable) columns() string {
	return t.idCol + ", game_id, bookmaker_id, " + strings.Join(t.fields, ", ") +
		", last_update, snapshot_timestamp, recorded_at, is_latest, raw_outcomes"
}

// priceDest returns the scan destination of field inside p.
func priceDest(p *domain.Prices, field string) any {
	switch field {
	case domain.FieldHomePrice:
		return &p.HomePrice
	case domain.FieldAwayPrice:
		return &p.AwayPrice
	case domain.FieldDrawPrice:
		return &p.DrawPrice
	case domain.FieldHomeSpread:
		return &p.HomeSpread
	case domain.FieldAwaySpread:
		return &p.AwaySpread
	case domain.FieldTotalLine:
		return &p.TotalLine
	case domain.FieldOverPrice:
		return &p.OverPrice
	case domain.FieldUnderPrice:
		return &p.UnderPrice
	}
	return new(*float64)
}

func (t oddsTable) scan(row pgx.Row) (domain.Observation, error) {
	o := domain.Observation{Market: t.market}
	var raw []byte
	dest := []any{&o.ID, &o.GameID, &o.BookmakerID}
	for _, f := range t.fields {
		dest = append(dest, priceDest(&o.Prices, f))
	}
	dest = append(dest, &o.LastUpdate, &o.SnapshotTime, &o.RecordedAt, &o.IsLatest, &raw)
	if err := row.Scan(dest...); err != nil {
		return domain.Observation{}, err
	}
	if len(raw) > 0 {
		o.RawOutcomes = json.RawMessage(raw)
	}
	return o, nil
}

// OddsStore implements domain.OddsStore and domain.MovementReader over the
// moneylines, spreads and totals tables.
type OddsStore struct {
	pool *pgxpool.Pool
}

// NewOddsStore creates a new OddsStore backed by the given connection pool.
func NewOddsStore(pool *pgxpool.Pool) *OddsStore {
	return &OddsStore{pool: pool}
}

// Record inserts obs unless a row with the same (game, bookmaker, snapshot
// time) exists, then moves the latest flag to it when it is strictly newer
// than the partition's current latest row. Writers to the same partition are
// serialised by a transaction-scoped advisory lock, so the flag move and the
// insert commit together.
func (s *OddsStore) Record(ctx context.Context, obs domain.Observation) (domain.RecordResult, error) {
	if err := obs.Validate(); err != nil {
		return domain.RecordResult{}, err
	}
	t, err := tableFor(obs.Market)
	if err != nil {
		return domain.RecordResult{}, err
	}
	// Postgres keeps microseconds; compare on what will be stored.
	obs.SnapshotTime = obs.SnapshotTime.UTC().Truncate(time.Microsecond)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.RecordResult{}, fmt.Errorf("postgres: begin record %s: %w", t.name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockKey := fmt.Sprintf("%s:%s:%d", t.name, obs.GameID, obs.BookmakerID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return domain.RecordResult{}, fmt.Errorf("postgres: lock %s: %w", lockKey, err)
	}

	args := []any{obs.GameID, obs.BookmakerID}
	placeholders := []string{"$1", "$2"}
	for _, f := range t.fields {
		args = append(args, obs.Prices.Get(f))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	args = append(args, obs.LastUpdate, obs.SnapshotTime, nullableJSON(obs.RawOutcomes))
	n := len(args)
	placeholders = append(placeholders, fmt.Sprintf("$%d", n-2), fmt.Sprintf("$%d", n-1), fmt.Sprintf("$%d", n))

	insert := fmt.Sprintf(`
		INSERT INTO %s (game_id, bookmaker_id, %s, last_update, snapshot_timestamp, raw_outcomes)
		VALUES (%s)
		ON CONFLICT (game_id, bookmaker_id, snapshot_timestamp) DO NOTHING
		RETURNING %s`,
		t.name, strings.Join(t.fields, ", "), strings.Join(placeholders, ", "), t.idCol)

	var id int64
	err = tx.QueryRow(ctx, insert, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := t.scan(tx.QueryRow(ctx,
			`SELECT `+t.columns()+` FROM `+t.name+
				` WHERE game_id = $1 AND bookmaker_id = $2 AND snapshot_timestamp = $3`,
			obs.GameID, obs.BookmakerID, obs.SnapshotTime))
		if err != nil {
			return domain.RecordResult{}, mapErr(err, "load duplicate "+t.name)
		}
		return domain.RecordResult{
			ID:          existing.ID,
			Duplicate:   true,
			Conflicting: !existing.Prices.Equal(obs.Market, obs.Prices),
		}, nil
	}
	if err != nil {
		return domain.RecordResult{}, mapErr(err, "insert "+t.name)
	}

	res := domain.RecordResult{ID: id, Inserted: true}

	var latestID int64
	var latestTS time.Time
	err = tx.QueryRow(ctx,
		`SELECT `+t.idCol+`, snapshot_timestamp FROM `+t.name+
			` WHERE game_id = $1 AND bookmaker_id = $2 AND is_latest FOR UPDATE`,
		obs.GameID, obs.BookmakerID).Scan(&latestID, &latestTS)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		res.Promoted = true
	case err != nil:
		return domain.RecordResult{}, fmt.Errorf("postgres: load latest %s: %w", t.name, err)
	default:
		res.Promoted = obs.SnapshotTime.After(latestTS)
	}

	if res.Promoted {
		if latestID != 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE `+t.name+` SET is_latest = FALSE WHERE `+t.idCol+` = $1`, latestID); err != nil {
				return domain.RecordResult{}, fmt.Errorf("postgres: clear latest %s: %w", t.name, err)
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE `+t.name+` SET is_latest = TRUE WHERE `+t.idCol+` = $1`, id); err != nil {
			return domain.RecordResult{}, mapErr(err, "set latest "+t.name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RecordResult{}, fmt.Errorf("postgres: commit record %s: %w", t.name, err)
	}
	return res, nil
}

// Current returns the latest row of every bookmaker for gameID.
func (s *OddsStore) Current(ctx context.Context, gameID string, market domain.Market) ([]domain.Observation, error) {
	t, err := tableFor(market)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, t,
		`SELECT `+t.columns()+` FROM `+t.name+` WHERE game_id = $1 AND is_latest ORDER BY bookmaker_id`,
		gameID)
}

func (s *OddsStore) Latest(ctx context.Context, market domain.Market, gameID string, bookmakerID int64) (domain.Observation, error) {
	t, err := tableFor(market)
	if err != nil {
		return domain.Observation{}, err
	}
	o, err := t.scan(s.pool.QueryRow(ctx,
		`SELECT `+t.columns()+` FROM `+t.name+` WHERE game_id = $1 AND bookmaker_id = $2 AND is_latest`,
		gameID, bookmakerID))
	if err != nil {
		return domain.Observation{}, mapErr(err, "latest "+t.name)
	}
	return o, nil
}

// Series returns observations ordered by game, bookmaker, snapshot time and
// insertion id.
func (s *OddsStore) Series(ctx context.Context, market domain.Market, f domain.SeriesFilter) ([]domain.Observation, error) {
	t, err := tableFor(market)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + t.columns() + ` FROM ` + t.name + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.GameID != "" {
		query += fmt.Sprintf(" AND game_id = $%d", argIdx)
		args = append(args, f.GameID)
		argIdx++
	}
	if f.BookmakerID != 0 {
		query += fmt.Sprintf(" AND bookmaker_id = $%d", argIdx)
		args = append(args, f.BookmakerID)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND snapshot_timestamp >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND snapshot_timestamp <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY game_id, bookmaker_id, snapshot_timestamp, " + t.idCol

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}
	return s.query(ctx, t, query, args...)
}

func (s *OddsStore) Count(ctx context.Context, market domain.Market) (int64, error) {
	t, err := tableFor(market)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", t.name, err)
	}
	return n, nil
}

func (s *OddsStore) query(ctx context.Context, t oddsTable, query string, args ...any) ([]domain.Observation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		o, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", t.name, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", t.name, err)
	}
	return out, nil
}
