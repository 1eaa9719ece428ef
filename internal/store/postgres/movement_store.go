package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// Movements reads the market's movement view. The view computes LAG over
// whole (game, bookmaker) partitions; the filter only selects which rows are
// returned, so the first returned row of a time window still carries its
// predecessor.
func (s *OddsStore) Movements(ctx context.Context, market domain.Market, f domain.MovementFilter) ([]domain.Movement, error) {
	t, err := tableFor(market)
	if err != nil {
		return nil, err
	}

	cols := []string{t.idCol, "game_id", "bookmaker_id", "snapshot_timestamp", "prev_snapshot_timestamp"}
	for _, field := range t.fields {
		cols = append(cols, field, "prev_"+field, domain.MovementColumn(market, field))
	}

	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + t.view + ` WHERE 1=1`
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", t.view, err)
	}
	defer rows.Close()

	var out []domain.Movement
	for rows.Next() {
		m := domain.Movement{Market: market, Fields: make([]domain.FieldDelta, len(t.fields))}
		dest := []any{&m.ObservationID, &m.GameID, &m.BookmakerID, &m.SnapshotTime, &m.PreviousSnapshot}
		for i, field := range t.fields {
			m.Fields[i].Field = field
			dest = append(dest, &m.Fields[i].Value, &m.Fields[i].Previous, &m.Fields[i].Delta)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", t.view, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", t.view, err)
	}
	return out, nil
}
