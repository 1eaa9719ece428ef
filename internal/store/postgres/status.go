package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// statusTables lists the tables reported by TableCounts, in display order.
var statusTables = []string{
	"sports", "teams", "games", "bookmakers",
	"moneylines", "spreads", "totals",
	"api_snapshots", "bet_outcomes",
}

// StatusReporter implements domain.StatusReporter.
type StatusReporter struct {
	pool *pgxpool.Pool
}

// NewStatusReporter creates a StatusReporter backed by the given pool.
func NewStatusReporter(pool *pgxpool.Pool) *StatusReporter {
	return &StatusReporter{pool: pool}
}

func (s *StatusReporter) TableCounts(ctx context.Context) ([]domain.TableCount, error) {
	out := make([]domain.TableCount, 0, len(statusTables))
	for _, table := range statusTables {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("postgres: count %s: %w", table, err)
		}
		out = append(out, domain.TableCount{Table: table, Rows: n})
	}
	return out, nil
}
