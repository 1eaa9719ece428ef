// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage driver and the service tests, and follows
// the same write-path rules as the Postgres stores.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// DB is the shared in-memory state behind every store in this package.
type DB struct {
	mu sync.RWMutex

	now func() time.Time

	nextID int64

	sports     map[int64]domain.Sport
	bookmakers map[int64]domain.Bookmaker
	teams      map[int64]domain.Team
	games      map[string]domain.Game
	odds       map[domain.Market][]domain.Observation
	snapshots  []domain.ApiSnapshot
	outcomes   []domain.BetOutcome
	audit      []domain.AuditEntry
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		now:        func() time.Time { return time.Now().UTC() },
		sports:     make(map[int64]domain.Sport),
		bookmakers: make(map[int64]domain.Bookmaker),
		teams:      make(map[int64]domain.Team),
		games:      make(map[string]domain.Game),
		odds:       make(map[domain.Market][]domain.Observation),
	}
}

// id returns the next surrogate key. Callers hold db.mu.
func (db *DB) id() int64 {
	db.nextID++
	return db.nextID
}

// TableCounts implements domain.StatusReporter.
func (db *DB) TableCounts(_ context.Context) ([]domain.TableCount, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return []domain.TableCount{
		{Table: "sports", Rows: int64(len(db.sports))},
		{Table: "teams", Rows: int64(len(db.teams))},
		{Table: "games", Rows: int64(len(db.games))},
		{Table: "bookmakers", Rows: int64(len(db.bookmakers))},
		{Table: "moneylines", Rows: int64(len(db.odds[domain.MarketMoneyline]))},
		{Table: "spreads", Rows: int64(len(db.odds[domain.MarketSpread]))},
		{Table: "totals", Rows: int64(len(db.odds[domain.MarketTotal]))},
		{Table: "api_snapshots", Rows: int64(len(db.snapshots))},
		{Table: "bet_outcomes", Rows: int64(len(db.outcomes))},
	}, nil
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

func page[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}
