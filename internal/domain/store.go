package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ReferenceStore provides lookup-or-create access to sports, teams and
// bookmakers.
type ReferenceStore interface {
	EnsureSport(ctx context.Context, key, title string) (Sport, error)
	EnsureBookmaker(ctx context.Context, key, title string) (Bookmaker, error)
	EnsureTeam(ctx context.Context, name string, sportID int64) (Team, error)
	SportByKey(ctx context.Context, key string) (Sport, error)
	BookmakerByKey(ctx context.Context, key string) (Bookmaker, error)
	ListSports(ctx context.Context) ([]Sport, error)
	ListBookmakers(ctx context.Context) ([]Bookmaker, error)
	ListTeams(ctx context.Context, sportID int64) ([]Team, error)
}

// GameStore is the game registry.
type GameStore interface {
	UpsertGame(ctx context.Context, g GameUpsert) (Game, error)
	CompleteGame(ctx context.Context, id string, homeScore, awayScore int, completedAt time.Time) (Game, error)
	CorrectScore(ctx context.Context, id string, homeScore, awayScore int) (Game, error)
	Get(ctx context.Context, id string) (GameView, error)
	List(ctx context.Context, f GameFilter) ([]GameView, error)
	Count(ctx context.Context) (int64, error)
}

// OddsStore is the snapshot store for all three markets.
type OddsStore interface {
	Record(ctx context.Context, obs Observation) (RecordResult, error)
	Current(ctx context.Context, gameID string, market Market) ([]Observation, error)
	Latest(ctx context.Context, market Market, gameID string, bookmakerID int64) (Observation, error)
	Series(ctx context.Context, market Market, f SeriesFilter) ([]Observation, error)
	Count(ctx context.Context, market Market) (int64, error)
}

// MovementReader serves the read-only movement projection.
type MovementReader interface {
	Movements(ctx context.Context, market Market, f MovementFilter) ([]Movement, error)
}

// SnapshotStore persists historical fetch bookkeeping.
type SnapshotStore interface {
	Insert(ctx context.Context, s ApiSnapshot) (ApiSnapshot, bool, error)
	List(ctx context.Context, sportKey string, opts ListOpts) ([]ApiSnapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ApiSnapshot, error)
	MarkArchived(ctx context.Context, ids []int64, archiveKey string) error
}

// OutcomeStore persists graded bet outcomes.
type OutcomeStore interface {
	Upsert(ctx context.Context, outcomes []BetOutcome) error
	ListByGame(ctx context.Context, gameID string) ([]BetOutcome, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows an audit listing. An empty Events matches every event.
type AuditFilter struct {
	Events []string
	ListOpts
}

// QueryResult is the tabular result of a read-only analytics query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// QueryRunner executes analytics queries that must never write.
type QueryRunner interface {
	Query(ctx context.Context, sql string, maxRows int) (QueryResult, error)
}

// TableCount is one entry of a storage status report.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// StatusReporter reports row counts for the main tables.
type StatusReporter interface {
	TableCounts(ctx context.Context) ([]TableCount, error)
}
