package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// QueryRunner executes ad-hoc analytics SQL inside a read-only transaction.
// Any write attempt fails with domain.ErrReadOnly.
type QueryRunner struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewQueryRunner creates a QueryRunner. timeout bounds each statement.
func NewQueryRunner(pool *pgxpool.Pool, timeout time.Duration) *QueryRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QueryRunner{pool: pool, timeout: timeout}
}

// checkQuery accepts a single SELECT or WITH statement.
func checkQuery(sql string) (string, error) {
	q := strings.TrimSpace(sql)
	q = strings.TrimSuffix(q, ";")
	if q == "" {
		return "", fmt.Errorf("%w: empty query", domain.ErrReadOnly)
	}
	if strings.Contains(q, ";") {
		return "", fmt.Errorf("%w: multiple statements", domain.ErrReadOnly)
	}
	head := strings.ToUpper(strings.Fields(q)[0])
	if head != "SELECT" && head != "WITH" {
		return "", fmt.Errorf("%w: only SELECT or WITH queries are allowed", domain.ErrReadOnly)
	}
	return q, nil
}

// Query runs sql and returns at most maxRows rows. Truncated is set when more
// rows were available.
func (r *QueryRunner) Query(ctx context.Context, sql string, maxRows int) (domain.QueryResult, error) {
	q, err := checkQuery(sql)
	if err != nil {
		return domain.QueryResult{}, err
	}
	if maxRows <= 0 {
		maxRows = 1000
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("postgres: begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		fmt.Sprintf("SET LOCAL statement_timeout = %d", r.timeout.Milliseconds())); err != nil {
		return domain.QueryResult{}, fmt.Errorf("postgres: set statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, q)
	if err != nil {
		return domain.QueryResult{}, mapErr(err, "query")
	}
	defer rows.Close()

	var res domain.QueryResult
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return domain.QueryResult{}, fmt.Errorf("postgres: read query row: %w", err)
		}
		res.Rows = append(res.Rows, vals)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.QueryResult{}, mapErr(err, "query")
	}
	return res, nil
}
