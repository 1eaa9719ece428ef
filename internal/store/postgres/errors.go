package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// SQLSTATE codes mapped onto domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeReadOnlyTransaction = "25006"
)

// mapErr translates driver errors into domain sentinels, keeping the driver
// error in the chain. what describes the failed operation.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeForeignKeyViolation:
			return fmt.Errorf("postgres: %s: %w: %w", what, domain.ErrReferenceMissing, err)
		case codeUniqueViolation:
			return fmt.Errorf("postgres: %s: %w: %w", what, domain.ErrAlreadyExists, err)
		case codeReadOnlyTransaction:
			return fmt.Errorf("postgres: %s: %w: %w", what, domain.ErrReadOnly, err)
		}
	}
	return fmt.Errorf("postgres: %s: %w", what, err)
}
