package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a node or cache row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned for constraint races that slip past the
	// in-process uniqueness check.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned for foreign key failures.
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")
)

// ConvertError maps driver-level failures to store errors. Validation-level
// concerns never reach here; anything surfacing from this function is a
// store-layer problem the caller reports as such, not part of the
// validation taxonomy.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.Detail)
		case "23503":
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, pgErr.Detail)
		default:
			return fmt.Errorf("database error %s: %s", pgErr.Code, pgErr.Message)
		}
	}

	return err
}
