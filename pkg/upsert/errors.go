package upsert

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoColumns is returned when neither an explicit column list nor a
	// header row yields any columns.
	ErrNoColumns = errors.New("either the Columns option or a header row is required")

	// ErrMissingKeyColumn is returned when a uniqueness key column is not part
	// of the resolved column set.
	ErrMissingKeyColumn = errors.New("key column missing from source columns")

	// ErrUnknownColumn is returned when a source column does not exist on the
	// destination table.
	ErrUnknownColumn = errors.New("column not found on destination")

	// ErrNoUniqueKey is returned when no uniqueness key was given and the
	// destination has no primary key to default to.
	ErrNoUniqueKey = errors.New("no uniqueness key")

	// ErrKeyNotUnique is returned when the reconciled row counts do not match
	// the staged row count.
	ErrKeyNotUnique = errors.New("row count mismatch")

	// ErrInvalidOptions is returned for malformed Options.
	ErrInvalidOptions = errors.New("invalid options")
)

// pgErrDetail folds a server-side detail message into err while keeping it
// unwrappable.
func pgErrDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w: %s (%s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}
