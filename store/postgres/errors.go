package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/unkn0wn-root/examcache"
)

// mapErr translates driver errors into the package sentinels callers match on.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return examcache.ErrNotFound
	}
	var e *pgconn.PgError
	if errors.As(err, &e) {
		switch e.Code {
		case pgerrcode.UniqueViolation:
			return &conflictError{constraint: e.ConstraintName, err: err}
		case pgerrcode.ForeignKeyViolation:
			return &missingRefError{constraint: e.ConstraintName, err: err}
		}
	}
	return err
}

type conflictError struct {
	constraint string
	err        error
}

func (e *conflictError) Error() string {
	return "postgres: unique violation on " + e.constraint
}

func (e *conflictError) Unwrap() []error { return []error{examcache.ErrConflict, e.err} }

// missingRefError is a write that referenced a row that does not exist.
type missingRefError struct {
	constraint string
	err        error
}

func (e *missingRefError) Error() string {
	return "postgres: missing referenced row for " + e.constraint
}

func (e *missingRefError) Unwrap() []error { return []error{examcache.ErrNotFound, e.err} }
