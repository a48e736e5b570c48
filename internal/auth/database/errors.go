package database

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

const pgUniqueViolation = "23505"

// mapError converts driver failures into tagged errors. Anything the store
// cannot classify is reported as unavailable: callers must not treat an
// unknown database failure as "no such account".
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apierr.Wrap(apierr.KindNotFound, op, err)
	case isUniqueViolation(err):
		return apierr.Wrap(apierr.KindConflict, op, err)
	default:
		// deadlines, cancellation, bad connections, busy database
		return apierr.Wrap(apierr.KindServiceUnavailable, op, err)
	}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
