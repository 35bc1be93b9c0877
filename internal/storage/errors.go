package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes
const (
	pgUniqueViolation = "23505"
)

// isUniqueViolation reports whether the error is a unique constraint
// violation. Uniqueness invariants live in the schema; repositories translate
// violations into domain conflicts instead of crashing.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
