package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Translate maps PostgreSQL constraint failures onto domain errors. unique is
// the message used for a unique violation; other errors pass through.
func Translate(err error, unique string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return httpx.Conflict("%s", unique)
	case codeForeignKeyViolation:
		return httpx.Invalid("referenced record does not exist (%s)", pgErr.ConstraintName)
	case codeCheckViolation:
		return httpx.Invalid("constraint %s violated", pgErr.ConstraintName)
	default:
		return err
	}
}
