package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already taken")
	ErrSessionNotFound = errors.New("session not found")
	ErrHashMismatch    = errors.New("session hash mismatch")
	ErrFileNotFound    = errors.New("file not found")
)

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// validID guards uuid columns: a malformed id can never match a row, and
// passing it through would surface as a syntax error instead of not-found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
