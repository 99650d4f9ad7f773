package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"authgate/internal/database"
	"authgate/internal/ids"
	"authgate/internal/models"
)

const sessionColumns = `id, user_id, hash, created_at, updated_at, deleted_at`

type SessionRepository struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, userID, hash string) (models.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query, ids.New(), userID, hash))
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) FindLive(ctx context.Context, id string) (models.Session, error) {
	if !validID(id) {
		return models.Session{}, ErrSessionNotFound
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND deleted_at IS NULL`

	session, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// RotateHash replaces the hash of a live session only while it still equals
// expected. Of two concurrent rotations with the same expected hash exactly
// one succeeds; the other gets ErrHashMismatch.
func (r *SessionRepository) RotateHash(ctx context.Context, id, expected, next string) (models.Session, error) {
	if !validID(id) {
		return models.Session{}, ErrSessionNotFound
	}
	query := `
		UPDATE sessions
		SET hash = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND hash = $2
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query, id, expected, next))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, fmt.Errorf("rotate session hash: %w", err)
	}

	const exists = `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND deleted_at IS NULL)`
	var live bool
	if err := r.db.QueryRow(ctx, exists, id).Scan(&live); err != nil {
		return models.Session{}, fmt.Errorf("rotate session hash: %w", err)
	}
	if !live {
		return models.Session{}, ErrSessionNotFound
	}
	return models.Session{}, ErrHashMismatch
}

func (r *SessionRepository) DeleteOne(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrSessionNotFound
	}
	const query = `UPDATE sessions SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	return r.softDelete(ctx, "delete session", query, id)
}

// DeleteOwned soft-deletes a session only when it belongs to userID.
func (r *SessionRepository) DeleteOwned(ctx context.Context, userID, id string) error {
	if !validID(id) || !validID(userID) {
		return ErrSessionNotFound
	}
	const query = `
		UPDATE sessions SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`
	return r.softDelete(ctx, "delete owned session", query, id, userID)
}

func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	if !validID(userID) {
		return ErrSessionNotFound
	}
	const query = `UPDATE sessions SET deleted_at = NOW(), updated_at = NOW() WHERE user_id = $1 AND deleted_at IS NULL`
	return r.softDelete(ctx, "delete user sessions", query, userID)
}

func (r *SessionRepository) DeleteAllForUserExcept(ctx context.Context, userID, keepID string) error {
	if !validID(userID) || !validID(keepID) {
		return ErrSessionNotFound
	}
	const query = `
		UPDATE sessions SET deleted_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND id <> $2 AND deleted_at IS NULL
	`
	return r.softDelete(ctx, "delete other sessions", query, userID, keepID)
}

func (r *SessionRepository) ListLiveByUser(ctx context.Context, userID string) ([]models.Session, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// PurgeDeleted hard-deletes sessions soft-deleted before the cutoff.
func (r *SessionRepository) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < $1`
	cmd, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) softDelete(ctx context.Context, op, query string, args ...any) error {
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(row rowScanner) (models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Hash,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.DeletedAt,
	)
	return session, err
}
