package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"authgate/internal/database"
	"authgate/internal/models"
)

const userColumns = `id, email, password_hash, name, provider, provider_id, role, status, photo_id, created_at, updated_at, status_changed_at, deleted_at`

type UserRepository struct {
	db database.DBTX
}

func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (
			id, email, password_hash, name, provider, provider_id, role, status, photo_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()
		)
		RETURNING ` + userColumns

	row := r.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Provider,
		user.ProviderID,
		nullableRole(user.Role),
		user.Status,
		user.PhotoID,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("create user: %w", ErrEmailTaken)
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`

	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	if !validID(id) {
		return models.User{}, ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// EmailTaken reports whether a live user other than exceptID owns email.
// Pass an empty exceptID to check against every user.
func (r *UserRepository) EmailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE lower(email) = lower($1)
			  AND deleted_at IS NULL
			  AND ($2 = '' OR id::text <> $2)
		)
	`
	var taken bool
	if err := r.db.QueryRow(ctx, query, email, exceptID).Scan(&taken); err != nil {
		return false, fmt.Errorf("email taken: %w", err)
	}
	return taken, nil
}

// Update writes every mutable column of user. Last writer wins.
func (r *UserRepository) Update(ctx context.Context, user models.User) (models.User, error) {
	query := `
		UPDATE users
		SET email = $2,
		    password_hash = $3,
		    name = $4,
		    role = $5,
		    status = $6,
		    photo_id = $7,
		    status_changed_at = CASE WHEN status IS DISTINCT FROM $6 THEN NOW() ELSE status_changed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + userColumns

	updated, err := scanUser(r.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		nullableRole(user.Role),
		user.Status,
		user.PhotoID,
	))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return models.User{}, ErrUserNotFound
		case isUniqueViolation(err):
			return models.User{}, fmt.Errorf("update user: %w", ErrEmailTaken)
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

var userSortColumns = map[models.UserSort]string{
	models.UserSortCreatedAt: "created_at",
	models.UserSortEmail:     "lower(email)",
	models.UserSortName:      "lower(name)",
	models.UserSortStatus:    "status",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchPattern turns free text into an ILIKE pattern; empty means no filter.
func searchPattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}
	return "%" + likeEscaper.Replace(search) + "%"
}

const userSearchClause = `deleted_at IS NULL AND ($1 = '' OR name ILIKE $1 OR email ILIKE $1)`

// List returns one page of live users. Unknown sort keys fall back to
// creation time; id breaks ties so pages never overlap.
func (r *UserRepository) List(ctx context.Context, q models.UserQuery) ([]models.User, error) {
	column, ok := userSortColumns[q.Sort]
	if !ok {
		column = userSortColumns[models.UserSortCreatedAt]
	}
	direction := "ASC"
	if q.Desc {
		direction = "DESC"
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE ` + userSearchClause + `
		ORDER BY ` + column + ` ` + direction + `, id ` + direction + `
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, searchPattern(q.Search), q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0, q.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Count returns how many live users match search.
func (r *UserRepository) Count(ctx context.Context, search string) (int, error) {
	query := `SELECT count(*) FROM users WHERE ` + userSearchClause

	var total int
	if err := r.db.QueryRow(ctx, query, searchPattern(search)).Scan(&total); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrUserNotFound
	}
	const query = `UPDATE users SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		user models.User
		role *string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Provider,
		&user.ProviderID,
		&role,
		&user.Status,
		&user.PhotoID,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.StatusChangedAt,
		&user.DeletedAt,
	); err != nil {
		return models.User{}, err
	}
	if role != nil {
		user.Role = models.UserRole(*role)
	}
	return user, nil
}

func nullableRole(role models.UserRole) *string {
	if role == "" {
		return nil
	}
	s := string(role)
	return &s
}
