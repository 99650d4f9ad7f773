package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/ids"
	"authgate/internal/models"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// UserService is the admin view of the user directory.
type UserService struct {
	store  Store
	hasher PasswordHasher
	log    zerolog.Logger
}

func NewUserService(store Store, hasher PasswordHasher, logger zerolog.Logger) *UserService {
	return &UserService{store: store, hasher: hasher, log: logger}
}

type ListUsersInput struct {
	Page   int
	Limit  int
	Search string
	Sort   models.UserSort
	Desc   bool
}

type UserPage struct {
	Users      []models.User
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// List returns one page of live users. Page and Limit are clamped to sane
// bounds; a page past the end is empty, not an error.
func (s *UserService) List(ctx context.Context, input ListUsersInput) (UserPage, error) {
	page := max(input.Page, 1)
	limit := input.Limit
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}

	total, err := s.store.Users().Count(ctx, input.Search)
	if err != nil {
		return UserPage{}, translate(err)
	}

	result := UserPage{
		Users:      []models.User{},
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
	offset := (page - 1) * limit
	if offset >= total {
		return result, nil
	}

	users, err := s.store.Users().List(ctx, models.UserQuery{
		Search: input.Search,
		Sort:   input.Sort,
		Desc:   input.Desc,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return UserPage{}, translate(err)
	}
	for _, u := range users {
		result.Users = append(result.Users, u.Public())
	}
	return result, nil
}

func (s *UserService) Get(ctx context.Context, id string) (models.User, error) {
	user, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		return models.User{}, translate(err)
	}
	return user.Public(), nil
}

// CreateUserInput is an account created by an administrator. Empty Role and
// Status default to user and active.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	Role     models.UserRole
	Status   models.UserStatus
}

func (s *UserService) Create(ctx context.Context, input CreateUserInput) (models.User, error) {
	role, err := parseRole(input.Role, models.UserRoleUser)
	if err != nil {
		return models.User{}, err
	}
	status, err := parseStatus(input.Status, models.UserStatusActive)
	if err != nil {
		return models.User{}, err
	}
	email := normalizeEmail(input.Email)

	var created models.User
	err = s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		taken, err := repos.Users().EmailTaken(ctx, email, "")
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrEmailExists
		}

		digest, err := s.hasher.Hash(input.Password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		created, err = repos.Users().Create(ctx, models.User{
			ID:           ids.New(),
			Email:        email,
			PasswordHash: digest,
			Name:         strings.TrimSpace(input.Name),
			Provider:     models.ProviderEmail,
			Role:         role,
			Status:       status,
		})
		return err
	})
	if err != nil {
		return models.User{}, translate(err)
	}
	return created.Public(), nil
}

// AdminUpdateInput is a partial update; nil fields are left alone. An empty
// PhotoID clears the photo.
type AdminUpdateInput struct {
	Name     *string
	Email    *string
	Password *string
	PhotoID  *string
	Role     *models.UserRole
	Status   *models.UserStatus
}

// Update changes any account field without the owner's confirmation. A new
// password, a ban or a role change signs the user out everywhere so that no
// access token keeps the old role or a banned user's session.
func (s *UserService) Update(ctx context.Context, id string, input AdminUpdateInput) (models.User, error) {
	var updated models.User
	err := s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		user, err := repos.Users().GetByID(ctx, id)
		if err != nil {
			return err
		}
		revoke := false

		if input.Name != nil {
			user.Name = strings.TrimSpace(*input.Name)
		}
		if input.Email != nil {
			email := normalizeEmail(*input.Email)
			if email != user.Email {
				taken, err := repos.Users().EmailTaken(ctx, email, user.ID)
				if err != nil {
					return err
				}
				if taken {
					return apperr.ErrEmailExists
				}
				user.Email = email
			}
		}
		if input.Password != nil {
			digest, err := s.hasher.Hash(*input.Password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user.PasswordHash = digest
			revoke = true
		}
		if input.PhotoID != nil {
			if *input.PhotoID == "" {
				user.PhotoID = nil
			} else {
				file, err := repos.Files().GetByID(ctx, *input.PhotoID)
				if err != nil {
					return err
				}
				if file.OwnerID != user.ID {
					return apperr.ErrImageNotFound
				}
				user.PhotoID = &file.ID
			}
		}
		if input.Role != nil {
			role, err := parseRole(*input.Role, "")
			if err != nil {
				return err
			}
			revoke = revoke || role != user.Role
			user.Role = role
		}
		if input.Status != nil {
			status, err := parseStatus(*input.Status, "")
			if err != nil {
				return err
			}
			revoke = revoke || (status == models.UserStatusBanned && user.Status != models.UserStatusBanned)
			user.Status = status
		}

		updated, err = repos.Users().Update(ctx, user)
		if err != nil {
			return err
		}
		if revoke {
			return ignoreNoSessions(repos.Sessions().DeleteAllForUser(ctx, user.ID))
		}
		return nil
	})
	if err != nil {
		return models.User{}, translate(err)
	}
	s.logger(ctx).Info().
		Str("target_user_id", id).
		Str("status", string(updated.Status)).
		Str("role", string(updated.Role)).
		Msg("user updated by admin")
	return updated.Public(), nil
}

// Delete soft-deletes the account and revokes all of its sessions.
func (s *UserService) Delete(ctx context.Context, id string) error {
	err := s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		if err := repos.Users().SoftDelete(ctx, id); err != nil {
			return err
		}
		return ignoreNoSessions(repos.Sessions().DeleteAllForUser(ctx, id))
	})
	if err != nil {
		return translate(err)
	}
	s.logger(ctx).Info().Str("target_user_id", id).Msg("user deleted by admin")
	return nil
}

func (s *UserService) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

func parseRole(role models.UserRole, fallback models.UserRole) (models.UserRole, error) {
	switch role {
	case "":
		if fallback == "" {
			return "", apperr.ErrRoleNotExists
		}
		return fallback, nil
	case models.UserRoleUser, models.UserRoleAdmin:
		return role, nil
	}
	return "", apperr.ErrRoleNotExists
}

func parseStatus(status models.UserStatus, fallback models.UserStatus) (models.UserStatus, error) {
	switch status {
	case "":
		if fallback == "" {
			return "", apperr.ErrStatusNotExists
		}
		return fallback, nil
	case models.UserStatusInactive, models.UserStatusActive, models.UserStatusBanned:
		return status, nil
	}
	return "", apperr.ErrStatusNotExists
}
