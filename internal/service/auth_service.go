package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/config"
	"authgate/internal/ids"
	"authgate/internal/log"
	"authgate/internal/metrics"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

const (
	eventLogin    = "login"
	eventRegister = "register"
	eventRefresh  = "refresh"
	eventLogout   = "logout"
	eventReset    = "reset_password"
)

type AuthService struct {
	store       Store
	tokens      TokenCodec
	hasher      PasswordHasher
	mailer      Mailer
	metrics     *metrics.Metrics
	mailTimeout time.Duration
	log         zerolog.Logger
}

func NewAuthService(
	store Store,
	tokens TokenCodec,
	hasher PasswordHasher,
	mailer Mailer,
	m *metrics.Metrics,
	cfg *config.AppConfig,
	logger zerolog.Logger,
) *AuthService {
	timeout := cfg.Mail.EnqueueTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &AuthService{
		store:       store,
		tokens:      tokens,
		hasher:      hasher,
		mailer:      mailer,
		metrics:     m,
		mailTimeout: timeout,
		log:         logger,
	}
}

type LoginInput struct {
	Email    string
	Password string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenExpires time.Time
}

type LoginResult struct {
	TokenPair
	User models.User
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (result LoginResult, err error) {
	defer func() { s.metrics.AuthEvent(eventLogin, err) }()

	user, err := s.store.Users().FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		return LoginResult{}, translate(err)
	}
	if user.Provider != models.ProviderEmail {
		return LoginResult{}, apperr.ProviderMismatch(user.Provider)
	}
	if !user.HasPassword() {
		return LoginResult{}, apperr.ErrPasswordNotSet
	}

	ok, err := s.hasher.Verify(input.Password, user.PasswordHash)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return LoginResult{}, apperr.ErrIncorrectPassword
	}

	hash, err := security.NewSessionHash()
	if err != nil {
		return LoginResult{}, err
	}
	session, err := s.store.Sessions().Create(ctx, user.ID, hash)
	if err != nil {
		return LoginResult{}, err
	}

	pair, err := s.issuePair(user, session.ID, hash)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger(ctx).Info().
		Str("user_id", user.ID).
		Str("session_id", session.ID).
		Msg("user logged in")

	return LoginResult{TokenPair: pair, User: user.Public()}, nil
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register creates an inactive account and mails an activation link. A mail
// failure is logged; the account stays created.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (created models.User, err error) {
	defer func() { s.metrics.AuthEvent(eventRegister, err) }()

	email := normalizeEmail(input.Email)
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
			Role:         models.UserRoleUser,
			Status:       models.UserStatusInactive,
		})
		return err
	})
	if err != nil {
		return models.User{}, translate(err)
	}

	token, _, err := s.tokens.IssueConfirmEmail(created.ID, "")
	if err != nil {
		s.logger(ctx).Error().Err(err).Str("user_id", created.ID).Msg("issue confirm email token failed")
		return created.Public(), nil
	}
	s.sendMail(ctx, "activation", created.Email, func(ctx context.Context) error {
		return s.mailer.SendActivation(ctx, created.Email, token)
	})

	return created.Public(), nil
}

// ConfirmEmail activates an account that is still waiting for confirmation.
func (s *AuthService) ConfirmEmail(ctx context.Context, hash string) error {
	claims, err := s.tokens.VerifyConfirmEmail(hash)
	if err != nil {
		return apperr.ErrInvalidHash.WithCause(err)
	}
	if claims.NewEmail != "" {
		return apperr.ErrInvalidHash
	}

	err = s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		user, err := repos.Users().GetByID(ctx, claims.UserID)
		if err != nil {
			return err
		}
		if user.Status != models.UserStatusInactive {
			return apperr.ErrUserNotFound
		}
		// jwt timestamps have second precision
		if claims.IssuedAt == nil || claims.IssuedAt.Time.Before(user.StatusChangedAt.Truncate(time.Second)) {
			return apperr.ErrInvalidHash.WithMessage("Confirmation link was superseded")
		}
		user.Status = models.UserStatusActive
		_, err = repos.Users().Update(ctx, user)
		return err
	})
	return translate(err)
}

// ConfirmNewEmail commits a pending address change carried by the token.
func (s *AuthService) ConfirmNewEmail(ctx context.Context, hash string) error {
	claims, err := s.tokens.VerifyConfirmEmail(hash)
	if err != nil {
		return apperr.ErrInvalidHash.WithCause(err)
	}

	err = s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		user, err := repos.Users().GetByID(ctx, claims.UserID)
		if err != nil {
			return err
		}
		if claims.NewEmail == "" {
			return apperr.ErrInvalidHash
		}

		newEmail := normalizeEmail(claims.NewEmail)
		taken, err := repos.Users().EmailTaken(ctx, newEmail, user.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrEmailExists
		}

		user.Email = newEmail
		user.Status = models.UserStatusActive
		_, err = repos.Users().Update(ctx, user)
		return err
	})
	return translate(err)
}

// ForgotPassword mails a reset link. An unknown address is reported as
// user_not_found.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.Users().FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return translate(err)
	}

	token, expires, err := s.tokens.IssuePasswordReset(user.ID)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	s.sendMail(ctx, "reset-password", user.Email, func(ctx context.Context) error {
		return s.mailer.SendResetPassword(ctx, user.Email, token, expires)
	})
	return nil
}

// ResetPassword sets a new password and revokes every session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, hash, password string) (err error) {
	defer func() { s.metrics.AuthEvent(eventReset, err) }()

	claims, err := s.tokens.VerifyPasswordReset(hash)
	if err != nil {
		return apperr.ErrInvalidHash.WithCause(err)
	}

	err = s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		user, err := repos.Users().GetByID(ctx, claims.UserID)
		if err != nil {
			return err
		}
		digest, err := s.hasher.Hash(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = digest

		if err := ignoreNoSessions(repos.Sessions().DeleteAllForUser(ctx, user.ID)); err != nil {
			return err
		}
		_, err = repos.Users().Update(ctx, user)
		return err
	})
	if err != nil {
		return translate(err)
	}

	s.logger(ctx).Info().Str("user_id", claims.UserID).Msg("password reset, sessions revoked")
	return nil
}

// Refresh redeems a refresh token. The session hash is rotated with a
// compare-and-set, so a token can be redeemed once.
func (s *AuthService) Refresh(ctx context.Context, ident models.RefreshIdentity) (pair TokenPair, err error) {
	defer func() { s.metrics.AuthEvent(eventRefresh, err) }()

	err = s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		session, err := repos.Sessions().FindLive(ctx, ident.SessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return apperr.ErrSessionInvalid.WithCause(err)
			}
			return err
		}
		if !security.HashesEqual(session.Hash, ident.Hash) {
			return apperr.ErrInvalidRefresh
		}

		user, err := repos.Users().GetByID(ctx, session.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return apperr.ErrRoleNotFound.WithCause(err)
			}
			return err
		}
		if user.Role == "" {
			return apperr.ErrRoleNotFound
		}

		next, err := security.NewSessionHash()
		if err != nil {
			return err
		}
		if _, err := repos.Sessions().RotateHash(ctx, session.ID, ident.Hash, next); err != nil {
			switch {
			case errors.Is(err, repository.ErrHashMismatch):
				return apperr.ErrInvalidRefresh.WithCause(err)
			case errors.Is(err, repository.ErrSessionNotFound):
				return apperr.ErrSessionInvalid.WithCause(err)
			}
			return err
		}

		pair, err = s.issuePair(user, session.ID, next)
		return err
	})
	if err != nil {
		return TokenPair{}, translate(err)
	}
	return pair, nil
}

// Logout revokes the caller's session only.
func (s *AuthService) Logout(ctx context.Context, ident models.Identity) (err error) {
	defer func() { s.metrics.AuthEvent(eventLogout, err) }()

	if err := s.store.Sessions().DeleteOne(ctx, ident.SessionID); err != nil {
		return translate(err)
	}
	return nil
}

func (s *AuthService) Me(ctx context.Context, ident models.Identity) (models.User, error) {
	user, err := s.store.Users().GetByID(ctx, ident.UserID)
	if err != nil {
		return models.User{}, translate(err)
	}
	return user.Public(), nil
}

// UpdateInput carries a partial profile update; nil fields are left alone.
// An empty PhotoID clears the photo.
type UpdateInput struct {
	Name        *string
	PhotoID     *string
	Email       *string
	Password    *string
	OldPassword *string
}

// Update applies a profile change. A password change revokes every other
// session of the user. An email change deactivates the account until the new
// address is confirmed; the current address stays in place until then.
func (s *AuthService) Update(ctx context.Context, ident models.Identity, input UpdateInput) (models.User, error) {
	var (
		updated      models.User
		pendingEmail string
		passwordSet  bool
	)
	err := s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		user, err := repos.Users().GetByID(ctx, ident.UserID)
		if err != nil {
			return err
		}

		if input.Name != nil {
			user.Name = strings.TrimSpace(*input.Name)
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

		if input.Password != nil {
			if input.OldPassword == nil || *input.OldPassword == "" {
				return apperr.ErrOldPasswordNeeded
			}
			if !user.HasPassword() {
				return apperr.ErrIncorrectOldPass
			}
			ok, err := s.hasher.Verify(*input.OldPassword, user.PasswordHash)
			if err != nil {
				return fmt.Errorf("verify password: %w", err)
			}
			if !ok {
				return apperr.ErrIncorrectOldPass
			}
			digest, err := s.hasher.Hash(*input.Password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user.PasswordHash = digest
			passwordSet = true
		}

		if input.Email != nil {
			email := normalizeEmail(*input.Email)
			if email != "" && email != user.Email {
				taken, err := repos.Users().EmailTaken(ctx, email, user.ID)
				if err != nil {
					return err
				}
				if taken {
					return apperr.ErrEmailExists
				}
				user.Status = models.UserStatusInactive
				pendingEmail = email
			}
		}

		updated, err = repos.Users().Update(ctx, user)
		if err != nil {
			return err
		}

		if passwordSet {
			return ignoreNoSessions(repos.Sessions().DeleteAllForUserExcept(ctx, user.ID, ident.SessionID))
		}
		return nil
	})
	if err != nil {
		return models.User{}, translate(err)
	}

	if pendingEmail != "" {
		token, _, err := s.tokens.IssueConfirmEmail(updated.ID, pendingEmail)
		if err != nil {
			s.logger(ctx).Error().Err(err).Str("user_id", updated.ID).Msg("issue confirm new email token failed")
		} else {
			s.sendMail(ctx, "confirm-new-email", pendingEmail, func(ctx context.Context) error {
				return s.mailer.SendConfirmNewEmail(ctx, pendingEmail, token)
			})
		}
	}

	return updated.Public(), nil
}

// Delete soft-deletes the account and revokes all of its sessions.
func (s *AuthService) Delete(ctx context.Context, ident models.Identity) error {
	err := s.store.Transact(ctx, func(ctx context.Context, repos Repositories) error {
		if err := repos.Users().SoftDelete(ctx, ident.UserID); err != nil {
			return err
		}
		return ignoreNoSessions(repos.Sessions().DeleteAllForUser(ctx, ident.UserID))
	})
	return translate(err)
}

type SessionView struct {
	models.Session
	Current bool
}

func (s *AuthService) ListSessions(ctx context.Context, ident models.Identity) ([]SessionView, error) {
	sessions, err := s.store.Sessions().ListLiveByUser(ctx, ident.UserID)
	if err != nil {
		return nil, translate(err)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{Session: session, Current: session.ID == ident.SessionID})
	}
	return views, nil
}

// RevokeSession deletes one of the caller's own sessions. Ids of other users'
// sessions behave as unknown ids.
func (s *AuthService) RevokeSession(ctx context.Context, ident models.Identity, sessionID string) error {
	return translate(s.store.Sessions().DeleteOwned(ctx, ident.UserID, sessionID))
}

func (s *AuthService) RevokeOtherSessions(ctx context.Context, ident models.Identity) error {
	return translate(s.store.Sessions().DeleteAllForUserExcept(ctx, ident.UserID, ident.SessionID))
}

// RevokeUserSessions signs a user out everywhere.
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) error {
	if _, err := s.store.Users().GetByID(ctx, userID); err != nil {
		return translate(err)
	}
	if err := s.store.Sessions().DeleteAllForUser(ctx, userID); err != nil {
		return translate(err)
	}
	s.logger(ctx).Info().Str("target_user_id", userID).Msg("all sessions revoked")
	return nil
}

func (s *AuthService) issuePair(user models.User, sessionID, hash string) (TokenPair, error) {
	access, expires, err := s.tokens.IssueAccess(user.ID, string(user.Role), sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, _, err := s.tokens.IssueRefresh(sessionID, hash)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenExpires: expires}, nil
}

// sendMail enqueues outbound mail detached from the request's cancellation.
// Failures are logged and counted, never returned.
func (s *AuthService) sendMail(ctx context.Context, template, to string, send func(ctx context.Context) error) {
	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
	defer cancel()

	err := send(mailCtx)
	s.metrics.MailEnqueued(template, err)
	if err != nil {
		s.logger(ctx).Error().
			Err(err).
			Str("template", template).
			Str("to", log.RedactEmail(to)).
			Msg("enqueue mail failed")
	}
}

func (s *AuthService) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ignoreNoSessions(err error) error {
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil
	}
	return err
}

// translate maps repository sentinels onto the public taxonomy. Errors that
// already carry an apperr code pass through; anything else stays internal.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return apperr.ErrUserNotFound.WithCause(err)
	case errors.Is(err, repository.ErrEmailTaken):
		return apperr.ErrEmailExists.WithCause(err)
	case errors.Is(err, repository.ErrSessionNotFound):
		return apperr.ErrSessionNotFound.WithCause(err)
	case errors.Is(err, repository.ErrFileNotFound):
		return apperr.ErrImageNotFound.WithCause(err)
	}
	return err
}
