package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

const (
	identityKey        = "identity"
	refreshIdentityKey = "refresh_identity"
)

type AccessVerifier interface {
	VerifyAccess(token string) (*security.AccessClaims, error)
}

type RefreshVerifier interface {
	VerifyRefresh(token string) (*security.RefreshClaims, error)
}

type SessionFinder interface {
	FindLive(ctx context.Context, id string) (models.Session, error)
}

// AccessGuard authenticates a bearer access token against a live session
// owned by the token's subject.
func AccessGuard(tokens AccessVerifier, sessions SessionFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			AbortWithError(c, apperr.ErrMissingToken)
			return
		}

		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			AbortWithError(c, tokenError(err))
			return
		}

		ctx := c.Request.Context()
		session, err := sessions.FindLive(ctx, claims.SessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				err = apperr.ErrSessionInvalid.WithCause(err)
			}
			AbortWithError(c, err)
			return
		}
		if session.UserID != claims.UserID {
			AbortWithError(c, apperr.ErrSessionMismatch)
			return
		}

		c.Set(identityKey, models.Identity{
			UserID:    claims.UserID,
			SessionID: claims.SessionID,
			Role:      models.UserRole(claims.Role),
		})

		l := zerolog.Ctx(ctx).With().
			Str("user_id", claims.UserID).
			Str("session_id", claims.SessionID).
			Logger()
		c.Request = c.Request.WithContext(l.WithContext(ctx))

		c.Next()
	}
}

// RefreshGuard authenticates a bearer refresh token. The session itself is
// checked by the refresh operation.
func RefreshGuard(tokens RefreshVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			AbortWithError(c, apperr.ErrMissingToken)
			return
		}

		claims, err := tokens.VerifyRefresh(token)
		if err != nil {
			AbortWithError(c, tokenError(err))
			return
		}
		if claims.SessionID == "" {
			AbortWithError(c, apperr.ErrInvalidToken)
			return
		}

		c.Set(refreshIdentityKey, models.RefreshIdentity{SessionID: claims.SessionID, Hash: claims.Hash})
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	ident, ok := v.(models.Identity)
	return ident, ok
}

func RefreshIdentityFrom(c *gin.Context) (models.RefreshIdentity, bool) {
	v, ok := c.Get(refreshIdentityKey)
	if !ok {
		return models.RefreshIdentity{}, false
	}
	ident, ok := v.(models.RefreshIdentity)
	return ident, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func tokenError(err error) error {
	if errors.Is(err, security.ErrTokenExpired) {
		return apperr.ErrTokenExpired.WithCause(err)
	}
	return apperr.ErrInvalidToken.WithCause(err)
}
