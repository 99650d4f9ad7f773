package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authgate/internal/config"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

type TokenKind string

const (
	TokenAccess        TokenKind = "access"
	TokenRefresh       TokenKind = "refresh"
	TokenConfirmEmail  TokenKind = "confirm_email"
	TokenPasswordReset TokenKind = "password_reset"
)

type AccessClaims struct {
	UserID    string `json:"id"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	SessionID string `json:"sessionId"`
	Hash      string `json:"hash"`
	jwt.RegisteredClaims
}

type ConfirmEmailClaims struct {
	UserID   string `json:"confirmEmailUserId"`
	NewEmail string `json:"newEmail,omitempty"`
	jwt.RegisteredClaims
}

type PasswordResetClaims struct {
	UserID string `json:"forgotUserId"`
	jwt.RegisteredClaims
}

type signingKey struct {
	secret []byte
	ttl    time.Duration
}

// TokenCodec signs and verifies the four token kinds. Each kind has its own
// secret and lifetime, so a leaked secret only forges tokens of that kind.
type TokenCodec struct {
	keys   map[TokenKind]signingKey
	method jwt.SigningMethod
	now    func() time.Time
}

type TokenCodecOption func(*TokenCodec)

// WithClock replaces time.Now for both issuing and verifying.
func WithClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

func NewTokenCodec(cfg config.AuthConfig, opts ...TokenCodecOption) (*TokenCodec, error) {
	keys := map[TokenKind]signingKey{
		TokenAccess:        {secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
		TokenRefresh:       {secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		TokenConfirmEmail:  {secret: []byte(cfg.ConfirmEmailSecret), ttl: cfg.ConfirmEmailTTL},
		TokenPasswordReset: {secret: []byte(cfg.ForgotSecret), ttl: cfg.ForgotTTL},
	}
	for kind, key := range keys {
		if len(key.secret) == 0 {
			return nil, fmt.Errorf("token codec: empty secret for %s tokens", kind)
		}
		if key.ttl <= 0 {
			return nil, fmt.Errorf("token codec: non-positive ttl for %s tokens", kind)
		}
	}

	codec := &TokenCodec{
		keys:   keys,
		method: jwt.SigningMethodHS512,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(codec)
	}
	return codec, nil
}

// TTL returns the configured lifetime of a token kind.
func (c *TokenCodec) TTL(kind TokenKind) time.Duration {
	return c.keys[kind].ttl
}

func (c *TokenCodec) IssueAccess(userID, role, sessionID string) (string, time.Time, error) {
	claims := &AccessClaims{UserID: userID, Role: role, SessionID: sessionID}
	return c.issue(TokenAccess, claims, &claims.RegisteredClaims)
}

func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(TokenAccess, token, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: access token without subject or session", ErrTokenInvalid)
	}
	return claims, nil
}

func (c *TokenCodec) IssueRefresh(sessionID, hash string) (string, time.Time, error) {
	claims := &RefreshClaims{SessionID: sessionID, Hash: hash}
	return c.issue(TokenRefresh, claims, &claims.RegisteredClaims)
}

// VerifyRefresh checks signature and expiry only; a missing session id is the
// caller's decision to reject.
func (c *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(TokenRefresh, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *TokenCodec) IssueConfirmEmail(userID, newEmail string) (string, time.Time, error) {
	claims := &ConfirmEmailClaims{UserID: userID, NewEmail: newEmail}
	return c.issue(TokenConfirmEmail, claims, &claims.RegisteredClaims)
}

func (c *TokenCodec) VerifyConfirmEmail(token string) (*ConfirmEmailClaims, error) {
	claims := &ConfirmEmailClaims{}
	if err := c.verify(TokenConfirmEmail, token, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: confirm token without user", ErrTokenInvalid)
	}
	return claims, nil
}

func (c *TokenCodec) IssuePasswordReset(userID string) (string, time.Time, error) {
	claims := &PasswordResetClaims{UserID: userID}
	return c.issue(TokenPasswordReset, claims, &claims.RegisteredClaims)
}

func (c *TokenCodec) VerifyPasswordReset(token string) (*PasswordResetClaims, error) {
	claims := &PasswordResetClaims{}
	if err := c.verify(TokenPasswordReset, token, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: reset token without user", ErrTokenInvalid)
	}
	return claims, nil
}

func (c *TokenCodec) issue(kind TokenKind, claims jwt.Claims, registered *jwt.RegisteredClaims) (string, time.Time, error) {
	key := c.keys[kind]
	now := c.now()
	expiresAt := now.Add(key.ttl)

	registered.IssuedAt = jwt.NewNumericDate(now)
	registered.ExpiresAt = jwt.NewNumericDate(expiresAt)
	registered.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(key.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

func (c *TokenCodec) verify(kind TokenKind, token string, claims jwt.Claims) error {
	key := c.keys[kind]
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return key.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %s token", ErrTokenExpired, kind)
		}
		return fmt.Errorf("%w: %s token: %v", ErrTokenInvalid, kind, err)
	}
	if !parsed.Valid {
		return fmt.Errorf("%w: %s token", ErrTokenInvalid, kind)
	}
	return nil
}
