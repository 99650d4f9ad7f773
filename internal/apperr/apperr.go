// Package apperr defines the error taxonomy returned by the auth core.
//
// Every business failure carries a Kind, which picks the HTTP status, and a
// stable machine-readable Code that clients branch on. Message is safe to show
// to end users. Err keeps the underlying cause for logs only.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindUnprocessable
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnprocessable:
		return "unprocessable"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so a copy with a different message or cause still
// satisfies errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e that wraps err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage returns a copy of e with a different user-facing message.
func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

// From extracts the first *Error in err's chain. Anything else is reported as
// an internal error that wraps err.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

func KindOf(err error) Kind {
	return From(err).Kind
}

var (
	ErrInternal = New(KindInternal, "internal_server_error", "Internal server error")

	ErrUserNotFound      = New(KindNotFound, "user_not_found", "User not found")
	ErrSessionNotFound   = New(KindNotFound, "session_not_found", "Session not found")
	ErrEmailExists       = New(KindConflict, "email_already_exists", "User with this email already exists")
	ErrProviderMismatch  = New(KindUnprocessable, "login_via_provider_required", "Login via provider required")
	ErrPasswordNotSet    = New(KindUnprocessable, "password_required", "Password is not set for this account")
	ErrIncorrectPassword = New(KindUnprocessable, "incorrect_password", "Incorrect password")
	ErrInvalidHash       = New(KindUnprocessable, "invalid_hash", "Invalid hash")
	ErrOldPasswordNeeded = New(KindUnprocessable, "old_password_required", "Old password is required")
	ErrIncorrectOldPass  = New(KindUnprocessable, "incorrect_old_password", "Incorrect old password")
	ErrImageNotFound     = New(KindUnprocessable, "image_not_found", "Image not found")
	ErrUnsupportedFile   = New(KindUnprocessable, "unsupported_file_type", "Unsupported file type")
	ErrFileTooLarge      = New(KindUnprocessable, "file_too_large", "File is too large")
	ErrValidation        = New(KindUnprocessable, "validation_failed", "Validation failed")
	ErrRoleNotExists     = New(KindUnprocessable, "role_not_exists", "Role does not exist")
	ErrStatusNotExists   = New(KindUnprocessable, "status_not_exists", "Status does not exist")

	ErrMissingToken      = New(KindUnauthorized, "missing_token", "Bearer token is required")
	ErrInvalidToken      = New(KindUnauthorized, "invalid_token", "Invalid token")
	ErrTokenExpired      = New(KindUnauthorized, "token_expired", "Token expired")
	ErrSessionInvalid    = New(KindUnauthorized, "session_not_found", "Invalid session")
	ErrSessionMismatch   = New(KindUnauthorized, "session_mismatch", "Session does not belong to the token owner")
	ErrInvalidRefresh    = New(KindUnauthorized, "invalid_hash", "Invalid refresh token")
	ErrRoleNotFound      = New(KindUnauthorized, "role_not_found", "User role not found")
	ErrForbidden         = New(KindForbidden, "forbidden", "Insufficient role")
)

// ProviderMismatch names the provider the account has to sign in with.
func ProviderMismatch(provider string) *Error {
	return ErrProviderMismatch.WithMessage("Login via " + provider + " required")
}
