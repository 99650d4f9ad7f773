package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/apperr"
	"authgate/internal/config"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAuth answers with the configured function, or errNotConfigured when unset.
type fakeAuth struct {
	login        func(service.LoginInput) (service.LoginResult, error)
	register     func(service.RegisterInput) (models.User, error)
	confirm      func(string) error
	refresh      func(models.RefreshIdentity) (service.TokenPair, error)
	logout       func(models.Identity) error
	update       func(models.Identity, service.UpdateInput) (models.User, error)
	listSessions func(models.Identity) ([]service.SessionView, error)
	revokeUser   func(string) error
}

var errNotConfigured = errors.New("not configured")

func (f *fakeAuth) Login(_ context.Context, in service.LoginInput) (service.LoginResult, error) {
	if f.login == nil {
		return service.LoginResult{}, errNotConfigured
	}
	return f.login(in)
}

func (f *fakeAuth) Register(_ context.Context, in service.RegisterInput) (models.User, error) {
	if f.register == nil {
		return models.User{}, errNotConfigured
	}
	return f.register(in)
}

func (f *fakeAuth) ConfirmEmail(_ context.Context, hash string) error {
	if f.confirm == nil {
		return errNotConfigured
	}
	return f.confirm(hash)
}

func (f *fakeAuth) ConfirmNewEmail(context.Context, string) error { return errNotConfigured }

func (f *fakeAuth) ForgotPassword(context.Context, string) error { return apperr.ErrUserNotFound }

func (f *fakeAuth) ResetPassword(context.Context, string, string) error { return errNotConfigured }

func (f *fakeAuth) Me(context.Context, models.Identity) (models.User, error) {
	return models.User{}, errNotConfigured
}

func (f *fakeAuth) Delete(context.Context, models.Identity) error { return errNotConfigured }

func (f *fakeAuth) Refresh(_ context.Context, ident models.RefreshIdentity) (service.TokenPair, error) {
	if f.refresh == nil {
		return service.TokenPair{}, errNotConfigured
	}
	return f.refresh(ident)
}

func (f *fakeAuth) Logout(_ context.Context, ident models.Identity) error {
	if f.logout == nil {
		return errNotConfigured
	}
	return f.logout(ident)
}

func (f *fakeAuth) Update(_ context.Context, ident models.Identity, in service.UpdateInput) (models.User, error) {
	if f.update == nil {
		return models.User{}, errNotConfigured
	}
	return f.update(ident, in)
}

func (f *fakeAuth) ListSessions(_ context.Context, ident models.Identity) ([]service.SessionView, error) {
	if f.listSessions == nil {
		return nil, errNotConfigured
	}
	return f.listSessions(ident)
}

func (f *fakeAuth) RevokeSession(context.Context, models.Identity, string) error {
	return apperr.ErrSessionNotFound
}

func (f *fakeAuth) RevokeOtherSessions(context.Context, models.Identity) error { return nil }

func (f *fakeAuth) RevokeUserSessions(_ context.Context, userID string) error {
	if f.revokeUser == nil {
		return errNotConfigured
	}
	return f.revokeUser(userID)
}

type fakeFiles struct {
	upload func(service.UploadInput) (service.FileResult, error)
}

func (f *fakeFiles) Upload(_ context.Context, in service.UploadInput) (service.FileResult, error) {
	return f.upload(in)
}

func (f *fakeFiles) Get(context.Context, models.Identity, string) (service.FileResult, error) {
	return service.FileResult{}, apperr.ErrImageNotFound
}

type sessionMap map[string]models.Session

func (m sessionMap) FindLive(_ context.Context, id string) (models.Session, error) {
	s, ok := m[id]
	if !ok {
		return models.Session{}, repository.ErrSessionNotFound
	}
	return s, nil
}

type testAPI struct {
	router *gin.Engine
	codec  *security.TokenCodec
	auth   *fakeAuth
	users  *fakeUsers
	files  *fakeFiles
}

func newTestAPI(t *testing.T, checks map[string]HealthCheck) *testAPI {
	t.Helper()
	codec, err := security.NewTokenCodec(config.AuthConfig{
		AccessSecret:       "a",
		RefreshSecret:      "r",
		ConfirmEmailSecret: "c",
		ForgotSecret:       "f",
		AccessTTL:          time.Hour,
		RefreshTTL:         time.Hour,
		ConfirmEmailTTL:    time.Hour,
		ForgotTTL:          time.Hour,
	})
	require.NoError(t, err)

	auth := &fakeAuth{}
	users := &fakeUsers{}
	files := &fakeFiles{}
	cfg := &config.AppConfig{Environment: "test", Storage: config.StorageConfig{MaxUploadBytes: 1 << 10}}
	set := NewHandlerSet(zerolog.Nop(), cfg, Dependencies{
		Auth:     auth,
		Users:    users,
		Files:    files,
		Tokens:   codec,
		Sessions: sessionMap{
			"s-1": {ID: "s-1", UserID: "u-1"},
			"s-2": {ID: "s-2", UserID: "admin-1"},
		},
		Checks: checks,
	})

	router := gin.New()
	set.Register(router.Group("/api"))
	return &testAPI{router: router, codec: codec, auth: auth, users: users, files: files}
}

func (a *testAPI) accessToken(t *testing.T, userID, role, sessionID string) string {
	t.Helper()
	token, _, err := a.codec.IssueAccess(userID, role, sessionID)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		StatusCode int    `json:"statusCode"`
		Success    bool   `json:"success"`
		Error      string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, rec.Code, body.StatusCode)
	assert.False(t, body.Success)
	return body.Error
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t, nil)
	expires := time.UnixMilli(1714567890123)
	api.auth.login = func(in service.LoginInput) (service.LoginResult, error) {
		if in.Password != "Secret1!" {
			return service.LoginResult{}, apperr.ErrIncorrectPassword
		}
		return service.LoginResult{
			TokenPair: service.TokenPair{AccessToken: "at", RefreshToken: "rt", TokenExpires: expires},
			User:      models.User{ID: "u-1", Email: in.Email, Role: models.UserRoleUser, Status: models.UserStatusActive, Provider: "email"},
		}, nil
	}

	rec := api.do(http.MethodPost, "/api/v1/auth/email/login", "", gin.H{"email": "a@x.com", "password": "Secret1!"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "at", body["accessToken"])
	assert.Equal(t, "rt", body["refreshToken"])
	assert.EqualValues(t, 1714567890123, body["tokenExpires"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "u-1", user["id"])
	assert.NotContains(t, user, "passwordHash")

	rec = api.do(http.MethodPost, "/api/v1/auth/email/login", "", gin.H{"email": "a@x.com", "password": "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "incorrect_password", errorCode(t, rec))
}

func TestValidationFailsBeforeCore(t *testing.T) {
	api := newTestAPI(t, nil)
	called := false
	api.auth.register = func(service.RegisterInput) (models.User, error) {
		called = true
		return models.User{}, nil
	}

	for _, body := range []gin.H{
		{"email": "not-an-email", "password": "Secret1!"},
		{"email": "a@x.com", "password": "123"},
		{"password": "Secret1!"},
	} {
		rec := api.do(http.MethodPost, "/api/v1/auth/email/register", "", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "validation_failed", errorCode(t, rec))
	}
	assert.False(t, called)
}

func TestRegister(t *testing.T) {
	api := newTestAPI(t, nil)
	api.auth.register = func(in service.RegisterInput) (models.User, error) {
		if in.Email == "taken@x.com" {
			return models.User{}, apperr.ErrEmailExists
		}
		return models.User{ID: "u-2", Email: in.Email, Name: in.Name, Status: models.UserStatusInactive}, nil
	}

	rec := api.do(http.MethodPost, "/api/v1/auth/email/register", "", gin.H{"email": "b@x.com", "password": "Secret1!", "name": "Bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"inactive"`)

	rec = api.do(http.MethodPost, "/api/v1/auth/email/register", "", gin.H{"email": "taken@x.com", "password": "Secret1!"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email_already_exists", errorCode(t, rec))
}

func TestConfirmEmail(t *testing.T) {
	api := newTestAPI(t, nil)
	api.auth.confirm = func(hash string) error {
		if hash != "good" {
			return apperr.ErrInvalidHash
		}
		return nil
	}

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/api/v1/auth/email/confirm", "", gin.H{"hash": "good"}).Code)

	rec := api.do(http.MethodPost, "/api/v1/auth/email/confirm", "", gin.H{"hash": "bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_hash", errorCode(t, rec))
}

func TestForgotPassword_UnknownUser(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(http.MethodPost, "/api/v1/auth/forgot/password", "", gin.H{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user_not_found", errorCode(t, rec))
}

func TestRefresh(t *testing.T) {
	api := newTestAPI(t, nil)
	api.auth.refresh = func(ident models.RefreshIdentity) (service.TokenPair, error) {
		if ident.Hash != "h1" {
			return service.TokenPair{}, apperr.ErrInvalidRefresh
		}
		return service.TokenPair{AccessToken: "at2", RefreshToken: "rt2", TokenExpires: time.UnixMilli(42)}, nil
	}

	good, _, err := api.codec.IssueRefresh("s-1", "h1")
	require.NoError(t, err)
	stale, _, err := api.codec.IssueRefresh("s-1", "h0")
	require.NoError(t, err)

	rec := api.do(http.MethodPost, "/api/v1/auth/refresh", good, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accessToken":"at2","refreshToken":"rt2","tokenExpires":42}`, rec.Body.String())

	rec = api.do(http.MethodPost, "/api/v1/auth/refresh", stale, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_hash", errorCode(t, rec))

	access := api.accessToken(t, "u-1", "user", "s-1")
	rec = api.do(http.MethodPost, "/api/v1/auth/refresh", access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rec))
}

func TestLogout(t *testing.T) {
	api := newTestAPI(t, nil)
	var got models.Identity
	api.auth.logout = func(ident models.Identity) error {
		got = ident
		return nil
	}

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/v1/auth/logout", "", nil).Code)

	rec := api.do(http.MethodPost, "/api/v1/auth/logout", api.accessToken(t, "u-1", "user", "s-1"), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.Identity{UserID: "u-1", SessionID: "s-1", Role: models.UserRoleUser}, got)
}

func TestUpdateMe(t *testing.T) {
	api := newTestAPI(t, nil)
	api.auth.update = func(_ models.Identity, in service.UpdateInput) (models.User, error) {
		require.NotNil(t, in.Name)
		assert.Nil(t, in.Email)
		if in.Password != nil && in.OldPassword == nil {
			return models.User{}, apperr.ErrOldPasswordNeeded
		}
		return models.User{ID: "u-1", Name: *in.Name}, nil
	}
	token := api.accessToken(t, "u-1", "user", "s-1")

	rec := api.do(http.MethodPatch, "/api/v1/auth/me", token, gin.H{"name": "New"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"New"`)

	rec = api.do(http.MethodPatch, "/api/v1/auth/me", token, gin.H{"name": "New", "password": "Secret2!"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "old_password_required", errorCode(t, rec))

	rec = api.do(http.MethodPatch, "/api/v1/auth/me", token, gin.H{"email": "nope"})
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestSessions(t *testing.T) {
	api := newTestAPI(t, nil)
	api.auth.listSessions = func(ident models.Identity) ([]service.SessionView, error) {
		return []service.SessionView{
			{Session: models.Session{ID: "s-1"}, Current: true},
			{Session: models.Session{ID: "s-3"}},
		}, nil
	}
	token := api.accessToken(t, "u-1", "user", "s-1")

	rec := api.do(http.MethodGet, "/api/v1/auth/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 2)
	assert.True(t, body.Sessions[0].Current)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/v1/auth/sessions/others", token, nil).Code)

	rec = api.do(http.MethodDelete, "/api/v1/auth/sessions/s-9", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session_not_found", errorCode(t, rec))
}

func TestAdminRevokeUserSessions(t *testing.T) {
	api := newTestAPI(t, nil)
	var target string
	api.auth.revokeUser = func(userID string) error {
		target = userID
		return nil
	}

	rec := api.do(http.MethodDelete, "/api/v1/admin/users/u-1/sessions", api.accessToken(t, "u-1", "user", "s-1"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, target)

	rec = api.do(http.MethodDelete, "/api/v1/admin/users/u-1/sessions", api.accessToken(t, "admin-1", "admin", "s-2"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-1", target)
}

func TestUnknownErrorIsInternal(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(http.MethodPost, "/api/v1/auth/reset/password", "", gin.H{"hash": "h", "password": "Secret1!"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_server_error", errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), errNotConfigured.Error())
}

func multipartBody(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="a.png"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	api := newTestAPI(t, nil)
	api.files.upload = func(in service.UploadInput) (service.FileResult, error) {
		assert.Equal(t, "u-1", in.Owner.UserID)
		assert.Equal(t, "image/png", in.DeclaredMIME)
		data, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		return service.FileResult{
			File: models.File{ID: "f-1", MimeType: "image/png", SizeBytes: int64(len(data))},
			URL:  "https://cdn.example/f-1",
		}, nil
	}

	body, contentType := multipartBody(t, "image/png", []byte("\x89PNG\r\n\x1a\n"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+api.accessToken(t, "u-1", "user", "s-1"))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"url":"https://cdn.example/f-1"`)
	assert.Contains(t, rec.Body.String(), `"sizeBytes":8`)
}

func TestUploadFile_MissingPart(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(http.MethodPost, "/api/v1/files/upload", api.accessToken(t, "u-1", "user", "s-1"), gin.H{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestGetFile_NotOwned(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(http.MethodGet, "/api/v1/files/f-1", api.accessToken(t, "u-1", "user", "s-1"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "image_not_found", errorCode(t, rec))
}

func TestHealth(t *testing.T) {
	healthy := newTestAPI(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	})
	rec := healthy.do(http.MethodGet, "/api/v1/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok","redis":"ok"},"environment":"test"}`, rec.Body.String())

	degraded := newTestAPI(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	rec = degraded.do(http.MethodGet, "/api/v1/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"error"`)
}
