package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/apperr"
	"authgate/internal/models"
	"authgate/internal/service"
)

type fakeUsers struct {
	list   func(service.ListUsersInput) (service.UserPage, error)
	create func(service.CreateUserInput) (models.User, error)
	update func(string, service.AdminUpdateInput) (models.User, error)
	del    func(string) error
}

func (f *fakeUsers) List(_ context.Context, in service.ListUsersInput) (service.UserPage, error) {
	if f.list == nil {
		return service.UserPage{}, errNotConfigured
	}
	return f.list(in)
}

func (f *fakeUsers) Get(_ context.Context, id string) (models.User, error) {
	if id == "u-1" {
		return models.User{ID: "u-1", Email: "a@x.com", Status: models.UserStatusActive}, nil
	}
	return models.User{}, apperr.ErrUserNotFound
}

func (f *fakeUsers) Create(_ context.Context, in service.CreateUserInput) (models.User, error) {
	if f.create == nil {
		return models.User{}, errNotConfigured
	}
	return f.create(in)
}

func (f *fakeUsers) Update(_ context.Context, id string, in service.AdminUpdateInput) (models.User, error) {
	if f.update == nil {
		return models.User{}, errNotConfigured
	}
	return f.update(id, in)
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	if f.del == nil {
		return errNotConfigured
	}
	return f.del(id)
}

func (a *testAPI) adminToken(t *testing.T) string {
	return a.accessToken(t, "admin-1", "admin", "s-2")
}

func TestAdminUsers_RequireAdminRole(t *testing.T) {
	api := newTestAPI(t, nil)
	userToken := api.accessToken(t, "u-1", "user", "s-1")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/admin/users"},
		{http.MethodPost, "/api/v1/admin/users"},
		{http.MethodGet, "/api/v1/admin/users/u-1"},
		{http.MethodPatch, "/api/v1/admin/users/u-1"},
		{http.MethodDelete, "/api/v1/admin/users/u-1"},
	} {
		assert.Equal(t, http.StatusUnauthorized, api.do(tc.method, tc.path, "", nil).Code, tc.path)
		assert.Equal(t, http.StatusForbidden, api.do(tc.method, tc.path, userToken, nil).Code, tc.path)
	}
}

func TestAdminListUsers(t *testing.T) {
	api := newTestAPI(t, nil)
	var got service.ListUsersInput
	api.users.list = func(in service.ListUsersInput) (service.UserPage, error) {
		got = in
		return service.UserPage{
			Users:      []models.User{{ID: "u-3", Email: "c@x.com", Status: models.UserStatusBanned}},
			Total:      5,
			Page:       2,
			Limit:      2,
			TotalPages: 3,
		}, nil
	}

	rec := api.do(http.MethodGet, "/api/v1/admin/users?page=2&limit=2&search=x.com&sort=email:DESC", api.adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, service.ListUsersInput{Page: 2, Limit: 2, Search: "x.com", Sort: models.UserSortEmail, Desc: true}, got)

	var body struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			TotalCount  int `json:"totalCount"`
			CurrentPage int `json:"currentPage"`
			TotalPages  int `json:"totalPages"`
			PageSize    int `json:"pageSize"`
			Sorting     struct {
				Field string `json:"field"`
				Order string `json:"order"`
			} `json:"sorting"`
		} `json:"pagination"`
		Links map[string]string `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Len(t, body.Data, 1)
	assert.Equal(t, "banned", body.Data[0]["status"])
	assert.NotContains(t, body.Data[0], "passwordHash")
	assert.Equal(t, 5, body.Pagination.TotalCount)
	assert.Equal(t, 3, body.Pagination.TotalPages)
	assert.Equal(t, "email", body.Pagination.Sorting.Field)
	assert.Equal(t, "desc", body.Pagination.Sorting.Order)

	assert.Equal(t, "/api/v1/admin/users?limit=2&page=1&search=x.com&sort=email%3ADESC", body.Links["first"])
	assert.Equal(t, "/api/v1/admin/users?limit=2&page=1&search=x.com&sort=email%3ADESC", body.Links["prev"])
	assert.Equal(t, "/api/v1/admin/users?limit=2&page=3&search=x.com&sort=email%3ADESC", body.Links["next"])
	assert.Equal(t, "/api/v1/admin/users?limit=2&page=3&search=x.com&sort=email%3ADESC", body.Links["last"])
}

func TestAdminListUsers_RejectsBadQuery(t *testing.T) {
	api := newTestAPI(t, nil)
	api.users.list = func(service.ListUsersInput) (service.UserPage, error) {
		t.Fatal("list must not be called")
		return service.UserPage{}, nil
	}

	for _, q := range []string{"?sort=password", "?sort=email:sideways", "?page=0", "?limit=500", "?page=abc"} {
		rec := api.do(http.MethodGet, "/api/v1/admin/users"+q, api.adminToken(t), nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
		assert.Equal(t, "validation_failed", errorCode(t, rec), q)
	}
}

func TestAdminGetUser(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(http.MethodGet, "/api/v1/admin/users/u-1", api.adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"a@x.com"`)

	rec = api.do(http.MethodGet, "/api/v1/admin/users/u-9", api.adminToken(t), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user_not_found", errorCode(t, rec))
}

func TestAdminCreateUser(t *testing.T) {
	api := newTestAPI(t, nil)
	api.users.create = func(in service.CreateUserInput) (models.User, error) {
		if in.Role == "root" {
			return models.User{}, apperr.ErrRoleNotExists
		}
		return models.User{ID: "u-7", Email: in.Email, Role: in.Role, Status: in.Status}, nil
	}

	rec := api.do(http.MethodPost, "/api/v1/admin/users", api.adminToken(t),
		gin.H{"email": "n@x.com", "password": "Secret1!", "role": "admin", "status": "active"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"role":"admin"`)

	rec = api.do(http.MethodPost, "/api/v1/admin/users", api.adminToken(t),
		gin.H{"email": "n@x.com", "password": "Secret1!", "role": "root"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "role_not_exists", errorCode(t, rec))

	rec = api.do(http.MethodPost, "/api/v1/admin/users", api.adminToken(t), gin.H{"email": "n@x.com"})
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestAdminUpdateUser_Ban(t *testing.T) {
	api := newTestAPI(t, nil)
	var (
		gotID string
		got   service.AdminUpdateInput
	)
	api.users.update = func(id string, in service.AdminUpdateInput) (models.User, error) {
		gotID, got = id, in
		return models.User{ID: id, Status: *in.Status}, nil
	}

	rec := api.do(http.MethodPatch, "/api/v1/admin/users/u-1", api.adminToken(t), gin.H{"status": "banned"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u-1", gotID)
	require.NotNil(t, got.Status)
	assert.Equal(t, models.UserStatusBanned, *got.Status)
	assert.Nil(t, got.Role)
	assert.Nil(t, got.Name)
}

func TestAdminDeleteUser(t *testing.T) {
	api := newTestAPI(t, nil)
	var deleted string
	api.users.del = func(id string) error {
		if id != "u-1" {
			return apperr.ErrUserNotFound
		}
		deleted = id
		return nil
	}

	rec := api.do(http.MethodDelete, "/api/v1/admin/users/u-1", api.adminToken(t), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-1", deleted)

	rec = api.do(http.MethodDelete, "/api/v1/admin/users/u-9", api.adminToken(t), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPageLinks(t *testing.T) {
	assert.Empty(t, pageLinks("/u", 1, 1, 10, nil))
	assert.Equal(t, map[string]string{
		"next": "/u?limit=10&page=2",
		"last": "/u?limit=10&page=4",
	}, pageLinks("/u", 1, 4, 10, nil))
	assert.Equal(t, map[string]string{
		"first": "/u?limit=10&page=1",
		"prev":  "/u?limit=10&page=4",
	}, pageLinks("/u", 9, 4, 10, nil))
}
