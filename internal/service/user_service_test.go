package service

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/apperr"
	"authgate/internal/config"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/service/mocks"
)

type userFixture struct {
	svc    *UserService
	store  *fakeStore
	hasher *security.PasswordHasher
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	hasher, err := security.NewPasswordHasher(config.PasswordConfig{Algorithm: security.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	store := &fakeStore{
		users:    mocks.NewMockUserRepository(ctrl),
		sessions: mocks.NewMockSessionRepository(ctrl),
		files:    mocks.NewMockFileRepository(ctrl),
	}
	return &userFixture{
		svc:    NewUserService(store, hasher, zerolog.Nop()),
		store:  store,
		hasher: hasher,
	}
}

func userRole(r models.UserRole) *models.UserRole       { return &r }
func userStatus(s models.UserStatus) *models.UserStatus { return &s }

func TestUserService_List(t *testing.T) {
	f := newUserFixture(t)
	f.store.users.EXPECT().Count(gomock.Any(), "ali").Return(23, nil)
	f.store.users.EXPECT().List(gomock.Any(), models.UserQuery{
		Search: "ali",
		Sort:   models.UserSortEmail,
		Desc:   true,
		Limit:  10,
		Offset: 20,
	}).Return([]models.User{{ID: "u-21", PasswordHash: []byte("digest")}}, nil)

	page, err := f.svc.List(context.Background(), ListUsersInput{
		Page: 3, Search: "ali", Sort: models.UserSortEmail, Desc: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 23, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.Users, 1)
	assert.Nil(t, page.Users[0].PasswordHash)
}

func TestUserService_List_ClampsAndStopsPastTheEnd(t *testing.T) {
	f := newUserFixture(t)
	f.store.users.EXPECT().Count(gomock.Any(), "").Return(5, nil)

	page, err := f.svc.List(context.Background(), ListUsersInput{Page: -4, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxPageSize, page.Limit)
	assert.Equal(t, 1, page.TotalPages)

	f.store.users.EXPECT().Count(gomock.Any(), "").Return(5, nil)
	page, err = f.svc.List(context.Background(), ListUsersInput{Page: 2})
	require.NoError(t, err)
	assert.NotNil(t, page.Users)
	assert.Empty(t, page.Users)
}

func TestUserService_Get(t *testing.T) {
	f := newUserFixture(t)
	f.store.users.EXPECT().GetByID(gomock.Any(), "gone").Return(models.User{}, repository.ErrUserNotFound)

	_, err := f.svc.Get(context.Background(), "gone")
	requireAppErr(t, err, apperr.ErrUserNotFound)
}

func TestUserService_Create(t *testing.T) {
	f := newUserFixture(t)
	f.store.users.EXPECT().EmailTaken(gomock.Any(), "new@x.com", "").Return(false, nil)
	f.store.users.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u models.User) (models.User, error) {
			assert.Equal(t, "new@x.com", u.Email)
			assert.Equal(t, models.UserRoleUser, u.Role)
			assert.Equal(t, models.UserStatusActive, u.Status)
			assert.Equal(t, models.ProviderEmail, u.Provider)
			ok, err := f.hasher.Verify("Secret1!", u.PasswordHash)
			require.NoError(t, err)
			assert.True(t, ok)
			return u, nil
		})

	user, err := f.svc.Create(context.Background(), CreateUserInput{Email: " New@X.com ", Password: "Secret1!", Name: "Nina"})
	require.NoError(t, err)
	assert.Nil(t, user.PasswordHash)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, 1, f.store.txCount)
}

func TestUserService_Create_Failures(t *testing.T) {
	t.Run("email taken", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().EmailTaken(gomock.Any(), "a@x.com", "").Return(true, nil)

		_, err := f.svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "Secret1!"})
		requireAppErr(t, err, apperr.ErrEmailExists)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "p", Role: "root"})
		requireAppErr(t, err, apperr.ErrRoleNotExists)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "p", Status: "zombie"})
		requireAppErr(t, err, apperr.ErrStatusNotExists)
	})
}

func TestUserService_Update(t *testing.T) {
	existing := models.User{ID: "u-1", Email: "a@x.com", Role: models.UserRoleUser, Status: models.UserStatusActive}

	t.Run("ban signs the user out", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().GetByID(gomock.Any(), "u-1").Return(existing, nil)
		gomock.InOrder(
			f.store.users.EXPECT().Update(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, u models.User) (models.User, error) {
					assert.Equal(t, models.UserStatusBanned, u.Status)
					return u, nil
				}),
			f.store.sessions.EXPECT().DeleteAllForUser(gomock.Any(), "u-1").Return(repository.ErrSessionNotFound),
		)

		user, err := f.svc.Update(context.Background(), "u-1", AdminUpdateInput{Status: userStatus(models.UserStatusBanned)})
		require.NoError(t, err)
		assert.Equal(t, models.UserStatusBanned, user.Status)
	})

	t.Run("role change signs the user out", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().GetByID(gomock.Any(), "u-1").Return(existing, nil)
		f.store.users.EXPECT().Update(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, u models.User) (models.User, error) { return u, nil })
		f.store.sessions.EXPECT().DeleteAllForUser(gomock.Any(), "u-1").Return(nil)

		user, err := f.svc.Update(context.Background(), "u-1", AdminUpdateInput{Role: userRole(models.UserRoleAdmin)})
		require.NoError(t, err)
		assert.Equal(t, models.UserRoleAdmin, user.Role)
	})

	t.Run("name and email keep sessions", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().GetByID(gomock.Any(), "u-1").Return(existing, nil)
		f.store.users.EXPECT().EmailTaken(gomock.Any(), "b@x.com", "u-1").Return(false, nil)
		f.store.users.EXPECT().Update(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, u models.User) (models.User, error) {
				assert.Equal(t, "b@x.com", u.Email)
				assert.Equal(t, "Bob", u.Name)
				assert.Equal(t, models.UserStatusActive, u.Status)
				return u, nil
			})

		_, err := f.svc.Update(context.Background(), "u-1", AdminUpdateInput{Name: ptr(" Bob "), Email: ptr("B@x.com")})
		require.NoError(t, err)
	})

	t.Run("photo of another user", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().GetByID(gomock.Any(), "u-1").Return(existing, nil)
		f.store.files.EXPECT().GetByID(gomock.Any(), "f-1").Return(models.File{ID: "f-1", OwnerID: "u-2"}, nil)

		_, err := f.svc.Update(context.Background(), "u-1", AdminUpdateInput{PhotoID: ptr("f-1")})
		requireAppErr(t, err, apperr.ErrImageNotFound)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().GetByID(gomock.Any(), "u-1").Return(existing, nil)

		_, err := f.svc.Update(context.Background(), "u-1", AdminUpdateInput{Status: userStatus("zombie")})
		requireAppErr(t, err, apperr.ErrStatusNotExists)
	})

	t.Run("missing user", func(t *testing.T) {
		f := newUserFixture(t)
		f.store.users.EXPECT().GetByID(gomock.Any(), "u-9").Return(models.User{}, repository.ErrUserNotFound)

		_, err := f.svc.Update(context.Background(), "u-9", AdminUpdateInput{Name: ptr("x")})
		requireAppErr(t, err, apperr.ErrUserNotFound)
	})
}

func TestUserService_Delete(t *testing.T) {
	f := newUserFixture(t)
	gomock.InOrder(
		f.store.users.EXPECT().SoftDelete(gomock.Any(), "u-1").Return(nil),
		f.store.sessions.EXPECT().DeleteAllForUser(gomock.Any(), "u-1").Return(repository.ErrSessionNotFound),
	)
	require.NoError(t, f.svc.Delete(context.Background(), "u-1"))

	f.store.users.EXPECT().SoftDelete(gomock.Any(), "u-9").Return(repository.ErrUserNotFound)
	requireAppErr(t, f.svc.Delete(context.Background(), "u-9"), apperr.ErrUserNotFound)
}
