package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks authgate/internal/service UserRepository,SessionRepository,FileRepository,Mailer,ObjectStore

import (
	"context"
	"io"
	"time"

	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

type UserRepository interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	EmailTaken(ctx context.Context, email, exceptID string) (bool, error)
	Update(ctx context.Context, user models.User) (models.User, error)
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, q models.UserQuery) ([]models.User, error)
	Count(ctx context.Context, search string) (int, error)
}

type SessionRepository interface {
	Create(ctx context.Context, userID, hash string) (models.Session, error)
	FindLive(ctx context.Context, id string) (models.Session, error)
	RotateHash(ctx context.Context, id, expected, next string) (models.Session, error)
	DeleteOne(ctx context.Context, id string) error
	DeleteOwned(ctx context.Context, userID, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	DeleteAllForUserExcept(ctx context.Context, userID, keepID string) error
	ListLiveByUser(ctx context.Context, userID string) ([]models.Session, error)
}

type FileRepository interface {
	Create(ctx context.Context, file models.File) (models.File, error)
	GetByID(ctx context.Context, id string) (models.File, error)
}

// Repositories is a set of repositories sharing one connection or transaction.
type Repositories interface {
	Users() UserRepository
	Sessions() SessionRepository
	Files() FileRepository
}

// Store runs fn inside one transaction; fn's repositories are bound to it.
type Store interface {
	Repositories
	Transact(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type TokenCodec interface {
	IssueAccess(userID, role, sessionID string) (string, time.Time, error)
	IssueRefresh(sessionID, hash string) (string, time.Time, error)
	IssueConfirmEmail(userID, newEmail string) (string, time.Time, error)
	VerifyConfirmEmail(token string) (*security.ConfirmEmailClaims, error)
	IssuePasswordReset(userID string) (string, time.Time, error)
	VerifyPasswordReset(token string) (*security.PasswordResetClaims, error)
}

type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, digest []byte) (bool, error)
}

type Mailer interface {
	SendActivation(ctx context.Context, to, hash string) error
	SendResetPassword(ctx context.Context, to, hash string, expires time.Time) error
	SendConfirmNewEmail(ctx context.Context, to, hash string) error
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// NewStore adapts a pgx-backed repository.Store to the service's Store.
func NewStore(s *repository.Store) Store {
	return pgStore{store: s, repos: pgRepos{s.Repositories}}
}

type pgRepos struct {
	r repository.Repositories
}

func (p pgRepos) Users() UserRepository       { return p.r.Users }
func (p pgRepos) Sessions() SessionRepository { return p.r.Sessions }
func (p pgRepos) Files() FileRepository       { return p.r.Files }

type pgStore struct {
	store *repository.Store
	repos pgRepos
}

func (p pgStore) Users() UserRepository       { return p.repos.Users() }
func (p pgStore) Sessions() SessionRepository { return p.repos.Sessions() }
func (p pgStore) Files() FileRepository       { return p.repos.Files() }

func (p pgStore) Transact(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return p.store.Transact(ctx, func(ctx context.Context, r repository.Repositories) error {
		return fn(ctx, pgRepos{r})
	})
}
