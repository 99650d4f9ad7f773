package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/internal/database"
)

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Users    *UserRepository
	Sessions *SessionRepository
	Files    *FileRepository
}

func newRepositories(db database.DBTX) Repositories {
	return Repositories{
		Users:    NewUserRepository(db),
		Sessions: NewSessionRepository(db),
		Files:    NewFileRepository(db),
	}
}

// Store hands out pool-bound repositories and runs units of work in a
// single transaction.
type Store struct {
	Repositories
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Repositories: newRepositories(pool), pool: pool}
}

// Transact runs fn with repositories bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return database.WithTx(ctx, s.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, newRepositories(tx))
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
