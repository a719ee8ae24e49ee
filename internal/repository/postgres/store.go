package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/timelycabs/auth/internal/repository"
	"github.com/timelycabs/auth/pkg/database"
)

// Store implements repository.Store over a pool (or anything that can Begin).
type Store struct {
	db database.DBTX
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a store backed by db.
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// Repos returns repositories bound to the pool.
func (s *Store) Repos() repository.Repositories {
	return newRepositories(s.db)
}

// InTx runs fn with repositories bound to one transaction.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repositories) error) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newRepositories(tx))
	})
}

func newRepositories(db database.DBTX) repository.Repositories {
	return repository.Repositories{
		OTPs:     NewOTPRepository(db),
		Users:    NewUserRepository(db),
		Roles:    NewRoleRepository(db),
		Sessions: NewSessionRepository(db),
	}
}
