package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timelycabs/auth/internal/domain"
)

// ErrNoMatch is returned by OTPRepository.Consume when no unconsumed,
// unexpired record matches the phone and code.
var ErrNoMatch = errors.New("no matching otp")

// OTPRepository persists one-time codes.
type OTPRepository interface {
	// LockPhone takes a transaction-scoped advisory lock on phone. It must be
	// called inside Store.InTx; the lock is released on commit or rollback.
	LockPhone(ctx context.Context, phone string) error

	// CountSince returns how many records were created for phone at or after since.
	CountSince(ctx context.Context, phone string, since time.Time) (int, error)

	// Create inserts a new record.
	Create(ctx context.Context, otp *domain.OTP) error

	// GetByID returns the record with id issued to phone.
	GetByID(ctx context.Context, id, phone string) (*domain.OTP, error)

	// Latest returns the most recently created record for phone.
	Latest(ctx context.Context, phone string) (*domain.OTP, error)

	// Consume atomically marks the newest usable record matching phone and
	// code as consumed and returns it. It returns ErrNoMatch when none exists.
	Consume(ctx context.Context, phone, code string, now time.Time) (*domain.OTP, error)

	// Stats counts issued, consumed and expired-unconsumed records for phone.
	Stats(ctx context.Context, phone string, now time.Time) (domain.OTPStats, error)

	// DeleteExpiredBefore removes records that expired before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository persists users.
type UserRepository interface {
	// CreateIfAbsent inserts u unless a user with the same phone exists. In
	// both cases u is filled with the stored row. created reports whether
	// this call inserted it.
	CreateIfAbsent(ctx context.Context, u *domain.User) (created bool, err error)

	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)

	// UpdateProfile sets name and gender and marks the phone verified.
	UpdateProfile(ctx context.Context, id, fullName string, gender domain.Gender, now time.Time) (*domain.User, error)
}

// RoleRepository persists the role catalog and user-role links.
type RoleRepository interface {
	// EnsureCatalog inserts every role whose name is not stored yet.
	EnsureCatalog(ctx context.Context, roles []domain.Role) error

	// Assign links the named role to the user. Existing links are kept.
	Assign(ctx context.Context, userID, roleName string) error

	// ListNames returns the role names held by the user, sorted.
	ListNames(ctx context.Context, userID string) ([]string, error)
}

// SessionRepository persists bearer-token sessions by token hash.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)

	// DeleteByTokenHash reports whether a session was deleted.
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)

	// DeleteExpired removes sessions whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	OTPs     OTPRepository
	Users    UserRepository
	Roles    RoleRepository
	Sessions SessionRepository
}

// Store hands out repositories and runs units of work in a transaction.
type Store interface {
	// Repos returns repositories that run each statement on its own.
	Repos() Repositories

	// InTx runs fn with repositories bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Repositories) error) error
}
