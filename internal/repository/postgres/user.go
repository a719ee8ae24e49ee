package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/pkg/database"
	apperrors "github.com/timelycabs/auth/pkg/errors"
)

const userColumns = `id, phone, full_name, gender, phone_verified, is_active, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
// Roles are not loaded here; callers join them through RoleRepository.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// CreateIfAbsent inserts u, or loads the existing user with the same phone
// when a concurrent or earlier insert won.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, u *domain.User) (created bool, err error) {
	query := `
		INSERT INTO users (id, phone, phone_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO NOTHING
		RETURNING ` + userColumns
	ctx, end := database.TraceQuery(ctx, "CreateUser", query)
	defer func() { end(err) }()

	stored, err := scanUser(r.db.QueryRow(ctx, query,
		u.ID, u.Phone, u.PhoneVerified, u.IsActive, u.CreatedAt, u.UpdatedAt,
	))
	switch {
	case err == nil:
		*u = *stored
		return true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("insert user: %w", err)
	}

	existing, err := r.GetByPhone(ctx, u.Phone)
	if err != nil {
		return false, err
	}
	*u = *existing
	return false, nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

// UpdateProfile sets the profile fields and returns the updated row.
func (r *UserRepository) UpdateProfile(ctx context.Context, id, fullName string, gender domain.Gender, now time.Time) (u *domain.User, err error) {
	query := `
		UPDATE users
		SET full_name = $1, gender = $2, phone_verified = true, updated_at = $3
		WHERE id = $4
		RETURNING ` + userColumns
	ctx, end := database.TraceQuery(ctx, "UpdateProfile", query)
	defer func() { end(err) }()

	u, err = scanUser(r.db.QueryRow(ctx, query, fullName, string(gender), now, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user", id)
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

func (r *UserRepository) scanOne(ctx context.Context, query string, args ...any) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "GetUser", query)
	defer func() { end(err) }()

	u, err = scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u        domain.User
		fullName *string
		gender   *string
	)
	if err := row.Scan(
		&u.ID,
		&u.Phone,
		&fullName,
		&gender,
		&u.PhoneVerified,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if fullName != nil {
		u.FullName = *fullName
	}
	if gender != nil {
		u.Gender = domain.Gender(*gender)
	}
	return &u, nil
}
