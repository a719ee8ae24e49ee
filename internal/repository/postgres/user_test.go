package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timelycabs/auth/internal/domain"
	apperrors "github.com/timelycabs/auth/pkg/errors"
)

func userRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "phone", "full_name", "gender", "phone_verified", "is_active", "created_at", "updated_at",
	})
}

func strPtr(s string) *string { return &s }

func newUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:            "5a0a3c1e-2f43-4f7e-8a51-5b1e0c9d7a10",
		Phone:         testPhone,
		PhoneVerified: true,
		IsActive:      true,
		Timestamps:    domain.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
}

func TestUserRepository_CreateIfAbsent_Inserted(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	u := newUser()

	mock.ExpectQuery("INSERT INTO users .+ ON CONFLICT \\(phone\\) DO NOTHING").
		WithArgs(u.ID, u.Phone, true, true, u.CreatedAt, u.UpdatedAt).
		WillReturnRows(userRows().AddRow(u.ID, u.Phone, (*string)(nil), (*string)(nil), true, true, u.CreatedAt, u.UpdatedAt))

	created, err := repo.CreateIfAbsent(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, u.FullName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateIfAbsent_Existing(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	u := newUser()
	existingID := "9f1d2c3b-0000-4000-8000-000000000001"

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(u.ID, u.Phone, true, true, u.CreatedAt, u.UpdatedAt).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM users WHERE phone = \\$1").
		WithArgs(testPhone).
		WillReturnRows(userRows().AddRow(existingID, testPhone, strPtr("Asha Rao"), strPtr("female"), true, true, u.CreatedAt, u.UpdatedAt))

	created, err := repo.CreateIfAbsent(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existingID, u.ID)
	assert.Equal(t, "Asha Rao", u.FullName)
	assert.Equal(t, domain.GenderFemale, u.Gender)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateIfAbsent_DBError(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	u := newUser()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(u.ID, u.Phone, true, true, u.CreatedAt, u.UpdatedAt).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.CreateIfAbsent(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert user")
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM users WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserRepository_UpdateProfile(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	u := newUser()
	now := u.CreatedAt.Add(time.Minute)

	mock.ExpectQuery("UPDATE users\\s+SET full_name = \\$1, gender = \\$2, phone_verified = true").
		WithArgs("Ravi Kumar", "male", now, u.ID).
		WillReturnRows(userRows().AddRow(u.ID, u.Phone, strPtr("Ravi Kumar"), strPtr("male"), true, true, u.CreatedAt, now))

	got, err := repo.UpdateProfile(context.Background(), u.ID, "Ravi Kumar", domain.GenderMale, now)
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", got.FullName)
	assert.Equal(t, domain.GenderMale, got.Gender)
	assert.True(t, got.IsProfileComplete())
	assert.Equal(t, now, got.UpdatedAt)
}

func TestUserRepository_UpdateProfile_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	now := time.Now()

	mock.ExpectQuery("UPDATE users").
		WithArgs("Ravi Kumar", "male", now, "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateProfile(context.Background(), "missing", "Ravi Kumar", domain.GenderMale, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 404, appErr.Status)
}
