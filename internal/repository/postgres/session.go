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

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db database.DBTX
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a session. A token hash collision surfaces as a wrapped
// unique violation.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) (err error) {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, device_info, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	ctx, end := database.TraceQuery(ctx, "CreateSession", query)
	defer func() { end(err) }()

	var device *string
	if s.DeviceInfo != "" {
		device = &s.DeviceInfo
	}
	if _, err = r.db.Exec(ctx, query, s.ID, s.UserID, s.TokenHash, device, s.CreatedAt, s.ExpiresAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByTokenHash returns the session stored under tokenHash, expired or not.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (s *domain.Session, err error) {
	query := `
		SELECT id, user_id, token_hash, device_info, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1`
	ctx, end := database.TraceQuery(ctx, "GetSession", query)
	defer func() { end(err) }()

	var (
		sess   domain.Session
		device *string
	)
	err = r.db.QueryRow(ctx, query, tokenHash).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.TokenHash,
		&device,
		&sess.CreatedAt,
		&sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if device != nil {
		sess.DeviceInfo = *device
	}
	return &sess, nil
}

// DeleteByTokenHash deletes the session stored under tokenHash.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (deleted bool, err error) {
	query := `DELETE FROM sessions WHERE token_hash = $1`
	ctx, end := database.TraceQuery(ctx, "DeleteSession", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, tokenHash)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteExpired removes every session that expired at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	query := `DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`
	ctx, end := database.TraceQuery(ctx, "DeleteExpiredSessions", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}
