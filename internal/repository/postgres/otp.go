package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/repository"
	"github.com/timelycabs/auth/pkg/database"
	apperrors "github.com/timelycabs/auth/pkg/errors"
)

const otpColumns = `id, phone, code, created_at, expires_at, consumed, consumed_at`

// OTPRepository implements repository.OTPRepository using PostgreSQL.
type OTPRepository struct {
	db database.DBTX
}

// NewOTPRepository creates a new PostgreSQL-backed OTP repository.
func NewOTPRepository(db database.DBTX) *OTPRepository {
	return &OTPRepository{db: db}
}

// LockPhone serializes issuance for one phone number until the surrounding
// transaction ends.
func (r *OTPRepository) LockPhone(ctx context.Context, phone string) (err error) {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	ctx, end := database.TraceQuery(ctx, "LockPhone", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, phone); err != nil {
		return fmt.Errorf("lock phone: %w", err)
	}
	return nil
}

// CountSince counts records created for phone at or after since.
func (r *OTPRepository) CountSince(ctx context.Context, phone string, since time.Time) (n int, err error) {
	query := `SELECT COUNT(*) FROM otp_records WHERE phone = $1 AND created_at >= $2`
	ctx, end := database.TraceQuery(ctx, "CountOTPs", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, phone, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count otps: %w", err)
	}
	return n, nil
}

// Create inserts a new OTP record.
func (r *OTPRepository) Create(ctx context.Context, o *domain.OTP) (err error) {
	query := `
		INSERT INTO otp_records (id, phone, code, created_at, expires_at, consumed)
		VALUES ($1, $2, $3, $4, $5, false)`
	ctx, end := database.TraceQuery(ctx, "CreateOTP", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, o.ID, o.Phone, o.Code, o.CreatedAt, o.ExpiresAt); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

// GetByID returns the record with id issued to phone.
func (r *OTPRepository) GetByID(ctx context.Context, id, phone string) (*domain.OTP, error) {
	query := `SELECT ` + otpColumns + ` FROM otp_records WHERE id = $1 AND phone = $2`
	return r.scanOne(ctx, "GetOTP", query, id, phone)
}

// Latest returns the newest record for phone.
func (r *OTPRepository) Latest(ctx context.Context, phone string) (*domain.OTP, error) {
	query := `SELECT ` + otpColumns + ` FROM otp_records WHERE phone = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(ctx, "LatestOTP", query, phone)
}

// Consume marks the newest usable record for (phone, code) as consumed. The
// inner SELECT locks the candidate row and the outer predicate re-checks
// consumed, so of two concurrent callers exactly one gets the row back.
func (r *OTPRepository) Consume(ctx context.Context, phone, code string, now time.Time) (o *domain.OTP, err error) {
	query := `
		UPDATE otp_records
		SET consumed = true, consumed_at = $3
		WHERE id = (
			SELECT id FROM otp_records
			WHERE phone = $1 AND code = $2 AND consumed = false AND expires_at > $3
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		) AND consumed = false
		RETURNING ` + otpColumns
	ctx, end := database.TraceQuery(ctx, "ConsumeOTP", query)
	defer func() { end(err) }()

	o, err = scanOTP(r.db.QueryRow(ctx, query, phone, code, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNoMatch
		}
		return nil, fmt.Errorf("consume otp: %w", err)
	}
	return o, nil
}

// Stats summarizes all records for phone.
func (r *OTPRepository) Stats(ctx context.Context, phone string, now time.Time) (s domain.OTPStats, err error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE consumed),
			COUNT(*) FILTER (WHERE NOT consumed AND expires_at <= $2)
		FROM otp_records
		WHERE phone = $1`
	ctx, end := database.TraceQuery(ctx, "OTPStats", query)
	defer func() { end(err) }()

	var total, verified, expired int
	if err = r.db.QueryRow(ctx, query, phone, now).Scan(&total, &verified, &expired); err != nil {
		return domain.OTPStats{}, fmt.Errorf("otp stats: %w", err)
	}
	return domain.NewOTPStats(phone, total, verified, expired), nil
}

// DeleteExpiredBefore removes records whose expiry is before cutoff.
func (r *OTPRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	query := `DELETE FROM otp_records WHERE expires_at < $1`
	ctx, end := database.TraceQuery(ctx, "DeleteExpiredOTPs", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *OTPRepository) scanOne(ctx context.Context, op, query string, args ...any) (o *domain.OTP, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	o, err = scanOTP(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan otp: %w", err)
	}
	return o, nil
}

func scanOTP(row pgx.Row) (*domain.OTP, error) {
	var o domain.OTP
	if err := row.Scan(
		&o.ID,
		&o.Phone,
		&o.Code,
		&o.CreatedAt,
		&o.ExpiresAt,
		&o.Consumed,
		&o.ConsumedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}
