package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/repository"
	"github.com/timelycabs/auth/internal/sms"
	apperrors "github.com/timelycabs/auth/pkg/errors"
	"github.com/timelycabs/auth/pkg/logger"
	"github.com/timelycabs/auth/pkg/validator"
)

// Result labels for OTP metrics.
const (
	resultIssued         = "issued"
	resultRateLimited    = "rate_limited"
	resultDeliveryFailed = "delivery_failed"
	resultVerified       = "verified"
	resultRejected       = "rejected"
)

const msgInvalidOTP = "invalid or expired OTP"

// OTPConfig controls code issuance.
type OTPConfig struct {
	Length     int
	TTL        time.Duration
	Cooldown   time.Duration
	MaxPerHour int
	Template   string
}

// OTPService issues and verifies one-time codes.
type OTPService struct {
	store   repository.Store
	sender  sms.Sender
	cfg     OTPConfig
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewOTPService creates a new OTP service.
func NewOTPService(store repository.Store, sender sms.Sender, cfg OTPConfig, metrics *Metrics, logger *slog.Logger) *OTPService {
	return &OTPService{
		store:   store,
		sender:  sender,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestOTP issues a new code for phone and sends it by SMS. The rate
// limits are checked under a per-phone lock in the same transaction that
// inserts the record, so concurrent requests cannot both pass the cooldown.
//
// When the SMS cannot be sent the committed record is returned together with
// a DeliveryFailed error; the client can retry with ResendOTP.
func (s *OTPService) RequestOTP(ctx context.Context, phone string) (*domain.OTP, error) {
	if !validator.IsPhone(phone) {
		return nil, apperrors.InvalidInput("invalid phone number format")
	}

	var otp *domain.OTP
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		if err := r.OTPs.LockPhone(ctx, phone); err != nil {
			return err
		}

		now := s.now()
		if err := s.checkRateLimits(ctx, r.OTPs, phone, now); err != nil {
			return err
		}

		code, err := generateCode(s.cfg.Length)
		if err != nil {
			return err
		}
		otp = &domain.OTP{
			ID:        uuid.NewString(),
			Phone:     phone,
			Code:      code,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.TTL),
		}
		return r.OTPs.Create(ctx, otp)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) {
			s.metrics.otpRequested(resultRateLimited)
			s.logger.InfoContext(ctx, "otp request rate limited", logger.Phone(phone))
		}
		return nil, wrapStorage(err, "request otp")
	}

	if err := s.deliver(ctx, otp); err != nil {
		return otp, err
	}

	s.metrics.otpRequested(resultIssued)
	s.logger.InfoContext(ctx, "otp issued", logger.Phone(phone), slog.String("otp_id", otp.ID))
	return otp, nil
}

// ResendOTP sends the code of an existing, still usable record again. It
// creates no record and so does not count against the rate limits.
func (s *OTPService) ResendOTP(ctx context.Context, phone, otpID string) (*domain.OTP, error) {
	if !validator.IsPhone(phone) {
		return nil, apperrors.InvalidInput("invalid phone number format")
	}

	otp, err := s.store.Repos().OTPs.GetByID(ctx, otpID, phone)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.AuthenticationFailed(msgInvalidOTP, http.StatusBadRequest)
		}
		return nil, wrapStorage(err, "load otp")
	}
	if !otp.IsUsableAt(s.now()) {
		return nil, apperrors.AuthenticationFailed(msgInvalidOTP, http.StatusBadRequest)
	}

	if err := s.deliver(ctx, otp); err != nil {
		return otp, err
	}
	s.logger.InfoContext(ctx, "otp resent", logger.Phone(phone), slog.String("otp_id", otp.ID))
	return otp, nil
}

// VerifyOTP consumes the newest usable code matching phone and code. Wrong
// and expired codes are reported the same way.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (*domain.OTP, error) {
	return s.consume(ctx, s.store.Repos().OTPs, phone, code)
}

// Statistics summarizes the codes issued to phone.
func (s *OTPService) Statistics(ctx context.Context, phone string) (domain.OTPStats, error) {
	if !validator.IsPhone(phone) {
		return domain.OTPStats{}, apperrors.InvalidInput("invalid phone number format")
	}
	stats, err := s.store.Repos().OTPs.Stats(ctx, phone, s.now())
	if err != nil {
		return domain.OTPStats{}, wrapStorage(err, "otp statistics")
	}
	return stats, nil
}

func (s *OTPService) consume(ctx context.Context, otps repository.OTPRepository, phone, code string) (*domain.OTP, error) {
	otp, err := otps.Consume(ctx, phone, code, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNoMatch) {
			s.metrics.otpVerified(resultRejected)
			s.logger.InfoContext(ctx, "otp verification failed", logger.Phone(phone))
			return nil, apperrors.AuthenticationFailed(msgInvalidOTP, http.StatusBadRequest)
		}
		return nil, fmt.Errorf("consume otp: %w", err)
	}
	s.metrics.otpVerified(resultVerified)
	return otp, nil
}

func (s *OTPService) checkRateLimits(ctx context.Context, otps repository.OTPRepository, phone string, now time.Time) error {
	latest, err := otps.Latest(ctx, phone)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	if elapsed := now.Sub(latest.CreatedAt); elapsed < s.cfg.Cooldown {
		return apperrors.RateLimited("please wait before requesting another OTP", s.cfg.Cooldown-elapsed)
	}

	count, err := otps.CountSince(ctx, phone, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if count >= s.cfg.MaxPerHour {
		return apperrors.RateLimited("maximum OTP requests per hour exceeded", 0)
	}
	return nil
}

func (s *OTPService) deliver(ctx context.Context, otp *domain.OTP) error {
	msg := sms.FormatOTP(s.cfg.Template, otp.Code, s.cfg.TTL)
	if err := s.sender.Send(ctx, otp.Phone, msg); err != nil {
		s.metrics.otpRequested(resultDeliveryFailed)
		s.logger.ErrorContext(ctx, "otp delivery failed",
			logger.Phone(otp.Phone),
			slog.String("otp_id", otp.ID),
			slog.String("error", err.Error()),
		)
		return apperrors.DeliveryFailed(err)
	}
	return nil
}

// generateCode returns n uniformly random decimal digits.
func generateCode(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

// wrapStorage passes AppErrors through and wraps anything else with op.
func wrapStorage(err error, op string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, repository.ErrNoMatch) {
		return wrapped
	}
	return apperrors.Internal(wrapped)
}
