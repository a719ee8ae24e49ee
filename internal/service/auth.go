package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/repository"
	apperrors "github.com/timelycabs/auth/pkg/errors"
	"github.com/timelycabs/auth/pkg/logger"
	"github.com/timelycabs/auth/pkg/validator"
)

// Revocation reasons, used as event payload and metric label.
const (
	RevokeLogout           = "logout"
	RevokeProfileCompleted = "profile_completed"
)

// EventPublisher publishes auth domain events.
type EventPublisher interface {
	UserRegistered(ctx context.Context, u *domain.User) error
	ProfileCompleted(ctx context.Context, u *domain.User) error
	SessionRevoked(ctx context.Context, s *domain.Session, reason string) error
}

// VerifyInput is the input of AuthService.VerifyOTP.
type VerifyInput struct {
	Phone      string
	Code       string
	DeviceInfo string
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	User    *domain.User
	Session *domain.Session

	// IsNewUser is true while the user has not completed the profile. The
	// session is temporary in that case.
	IsNewUser bool
}

// ProfileResult is the outcome of profile completion.
type ProfileResult struct {
	User    *domain.User
	Session *domain.Session
}

// AuthService runs the login flows. Each flow that touches more than one
// table runs in a single transaction; events are published after commit.
type AuthService struct {
	store    repository.Store
	otps     *OTPService
	sessions *SessionService
	identity *IdentityService
	events   EventPublisher
	logger   *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	store repository.Store,
	otps *OTPService,
	sessions *SessionService,
	identity *IdentityService,
	events EventPublisher,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:    store,
		otps:     otps,
		sessions: sessions,
		identity: identity,
		events:   events,
		logger:   logger,
	}
}

// RequestOTP issues a code for phone. See OTPService.RequestOTP.
func (s *AuthService) RequestOTP(ctx context.Context, phone string) (*domain.OTP, error) {
	return s.otps.RequestOTP(ctx, phone)
}

// ResendOTP re-sends an issued code. See OTPService.ResendOTP.
func (s *AuthService) ResendOTP(ctx context.Context, phone, otpID string) (*domain.OTP, error) {
	return s.otps.ResendOTP(ctx, phone, otpID)
}

// OTPStatistics summarizes the codes issued to phone.
func (s *AuthService) OTPStatistics(ctx context.Context, phone string) (domain.OTPStats, error) {
	return s.otps.Statistics(ctx, phone)
}

// VerifyOTP consumes the code, finds or creates the user and opens a
// session. New users and users with an incomplete profile get a temporary
// session that is only good for completing the profile.
func (s *AuthService) VerifyOTP(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	if !validator.IsPhone(in.Phone) {
		return nil, apperrors.InvalidInput("invalid phone number format")
	}

	var (
		res     VerifyResult
		created bool
	)
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		if _, err := s.otps.consume(ctx, r.OTPs, in.Phone, in.Code); err != nil {
			return err
		}

		user, isCreated, err := s.identity.getOrCreate(ctx, r, in.Phone)
		if err != nil {
			return err
		}
		created = isCreated

		temporary := !user.IsProfileComplete()
		sess, err := s.sessions.create(ctx, r.Sessions, user.ID, in.DeviceInfo, temporary)
		if err != nil {
			return err
		}

		res = VerifyResult{User: user, Session: sess, IsNewUser: temporary}
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "verify otp")
	}

	s.logger.InfoContext(ctx, "otp verified",
		logger.Phone(in.Phone),
		slog.String("user_id", res.User.ID),
		slog.Bool("new_user", res.IsNewUser),
	)
	if created {
		s.publish(ctx, "user.registered", s.events.UserRegistered(ctx, res.User))
	}
	return &res, nil
}

// CompleteProfile sets the name and gender of the user owning token,
// replaces the session with a permanent one and returns both.
func (s *AuthService) CompleteProfile(ctx context.Context, token, fullName string, gender domain.Gender) (*ProfileResult, error) {
	if err := validateProfile(fullName, gender); err != nil {
		return nil, err
	}

	var (
		res  ProfileResult
		prev *domain.Session
	)
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		sess, err := s.sessions.authenticate(ctx, r.Sessions, token)
		if err != nil {
			return err
		}
		prev = sess

		user, err := s.identity.completeProfile(ctx, r, sess.UserID, fullName, gender)
		if err != nil {
			return err
		}

		perm, err := s.sessions.create(ctx, r.Sessions, user.ID, sess.DeviceInfo, false)
		if err != nil {
			return err
		}
		if _, err := r.Sessions.DeleteByTokenHash(ctx, sess.TokenHash); err != nil {
			return fmt.Errorf("delete temporary session: %w", err)
		}

		res = ProfileResult{User: user, Session: perm}
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "complete profile")
	}

	s.sessions.metrics.sessionRevoked(RevokeProfileCompleted)
	s.logger.InfoContext(ctx, "profile completed", slog.String("user_id", res.User.ID))
	s.publish(ctx, "user.profile_completed", s.events.ProfileCompleted(ctx, res.User))
	s.publish(ctx, "session.revoked", s.events.SessionRevoked(ctx, prev, RevokeProfileCompleted))
	return &res, nil
}

// Logout deletes the session for token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	var sess *domain.Session
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		var err error
		sess, err = r.Sessions.GetByTokenHash(ctx, domain.HashToken(token))
		if err != nil {
			return err
		}
		deleted, err := r.Sessions.DeleteByTokenHash(ctx, sess.TokenHash)
		if err != nil {
			return err
		}
		if !deleted {
			return apperrors.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFoundMessage("session not found")
		}
		return wrapStorage(err, "logout")
	}

	s.sessions.metrics.sessionRevoked(RevokeLogout)
	s.logger.InfoContext(ctx, "session revoked", slog.String("user_id", sess.UserID))
	s.publish(ctx, "session.revoked", s.events.SessionRevoked(ctx, sess, RevokeLogout))
	return nil
}

// Authenticate resolves a bearer token to its active user and session.
// Every failure to do so is reported as a 401.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, *domain.Session, error) {
	sess, err := s.sessions.authenticate(ctx, s.store.Repos().Sessions, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.identity.GetUserWithRoles(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.AuthenticationFailed(msgInvalidToken, http.StatusUnauthorized)
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, apperrors.AuthenticationFailed("account is disabled", http.StatusUnauthorized)
	}
	return user, sess, nil
}

// publish logs a failed event publication. The flow that produced the event
// has already committed and is not failed because of it.
func (s *AuthService) publish(ctx context.Context, eventType string, err error) {
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
