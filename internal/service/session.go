package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/repository"
	apperrors "github.com/timelycabs/auth/pkg/errors"
)

const tokenBytes = 32

const msgInvalidToken = "invalid or expired token"

// SessionConfig sets session lifetimes. A zero TTL makes sessions of that
// kind never expire.
type SessionConfig struct {
	TempTTL time.Duration
	TTL     time.Duration
}

// SessionService mints, resolves and deletes bearer-token sessions.
type SessionService struct {
	store   repository.Store
	cfg     SessionConfig
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(store repository.Store, cfg SessionConfig, metrics *Metrics, logger *slog.Logger) *SessionService {
	return &SessionService{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession mints a session for userID. The returned session carries
// the raw token; only its hash is stored.
func (s *SessionService) CreateSession(ctx context.Context, userID, deviceInfo string, temporary bool) (*domain.Session, error) {
	return s.create(ctx, s.store.Repos().Sessions, userID, deviceInfo, temporary)
}

// GetValidSession resolves token to a session that is valid now. Unknown
// and expired tokens both yield apperrors.ErrNotFound.
func (s *SessionService) GetValidSession(ctx context.Context, token string) (*domain.Session, error) {
	return s.valid(ctx, s.store.Repos().Sessions, token)
}

// DeleteSession deletes the session for token and reports whether one existed.
func (s *SessionService) DeleteSession(ctx context.Context, token string) (bool, error) {
	deleted, err := s.store.Repos().Sessions.DeleteByTokenHash(ctx, domain.HashToken(token))
	if err != nil {
		return false, err
	}
	if deleted {
		s.metrics.sessionRevoked("deleted")
	}
	return deleted, nil
}

func (s *SessionService) create(ctx context.Context, sessions repository.SessionRepository, userID, deviceInfo string, temporary bool) (*domain.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &domain.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Token:      token,
		TokenHash:  domain.HashToken(token),
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
	}

	ttl := s.cfg.TTL
	if temporary {
		ttl = s.cfg.TempTTL
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		sess.ExpiresAt = &expires
	}

	if err := sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.sessionCreated(temporary)
	return sess, nil
}

func (s *SessionService) valid(ctx context.Context, sessions repository.SessionRepository, token string) (*domain.Session, error) {
	if token == "" {
		return nil, apperrors.ErrNotFound
	}
	sess, err := sessions.GetByTokenHash(ctx, domain.HashToken(token))
	if err != nil {
		return nil, err
	}
	if !sess.IsValidAt(s.now()) {
		return nil, apperrors.ErrNotFound
	}
	return sess, nil
}

// authenticate is valid with lookup failures mapped to a 401.
func (s *SessionService) authenticate(ctx context.Context, sessions repository.SessionRepository, token string) (*domain.Session, error) {
	sess, err := s.valid(ctx, sessions, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.AuthenticationFailed(msgInvalidToken, http.StatusUnauthorized)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// newToken returns 32 random bytes, base64url encoded without padding.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
