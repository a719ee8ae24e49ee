package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/timelycabs/auth/internal/domain"
	pkgkafka "github.com/timelycabs/auth/pkg/kafka"
	"github.com/timelycabs/auth/pkg/logger"
)

// Kafka topics for auth domain events.
var (
	TopicUserRegistered       = pkgkafka.Topic("auth", "user_registered")
	TopicUserProfileCompleted = pkgkafka.Topic("auth", "user_profile_completed")
	TopicSessionRevoked       = pkgkafka.Topic("auth", "session_revoked")
)

// Event types carried in the envelope.
const (
	TypeUserRegistered       = "user.registered"
	TypeUserProfileCompleted = "user.profile_completed"
	TypeSessionRevoked       = "session.revoked"
)

const (
	AggregateTypeUser = "user"
	SourceAuthService = "auth-service"
)

// UserRegisteredData is the payload of user.registered.
type UserRegisteredData struct {
	ID    string   `json:"id"`
	Phone string   `json:"phone"`
	Roles []string `json:"roles"`
}

// UserProfileCompletedData is the payload of user.profile_completed.
type UserProfileCompletedData struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Gender   string `json:"gender"`
}

// SessionRevokedData is the payload of session.revoked.
type SessionRevokedData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
}

// Publisher is the Kafka producer surface used here. *pkgkafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// UserRegistered publishes user.registered.
func (p *Producer) UserRegistered(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, TypeUserRegistered, u.ID, UserRegisteredData{
		ID:    u.ID,
		Phone: u.Phone,
		Roles: u.Roles,
	})
}

// ProfileCompleted publishes user.profile_completed.
func (p *Producer) ProfileCompleted(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserProfileCompleted, TypeUserProfileCompleted, u.ID, UserProfileCompletedData{
		ID:       u.ID,
		Phone:    u.Phone,
		FullName: u.FullName,
		Gender:   string(u.Gender),
	})
}

// SessionRevoked publishes session.revoked. reason is "logout" or
// "profile_completed" (a temporary session replaced by a permanent one).
func (p *Producer) SessionRevoked(ctx context.Context, s *domain.Session, reason string) error {
	return p.publish(ctx, TopicSessionRevoked, TypeSessionRevoked, s.UserID, SessionRevokedData{
		SessionID: s.ID,
		UserID:    s.UserID,
		Reason:    reason,
	}, map[string]string{"reason": reason})
}

func (p *Producer) publish(ctx context.Context, topic, eventType, userID string, data any, meta ...map[string]string) error {
	event, err := pkgkafka.NewEvent(eventType, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	for _, m := range meta {
		for k, v := range m {
			event.WithMetadata(k, v)
		}
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published "+eventType+" event", slog.String("user_id", userID))
	return nil
}

// Nop discards events. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) UserRegistered(context.Context, *domain.User) error            { return nil }
func (Nop) ProfileCompleted(context.Context, *domain.User) error          { return nil }
func (Nop) SessionRevoked(context.Context, *domain.Session, string) error { return nil }
