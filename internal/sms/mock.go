package sms

import (
	"context"
	"log/slog"

	"github.com/timelycabs/auth/pkg/logger"
)

// LogSender writes messages to the log instead of sending them. It backs
// SMS_PROVIDER=mock in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that logs at info level.
func NewLogSender(l *slog.Logger) *LogSender {
	return &LogSender{logger: l}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.InfoContext(ctx, "sms (mock provider)",
		logger.Phone(phone),
		slog.String("message", message),
	)
	return nil
}
