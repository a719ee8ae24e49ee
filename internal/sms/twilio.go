package sms

import (
	"context"
	"fmt"
	"log/slog"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/timelycabs/auth/pkg/logger"
)

// MessageCreator is the part of the Twilio REST API used to send SMS.
// *openapi.ApiService satisfies it.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioConfig holds Twilio credentials and the sending number.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	api    MessageCreator
	from   string
	logger *slog.Logger
}

// NewTwilioSender creates a sender with a Twilio REST client.
func NewTwilioSender(cfg TwilioConfig, l *slog.Logger) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio: account sid, auth token and from number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewTwilioSenderWithAPI(client.Api, cfg.FromNumber, l), nil
}

// NewTwilioSenderWithAPI creates a sender over an existing API client.
func NewTwilioSenderWithAPI(api MessageCreator, from string, l *slog.Logger) *TwilioSender {
	return &TwilioSender{api: api, from: from, logger: l}
}

// Send posts the message. The Twilio client has no context support, so a
// canceled ctx is only checked before the call.
func (s *TwilioSender) Send(ctx context.Context, phone, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(s.from)
	params.SetBody(message)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.InfoContext(ctx, "sms sent", logger.Phone(phone), slog.String("sid", sid))
	return nil
}
