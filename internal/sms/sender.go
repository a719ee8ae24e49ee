// Package sms delivers OTP text messages.
package sms

import (
	"context"
	"fmt"
	"time"
)

// Sender delivers a text message to a phone number in E.164 format.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, phone, message string) error

func (f SenderFunc) Send(ctx context.Context, phone, message string) error {
	return f(ctx, phone, message)
}

// FormatOTP renders template with the code and its validity in whole
// minutes. template takes a %s for the code and a %d for the minutes.
func FormatOTP(template, code string, ttl time.Duration) string {
	minutes := int(ttl / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf(template, code, minutes)
}
