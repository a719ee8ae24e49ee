// Package jobs holds background maintenance loops.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/timelycabs/auth/internal/repository"
)

// Cleanup periodically deletes expired OTP records and sessions.
type Cleanup struct {
	store     repository.Store
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewCleanup creates a cleanup job. OTP records are kept for retention
// after they expire so statistics still see them.
func NewCleanup(store repository.Store, interval, retention time.Duration, logger *slog.Logger) *Cleanup {
	return &Cleanup{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is canceled. A non-positive interval
// disables the job. Sweep errors are logged and the loop continues.
func (c *Cleanup) Run(ctx context.Context) {
	if c.interval <= 0 {
		c.logger.Info("cleanup job disabled")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			otps, sessions, err := c.Sweep(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "cleanup sweep error", slog.String("error", err.Error()))
			}
			if otps > 0 || sessions > 0 {
				c.logger.InfoContext(ctx, "expired records cleaned",
					slog.Int64("otps", otps),
					slog.Int64("sessions", sessions),
				)
			}
		}
	}
}

// Sweep runs one cleanup pass. Both deletions are attempted even when the
// first fails.
func (c *Cleanup) Sweep(ctx context.Context) (otps, sessions int64, err error) {
	repos := c.store.Repos()
	now := c.now()

	otps, otpErr := repos.OTPs.DeleteExpiredBefore(ctx, now.Add(-c.retention))
	if otpErr != nil {
		otpErr = fmt.Errorf("delete expired otps: %w", otpErr)
	}
	sessions, sessErr := repos.Sessions.DeleteExpired(ctx, now)
	if sessErr != nil {
		sessErr = fmt.Errorf("delete expired sessions: %w", sessErr)
	}
	return otps, sessions, errors.Join(otpErr, sessErr)
}
