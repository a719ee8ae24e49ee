package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the breaker rejects sends.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig configures the circuit breaker around an SMS provider.
type BreakerConfig struct {
	Name string

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32

	// Timeout is how long the breaker stays open before a trial send.
	Timeout time.Duration
}

// Breaker wraps a Sender with a circuit breaker so a failing provider is not
// called on every OTP request.
type Breaker struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker[struct{}]
	state   prometheus.Gauge
}

// NewBreaker wraps next. The breaker state is exported on reg as
// sms_circuit_breaker_state (0 closed, 1 half-open, 2 open).
func NewBreaker(next Sender, cfg BreakerConfig, reg prometheus.Registerer, l *slog.Logger) *Breaker {
	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "sms_circuit_breaker_state",
		Help:        "Current state of the SMS circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: prometheus.Labels{"name": cfg.Name},
	})
	reg.MustRegister(state)

	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			state.Set(stateToFloat(to))
		},
	}

	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		state:   state,
	}
}

// Send delegates to the wrapped sender unless the breaker is open.
func (b *Breaker) Send(ctx context.Context, phone, message string) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, phone, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("sms provider unavailable: %w", err)
	}
	return err
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
