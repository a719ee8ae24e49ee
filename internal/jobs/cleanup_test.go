package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/timelycabs/auth/internal/repository"
)

type mockOTPRepo struct {
	repository.OTPRepository
	mock.Mock
}

func (m *mockOTPRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockSessionRepo struct {
	repository.SessionRepository
	mock.Mock
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type stubStore struct {
	otps     *mockOTPRepo
	sessions *mockSessionRepo
}

func (s stubStore) Repos() repository.Repositories {
	return repository.Repositories{OTPs: s.otps, Sessions: s.sessions}
}

func (s stubStore) InTx(_ context.Context, fn func(repository.Repositories) error) error {
	return fn(s.Repos())
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCleanup(interval time.Duration) (*Cleanup, *mockOTPRepo, *mockSessionRepo) {
	otps, sessions := new(mockOTPRepo), new(mockSessionRepo)
	c := NewCleanup(stubStore{otps: otps, sessions: sessions}, interval, 24*time.Hour,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return testNow }
	return c, otps, sessions
}

func TestSweep_DeletesWithRetention(t *testing.T) {
	c, otps, sessions := newTestCleanup(time.Minute)
	otps.On("DeleteExpiredBefore", mock.Anything, testNow.Add(-24*time.Hour)).Return(int64(7), nil)
	sessions.On("DeleteExpired", mock.Anything, testNow).Return(int64(2), nil)

	nOTPs, nSessions, err := c.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(7), nOTPs)
	assert.Equal(t, int64(2), nSessions)
	otps.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestSweep_ContinuesAfterOTPError(t *testing.T) {
	c, otps, sessions := newTestCleanup(time.Minute)
	otps.On("DeleteExpiredBefore", mock.Anything, mock.Anything).Return(int64(0), errors.New("connection reset"))
	sessions.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(3), nil)

	_, nSessions, err := c.Sweep(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete expired otps")
	assert.Equal(t, int64(3), nSessions)
	sessions.AssertExpectations(t)
}

func TestRun_SweepsUntilCanceled(t *testing.T) {
	c, otps, sessions := newTestCleanup(10 * time.Millisecond)
	swept := make(chan struct{}, 1)
	otps.On("DeleteExpiredBefore", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))
	sessions.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(1), nil).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not sweep")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	c, _, _ := newTestCleanup(0)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled cleanup should return")
	}
}
