package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/repository"
	apperrors "github.com/timelycabs/auth/pkg/errors"
)

// --- In-memory store ---

type memData struct {
	otps      map[string]domain.OTP
	users     map[string]domain.User
	roles     map[string]domain.Role
	userRoles map[string][]string
	sessions  map[string]domain.Session
}

func (d memData) clone() memData {
	c := memData{
		otps:      make(map[string]domain.OTP, len(d.otps)),
		users:     make(map[string]domain.User, len(d.users)),
		roles:     make(map[string]domain.Role, len(d.roles)),
		userRoles: make(map[string][]string, len(d.userRoles)),
		sessions:  make(map[string]domain.Session, len(d.sessions)),
	}
	for k, v := range d.otps {
		c.otps[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.roles {
		c.roles[k] = v
	}
	for k, v := range d.userRoles {
		c.userRoles[k] = append([]string(nil), v...)
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	return c
}

// memStore is a repository.Store over maps. Transactions are serialized and
// roll back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memData

	// failSessionCreate, when set, is returned by every session insert.
	failSessionCreate error
}

func newMemStore() *memStore {
	return &memStore{data: memData{}.clone()}
}

func (s *memStore) Repos() repository.Repositories {
	return repository.Repositories{
		OTPs:     memOTPs{s},
		Users:    memUsers{s},
		Roles:    memRoles{s},
		Sessions: memSessions{s},
	}
}

func (s *memStore) InTx(_ context.Context, fn func(repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s.Repos()); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) otpCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.otps)
}

func (s *memStore) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.sessions)
}

func (s *memStore) setActive(userID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.data.users[userID]
	u.IsActive = active
	s.data.users[userID] = u
}

type memOTPs struct{ s *memStore }

func (r memOTPs) LockPhone(context.Context, string) error { return nil }

func (r memOTPs) CountSince(_ context.Context, phone string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range r.s.data.otps {
		if o.Phone == phone && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r memOTPs) Create(_ context.Context, otp *domain.OTP) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.otps[otp.ID] = *otp
	return nil
}

func (r memOTPs) GetByID(_ context.Context, id, phone string) (*domain.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.otps[id]
	if !ok || o.Phone != phone {
		return nil, apperrors.ErrNotFound
	}
	return &o, nil
}

func (r memOTPs) Latest(_ context.Context, phone string) (*domain.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *domain.OTP
	for _, o := range r.s.data.otps {
		if o.Phone != phone {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = &o
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	return latest, nil
}

func (r memOTPs) Consume(_ context.Context, phone, code string, now time.Time) (*domain.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var match *domain.OTP
	for _, o := range r.s.data.otps {
		if o.Phone != phone || o.Code != code || !o.IsUsableAt(now) {
			continue
		}
		if match == nil || o.CreatedAt.After(match.CreatedAt) {
			match = &o
		}
	}
	if match == nil {
		return nil, repository.ErrNoMatch
	}
	match.Consumed = true
	match.ConsumedAt = &now
	r.s.data.otps[match.ID] = *match
	return match, nil
}

func (r memOTPs) Stats(_ context.Context, phone string, now time.Time) (domain.OTPStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total, verified, expired int
	for _, o := range r.s.data.otps {
		if o.Phone != phone {
			continue
		}
		total++
		switch {
		case o.Consumed:
			verified++
		case o.IsExpiredAt(now):
			expired++
		}
	}
	return domain.NewOTPStats(phone, total, verified, expired), nil
}

func (r memOTPs) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, o := range r.s.data.otps {
		if o.ExpiresAt.Before(cutoff) {
			delete(r.s.data.otps, id)
			n++
		}
	}
	return n, nil
}

type memUsers struct{ s *memStore }

func (r memUsers) CreateIfAbsent(_ context.Context, u *domain.User) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.users {
		if existing.Phone == u.Phone {
			*u = existing
			return false, nil
		}
	}
	r.s.data.users[u.ID] = *u
	return true, nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &u, nil
}

func (r memUsers) GetByPhone(_ context.Context, phone string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if u.Phone == phone {
			return &u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r memUsers) UpdateProfile(_ context.Context, id, fullName string, gender domain.Gender, now time.Time) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	u.FullName = fullName
	u.Gender = gender
	u.PhoneVerified = true
	u.Touch(now)
	r.s.data.users[id] = u
	return &u, nil
}

type memRoles struct{ s *memStore }

func (r memRoles) EnsureCatalog(_ context.Context, roles []domain.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range roles {
		if _, ok := r.s.data.roles[role.Name]; !ok {
			role.ID = "role-" + role.Name
			r.s.data.roles[role.Name] = role
		}
	}
	return nil
}

func (r memRoles) Assign(_ context.Context, userID, roleName string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.roles[roleName]; !ok {
		return nil
	}
	for _, name := range r.s.data.userRoles[userID] {
		if name == roleName {
			return nil
		}
	}
	r.s.data.userRoles[userID] = append(r.s.data.userRoles[userID], roleName)
	return nil
}

func (r memRoles) ListNames(_ context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	names := append([]string{}, r.s.data.userRoles[userID]...)
	sort.Strings(names)
	return names, nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, sess *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failSessionCreate != nil {
		return r.s.failSessionCreate
	}
	if _, ok := r.s.data.sessions[sess.TokenHash]; ok {
		return fmt.Errorf("duplicate token hash")
	}
	stored := *sess
	stored.Token = ""
	r.s.data.sessions[sess.TokenHash] = stored
	return nil
}

func (r memSessions) GetByTokenHash(_ context.Context, hash string) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.data.sessions[hash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &sess, nil
}

func (r memSessions) DeleteByTokenHash(_ context.Context, hash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.sessions[hash]; !ok {
		return false, nil
	}
	delete(r.s.data.sessions, hash)
	return true, nil
}

func (r memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for hash, sess := range r.s.data.sessions {
		if !sess.IsValidAt(now) {
			delete(r.s.data.sessions, hash)
			n++
		}
	}
	return n, nil
}

// --- Mocks ---

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, phone, message string) error {
	args := m.Called(ctx, phone, message)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) UserRegistered(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockPublisher) ProfileCompleted(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockPublisher) SessionRevoked(ctx context.Context, s *domain.Session, reason string) error {
	args := m.Called(ctx, s, reason)
	return args.Error(0)
}

// --- Clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Fixture ---

const testPhone = "+919876543210"

type fixture struct {
	store     *memStore
	sender    *mockSender
	publisher *mockPublisher
	clock     *testClock
	otps      *OTPService
	sessions  *SessionService
	identity  *IdentityService
	auth      *AuthService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOTPConfig() OTPConfig {
	return OTPConfig{
		Length:     6,
		TTL:        5 * time.Minute,
		Cooldown:   time.Minute,
		MaxPerHour: 3,
		Template:   "Your TimelyCabs OTP is: %s. Valid for %d minutes.",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		sender:    new(mockSender),
		publisher: new(mockPublisher),
		clock:     newTestClock(),
	}
	log := testLogger()

	f.otps = NewOTPService(f.store, f.sender, testOTPConfig(), nil, log)
	f.otps.now = f.clock.Now
	f.sessions = NewSessionService(f.store, SessionConfig{TempTTL: 10 * time.Minute, TTL: 7 * 24 * time.Hour}, nil, log)
	f.sessions.now = f.clock.Now
	f.identity = NewIdentityService(f.store, log)
	f.identity.now = f.clock.Now
	f.auth = NewAuthService(f.store, f.otps, f.sessions, f.identity, f.publisher, log)

	t.Cleanup(func() {
		f.sender.AssertExpectations(t)
		f.publisher.AssertExpectations(t)
	})
	return f
}

// expectSMS accepts any number of sends to any phone.
func (f *fixture) expectSMS() {
	f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

// expectEvents accepts every event.
func (f *fixture) expectEvents() {
	f.publisher.On("UserRegistered", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.publisher.On("ProfileCompleted", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.publisher.On("SessionRevoked", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}
