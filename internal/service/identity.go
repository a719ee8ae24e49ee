package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/repository"
	apperrors "github.com/timelycabs/auth/pkg/errors"
)

const (
	minFullNameLen = 2
	maxFullNameLen = 150
)

// IdentityService manages users, their profiles and roles.
type IdentityService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewIdentityService creates a new identity service.
func NewIdentityService(store repository.Store, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateUser returns the user for phone, creating it with the default
// role when absent. created reports whether this call created it.
func (s *IdentityService) GetOrCreateUser(ctx context.Context, phone string) (user *domain.User, created bool, err error) {
	err = s.store.InTx(ctx, func(r repository.Repositories) error {
		user, created, err = s.getOrCreate(ctx, r, phone)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// AssignDefaultRole links the default role to userID, seeding the role
// catalog first if needed.
func (s *IdentityService) AssignDefaultRole(ctx context.Context, userID string) error {
	return s.store.InTx(ctx, func(r repository.Repositories) error {
		return assignDefaultRole(ctx, r.Roles, userID)
	})
}

// CompleteProfile sets the user's name and gender.
func (s *IdentityService) CompleteProfile(ctx context.Context, userID, fullName string, gender domain.Gender) (*domain.User, error) {
	if err := validateProfile(fullName, gender); err != nil {
		return nil, err
	}
	return s.completeProfile(ctx, s.store.Repos(), userID, fullName, gender)
}

// GetUserWithRoles loads a user and joins its role names.
func (s *IdentityService) GetUserWithRoles(ctx context.Context, userID string) (*domain.User, error) {
	r := s.store.Repos()
	u, err := r.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.Roles, err = r.Roles.ListNames(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *IdentityService) getOrCreate(ctx context.Context, r repository.Repositories, phone string) (*domain.User, bool, error) {
	u := &domain.User{
		ID:            uuid.NewString(),
		Phone:         phone,
		PhoneVerified: true,
		IsActive:      true,
	}
	u.Touch(s.now())

	created, err := r.Users.CreateIfAbsent(ctx, u)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := assignDefaultRole(ctx, r.Roles, u.ID); err != nil {
			return nil, false, err
		}
		s.logger.InfoContext(ctx, "user created", slog.String("user_id", u.ID))
	}

	if u.Roles, err = r.Roles.ListNames(ctx, u.ID); err != nil {
		return nil, false, err
	}
	return u, created, nil
}

func (s *IdentityService) completeProfile(ctx context.Context, r repository.Repositories, userID, fullName string, gender domain.Gender) (*domain.User, error) {
	u, err := r.Users.UpdateProfile(ctx, userID, fullName, gender, s.now())
	if err != nil {
		return nil, err
	}
	if u.Roles, err = r.Roles.ListNames(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func assignDefaultRole(ctx context.Context, roles repository.RoleRepository, userID string) error {
	if err := roles.EnsureCatalog(ctx, domain.RoleCatalog()); err != nil {
		return err
	}
	return roles.Assign(ctx, userID, domain.DefaultRole)
}

func validateProfile(fullName string, gender domain.Gender) error {
	if n := utf8.RuneCountInString(fullName); n < minFullNameLen || n > maxFullNameLen {
		return apperrors.InvalidInput(fmt.Sprintf("full_name must be between %d and %d characters", minFullNameLen, maxFullNameLen))
	}
	if !gender.IsValid() {
		return apperrors.InvalidInput("gender must be one of male, female, other")
	}
	return nil
}
