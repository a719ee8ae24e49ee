package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Role Tests
// ============================================================================

func TestRoleCatalog(t *testing.T) {
	names := make([]string, 0)
	for _, r := range RoleCatalog() {
		names = append(names, r.Name)
		assert.NotEmpty(t, r.Description, "role %q has no description", r.Name)
	}
	assert.ElementsMatch(t, []string{RoleRider, RoleDriver, RoleOwner, RoleAdmin, RoleSupport}, names)
	assert.Contains(t, names, DefaultRole)
}

// ============================================================================
// User Tests
// ============================================================================

func TestGender_IsValid(t *testing.T) {
	for _, g := range []Gender{GenderMale, GenderFemale, GenderOther} {
		assert.True(t, g.IsValid(), "expected %q to be valid", g)
	}
	assert.False(t, Gender("Male").IsValid())
	assert.False(t, Gender("").IsValid())
}

func TestUser_IsProfileComplete(t *testing.T) {
	u := User{ID: "u1", Phone: "+919876543210"}
	assert.False(t, u.IsProfileComplete())

	u.FullName = "Asha Rao"
	assert.False(t, u.IsProfileComplete())

	u.Gender = GenderFemale
	assert.True(t, u.IsProfileComplete())
}

func TestTimestamps_Touch(t *testing.T) {
	var ts Timestamps
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ts.Touch(first)
	assert.Equal(t, first, ts.CreatedAt)
	assert.Equal(t, first, ts.UpdatedAt)

	later := first.Add(time.Hour)
	ts.Touch(later)
	assert.Equal(t, first, ts.CreatedAt)
	assert.Equal(t, later, ts.UpdatedAt)
}
