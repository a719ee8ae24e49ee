package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Session is a bearer-token login. Token holds the raw token only on the
// value returned from creation; storage keeps TokenHash.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Token      string     `json:"-"`
	TokenHash  string     `json:"-"`
	DeviceInfo string     `json:"device_info,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// IsValidAt reports whether the session can authenticate at now. A session
// without expiry never expires; once invalid it stays invalid for all later
// instants.
func (s *Session) IsValidAt(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
