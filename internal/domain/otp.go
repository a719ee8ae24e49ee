package domain

import (
	"time"
)

// OTP is a one-time code issued to a phone number. A record is mutated at
// most once, when it is consumed.
type OTP struct {
	ID         string     `json:"id"`
	Phone      string     `json:"phone"`
	Code       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// IsExpiredAt reports whether the code has expired at now.
func (o *OTP) IsExpiredAt(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// IsUsableAt reports whether the code can still be verified at now.
func (o *OTP) IsUsableAt(now time.Time) bool {
	return !o.Consumed && !o.IsExpiredAt(now)
}

// OTPStats summarizes the codes issued to one phone number.
type OTPStats struct {
	Phone            string  `json:"phone"`
	Total            int     `json:"total"`
	Verified         int     `json:"verified"`
	Expired          int     `json:"expired"`
	VerificationRate float64 `json:"verification_rate"`
}

// NewOTPStats computes the verification rate as a percentage rounded to two
// decimals. It is zero when no codes were issued.
func NewOTPStats(phone string, total, verified, expired int) OTPStats {
	s := OTPStats{Phone: phone, Total: total, Verified: verified, Expired: expired}
	if total > 0 {
		rate := float64(verified) / float64(total) * 100
		s.VerificationRate = float64(int64(rate*100+0.5)) / 100
	}
	return s
}
