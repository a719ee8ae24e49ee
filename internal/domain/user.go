package domain

// Gender is the self-declared gender on a user profile.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// IsValid reports whether g is one of the accepted values.
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// User is an account identified by its phone number.
type User struct {
	ID            string   `json:"id"`
	Phone         string   `json:"phone"`
	FullName      string   `json:"full_name,omitempty"`
	Gender        Gender   `json:"gender,omitempty"`
	PhoneVerified bool     `json:"phone_verified"`
	IsActive      bool     `json:"is_active"`
	Roles         []string `json:"roles"`
	Timestamps
}

// IsProfileComplete reports whether the user has supplied a name and gender.
func (u *User) IsProfileComplete() bool {
	return u.FullName != "" && u.Gender != ""
}

