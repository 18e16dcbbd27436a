package domain

import "time"

// Role enumerates account roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Theme enumerates UI themes an account can select.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Account is the persisted user entity. Accounts are never physically
// deleted; IsDeleted marks them inactive while the row is retained.
type Account struct {
	ID                        string
	Name                      string
	Email                     string
	PasswordHash              string
	Role                      Role
	IsVerified                bool
	VerificationCode          string
	VerificationCodeExpiresAt time.Time
	LastVerificationSentAt    time.Time
	IsDeleted                 bool
	Tokens                    int64
	Language                  string
	Theme                     Theme
	Image                     string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Sanitized returns a copy with credential and verification secrets cleared.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.VerificationCode = ""
	a.VerificationCodeExpiresAt = time.Time{}
	a.LastVerificationSentAt = time.Time{}
	return a
}

// AccountSummary is the public shape returned by account creation.
type AccountSummary struct {
	Name                  string `json:"name"`
	Image                 string `json:"image"`
	Email                 string `json:"email"`
	Role                  Role   `json:"role"`
	Tokens                int64  `json:"tokens"`
	Theme                 Theme  `json:"theme"`
	Language              string `json:"language"`
	IsVerified            bool   `json:"is_verified"`
	IsVerificationExpired bool   `json:"is_verification_expired"`
}
