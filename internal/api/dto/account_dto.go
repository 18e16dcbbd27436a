package dto

import (
	"time"

	"github.com/spec-kit/account-service/internal/domain"
)

// RegisterRequest payload for account creation.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Language string `json:"language"`
	Theme    string `json:"theme"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyEmailRequest payload for email verification.
type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResendVerificationRequest payload for re-sending the verification code.
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ChangeLanguageRequest payload.
type ChangeLanguageRequest struct {
	Language string `json:"language"`
}

// ChangeThemeRequest payload.
type ChangeThemeRequest struct {
	Theme string `json:"theme"`
}

// DeductTokensRequest payload.
type DeductTokensRequest struct {
	Amount int64 `json:"amount"`
}

// ToggleDeletedRequest payload. Deleted is a pointer so an absent field can
// be rejected instead of defaulting to false.
type ToggleDeletedRequest struct {
	Deleted *bool `json:"deleted"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountResponse is the public JSON shape of an account.
type AccountResponse struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Email      string       `json:"email"`
	Role       domain.Role  `json:"role"`
	IsVerified bool         `json:"is_verified"`
	IsDeleted  bool         `json:"is_deleted"`
	Tokens     int64        `json:"tokens"`
	Language   string       `json:"language"`
	Theme      domain.Theme `json:"theme"`
	Image      string       `json:"image"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewAccountResponse maps a domain account to its public shape.
func NewAccountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		ID:         a.ID,
		Name:       a.Name,
		Email:      a.Email,
		Role:       a.Role,
		IsVerified: a.IsVerified,
		IsDeleted:  a.IsDeleted,
		Tokens:     a.Tokens,
		Language:   a.Language,
		Theme:      a.Theme,
		Image:      a.Image,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// ProjectAccount shapes an account as a map restricted to the requested
// fields. An empty or fully unknown field list yields the full shape.
func ProjectAccount(a domain.Account, fields []string) map[string]any {
	full := map[string]any{
		"id":          a.ID,
		"name":        a.Name,
		"email":       a.Email,
		"role":        a.Role,
		"is_verified": a.IsVerified,
		"is_deleted":  a.IsDeleted,
		"tokens":      a.Tokens,
		"language":    a.Language,
		"theme":       a.Theme,
		"image":       a.Image,
		"created_at":  a.CreatedAt,
		"updated_at":  a.UpdatedAt,
	}
	if len(fields) == 0 {
		return full
	}
	projected := make(map[string]any, len(fields))
	for _, field := range fields {
		if val, ok := full[field]; ok {
			projected[field] = val
		}
	}
	if len(projected) == 0 {
		return full
	}
	return projected
}
