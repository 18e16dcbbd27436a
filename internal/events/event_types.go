package events

import (
	"time"

	"github.com/spec-kit/account-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAccountCreated      EventType = "account_created"
	EventAccountVerified     EventType = "account_verified"
	EventVerificationResent  EventType = "verification_resent"
	EventAccountDeleted      EventType = "account_deleted"
	EventAccountRestored     EventType = "account_restored"
	EventAccountTokensSpent  EventType = "account_tokens_spent"
	EventProfileImageChanged EventType = "profile_image_changed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	AccountID string      `json:"account_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AccountCreatedPayload payload.
type AccountCreatedPayload struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// TokensSpentPayload payload.
type TokensSpentPayload struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
}

// DeletionToggledPayload payload.
type DeletionToggledPayload struct {
	Deleted bool `json:"deleted"`
}
