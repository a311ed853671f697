package model

import (
	"time"

	"github.com/google/uuid"
)

// Orphan reasons.
const (
	OrphanReasonPersistFailed = "persist_failed"
	OrphanReasonMissingURL    = "missing_conversation_url"
)

// OrphanedConversation is a provider conversation that was provisioned but
// has no local session backing it. Cancelled is true once the provider
// acknowledged the end call.
type OrphanedConversation struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"user_id"`
	ProviderConversationID string     `json:"tavus_conversation_id"`
	Reason                 string     `json:"reason"`
	Cancelled              bool       `json:"cancelled"`
	Attempts               int        `json:"attempts"`
	LastError              *string    `json:"last_error,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
