package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for webhook payloads. Transcripts are stored in a TEXT
// column; the cap keeps a misbehaving provider from filling it.
const (
	MaxTranscriptLen   = 512 * 1024 // 512 KB
	MaxRecordingURLLen = 2048
)

// APIError is the error body returned by every endpoint.
type APIError struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUpstream        = "UPSTREAM_ERROR"
	ErrCodeMisconfigured   = "MISCONFIGURED"
	ErrCodeServiceDisabled = "SERVICE_UNAVAILABLE"
)

// StartSessionRequest is the request body for POST /v1/sessions/start.
type StartSessionRequest struct {
	UserID string `json:"user_id"`
}

// StartSessionResponse is returned on a successful session start.
type StartSessionResponse struct {
	Success              bool      `json:"success"`
	ConversationURL      string    `json:"conversation_url"`
	ConversationID       string    `json:"conversation_id"`
	MentorConversationID uuid.UUID `json:"mentor_conversation_id"`
	DailySessionID       uuid.UUID `json:"daily_session_id"`
	PersonaName          string    `json:"persona_name"`
}

// EndSessionRequest is the request body for POST /v1/sessions/end.
type EndSessionRequest struct {
	TavusConversationID  string `json:"tavus_conversation_id"`
	MentorConversationID string `json:"mentor_conversation_id"`
	DailySessionID       string `json:"daily_session_id"`
	UserID               string `json:"user_id"`
}

// EndSessionResponse is returned on a successful session end.
type EndSessionResponse struct {
	Success         bool   `json:"success"`
	DurationSeconds int    `json:"duration_seconds"`
	Message         string `json:"message"`
}

// Webhook event types sent by the video provider.
const (
	EventConversationStarted = "conversation_started"
	EventConversationEnded   = "conversation_ended"
	EventTranscriptReady     = "transcript_ready"
)

// WebhookEvent is the provider callback payload.
type WebhookEvent struct {
	ConversationID   string         `json:"conversation_id"`
	EventType        string         `json:"event_type"`
	Transcript       *string        `json:"transcript,omitempty"`
	RecordingURL     *string        `json:"recording_url,omitempty"`
	Duration         *float64       `json:"duration,omitempty"`
	ParticipantCount *int           `json:"participant_count,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Validate checks required fields and size limits.
func (e WebhookEvent) Validate() error {
	if e.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if e.Transcript != nil && len(*e.Transcript) > MaxTranscriptLen {
		return fmt.Errorf("transcript exceeds maximum length of %d bytes", MaxTranscriptLen)
	}
	if e.RecordingURL != nil && len(*e.RecordingURL) > MaxRecordingURLLen {
		return fmt.Errorf("recording_url exceeds maximum length of %d characters", MaxRecordingURLLen)
	}
	if e.ParticipantCount != nil && *e.ParticipantCount < 0 {
		return fmt.Errorf("participant_count must not be negative")
	}
	return nil
}

// WebhookResponse is returned by the webhook endpoint.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SessionDetail is returned by GET /v1/sessions/{session_id}.
type SessionDetail struct {
	Session      DailySession        `json:"session"`
	Conversation *ConversationRecord `json:"conversation,omitempty"`
}

// ListResponse is the envelope for paginated list endpoints.
type ListResponse struct {
	Data    any  `json:"data"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Postgres  string    `json:"postgres"`
	Uptime    int64     `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseUUIDField parses a required UUID request field, naming the field in
// the error.
func ParseUUIDField(name, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a valid UUID", name)
	}
	return id, nil
}
