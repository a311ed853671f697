// Package model defines the core domain types for kokoro.
//
// Types correspond directly to database tables and webhook payloads. Status
// enums carry their own transition tables so storage can guard updates with
// the same rules the services reason about.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a provider conversation.
type ConversationStatus string

const (
	ConversationPending   ConversationStatus = "pending"
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationFailed    ConversationStatus = "failed"
)

// conversationTransitions lists, for each target status, the statuses a
// record may move from. Anything absent is rejected.
var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationActive:    {ConversationPending},
	ConversationCompleted: {ConversationPending, ConversationActive},
	ConversationFailed:    {ConversationPending, ConversationActive},
}

// Terminal reports whether no further transitions are possible.
func (s ConversationStatus) Terminal() bool {
	return s == ConversationCompleted || s == ConversationFailed
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationPending, ConversationActive, ConversationCompleted, ConversationFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed.
func (s ConversationStatus) CanTransition(to ConversationStatus) bool {
	for _, from := range conversationTransitions[to] {
		if from == s {
			return true
		}
	}
	return false
}

// ConversationSourcesFor returns the statuses from which a record may move
// into to, as strings for use in SQL guards.
func ConversationSourcesFor(to ConversationStatus) []string {
	from := conversationTransitions[to]
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}

// DailySessionStatus is the lifecycle state of a user-facing session.
type DailySessionStatus string

const (
	DailySessionStarted     DailySessionStatus = "started"
	DailySessionInProgress  DailySessionStatus = "in_progress"
	DailySessionCompleted   DailySessionStatus = "completed"
	DailySessionInterrupted DailySessionStatus = "interrupted"
	DailySessionFailed      DailySessionStatus = "failed"
)

var dailySessionTransitions = map[DailySessionStatus][]DailySessionStatus{
	DailySessionInProgress:  {DailySessionStarted},
	DailySessionCompleted:   {DailySessionStarted, DailySessionInProgress},
	DailySessionInterrupted: {DailySessionStarted, DailySessionInProgress},
	DailySessionFailed:      {DailySessionStarted, DailySessionInProgress},
}

// Terminal reports whether no further transitions are possible.
func (s DailySessionStatus) Terminal() bool {
	switch s {
	case DailySessionCompleted, DailySessionInterrupted, DailySessionFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed.
func (s DailySessionStatus) CanTransition(to DailySessionStatus) bool {
	for _, from := range dailySessionTransitions[to] {
		if from == s {
			return true
		}
	}
	return false
}

// DailySessionSourcesFor returns the statuses from which a session may move
// into to.
func DailySessionSourcesFor(to DailySessionStatus) []string {
	from := dailySessionTransitions[to]
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}

// SessionType enumerates the kinds of daily session. Only SessionTypeVideoMentor
// is backed by a provider today.
type SessionType string

const (
	SessionTypeVideoMentor  SessionType = "video_mentor"
	SessionTypeVoiceCheckin SessionType = "voice_checkin"
	SessionTypeJournaling   SessionType = "journaling"
	SessionTypeBreathwork   SessionType = "breathwork"
)

// ConversationTypeMentor is the only conversation kind the service creates.
const ConversationTypeMentor = "video_mentor"

// ConversationRecord is one provider conversation.
// ProviderConversationID is unique and never changes after insert.
type ConversationRecord struct {
	ID                     uuid.UUID          `json:"id"`
	UserID                 uuid.UUID          `json:"user_id"`
	ProviderConversationID string             `json:"tavus_conversation_id"`
	ConversationURL        string             `json:"conversation_url"`
	ReplicaID              string             `json:"replica_id"`
	PersonaID              string             `json:"persona_id"`
	ConversationType       string             `json:"conversation_type"`
	Status                 ConversationStatus `json:"status"`
	DailySessionID         *uuid.UUID         `json:"daily_session_id,omitempty"`
	StartedAt              *time.Time         `json:"started_at,omitempty"`
	EndedAt                *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds        *int               `json:"duration_seconds,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// DailySession is the user-facing unit shown in history and analytics.
type DailySession struct {
	ID               uuid.UUID          `json:"id"`
	UserID           uuid.UUID          `json:"user_id"`
	SessionType      SessionType        `json:"session_type"`
	Status           DailySessionStatus `json:"status"`
	ScheduledDate    time.Time          `json:"scheduled_date"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	DurationSeconds  *int               `json:"duration_seconds,omitempty"`
	Virtue           *string            `json:"virtue,omitempty"`
	Insight          *string            `json:"insight,omitempty"`
	Transcript       *string            `json:"transcript,omitempty"`
	RecordingURL     *string            `json:"recording_url,omitempty"`
	ParticipantCount *int               `json:"participant_count,omitempty"`
	ProviderMetadata map[string]any     `json:"provider_metadata,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewSession carries everything needed to insert the two records of one
// session start.
type NewSession struct {
	UserID                 uuid.UUID
	ProviderConversationID string
	ConversationURL        string
	ReplicaID              string
	PersonaID              string
	StartedAt              time.Time
}

// CompleteSession describes a terminal transition applied to a conversation
// and its daily session.
type CompleteSession struct {
	ConversationID uuid.UUID
	EndedAt        time.Time
	// DurationSeconds overrides the computed duration when positive.
	DurationSeconds int
}

// CompletionResult reports the outcome of a terminal transition.
// Applied is false when the conversation was already terminal.
type CompletionResult struct {
	Applied         bool
	DurationSeconds int
	Conversation    ConversationRecord
}

// TranscriptPatch holds the post-hoc fields written by the provider webhook.
type TranscriptPatch struct {
	Transcript       string
	RecordingURL     *string
	ParticipantCount *int
	Metadata         map[string]any
}

// ElapsedSeconds returns end - start in whole seconds, clamped to zero.
// A nil start yields zero.
func ElapsedSeconds(start *time.Time, end time.Time) int {
	if start == nil {
		return 0
	}
	d := end.Sub(*start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
