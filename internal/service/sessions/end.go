package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/storage"
	"github.com/ashita-ai/kokoro/internal/tavus"
)

// EndInput identifies the session to end. All ids must refer to the same
// session and the conversation must belong to UserID.
type EndInput struct {
	UserID                 uuid.UUID
	ProviderConversationID string
	ConversationID         uuid.UUID
	DailySessionID         uuid.UUID
}

// EndResult is the outcome of ending a session.
type EndResult struct {
	DurationSeconds int
	AlreadyEnded    bool
}

// Message is the human-readable summary returned to the client.
func (r EndResult) Message() string {
	if r.AlreadyEnded {
		return "Session already ended"
	}
	return "Session ended successfully"
}

// End stops the provider conversation and completes both records.
// A provider failure is logged and does not stop the local completion.
// Ending a session that is already terminal succeeds without writing.
func (s *Service) End(ctx context.Context, in EndInput) (EndResult, error) {
	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return EndResult{}, ErrConversationNotFound
		}
		return EndResult{}, fmt.Errorf("sessions: end: %w", err)
	}
	if conv.UserID != in.UserID {
		return EndResult{}, ErrForbidden
	}
	if conv.ProviderConversationID != in.ProviderConversationID ||
		(conv.DailySessionID != nil && *conv.DailySessionID != in.DailySessionID) {
		return EndResult{}, ErrMismatchedIDs
	}

	if conv.Status.Terminal() {
		return EndResult{DurationSeconds: storedDuration(conv), AlreadyEnded: true}, nil
	}

	if err := s.endProviderConversation(ctx, conv.ProviderConversationID); err != nil {
		msg := "end: provider end call failed, completing locally"
		if errors.Is(err, tavus.ErrNotFound) {
			s.logger.Info(msg, "tavus_conversation_id", conv.ProviderConversationID, "error", err)
		} else {
			s.logger.Warn(msg, "tavus_conversation_id", conv.ProviderConversationID, "error", err)
		}
	}

	res, err := s.store.CompleteSession(ctx, model.CompleteSession{
		ConversationID: conv.ID,
		EndedAt:        s.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return EndResult{}, ErrConversationNotFound
		}
		return EndResult{}, fmt.Errorf("sessions: end: %w", err)
	}

	if res.Applied {
		s.ended.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "api")))
		s.logger.Info("session ended",
			"user_id", in.UserID,
			"mentor_conversation_id", conv.ID,
			"duration_seconds", res.DurationSeconds,
		)
	}
	return EndResult{DurationSeconds: res.DurationSeconds, AlreadyEnded: !res.Applied}, nil
}

func storedDuration(c model.ConversationRecord) int {
	if c.DurationSeconds == nil {
		return 0
	}
	return *c.DurationSeconds
}
