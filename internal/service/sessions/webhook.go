package sessions

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/storage"
)

// HandleWebhook applies a provider event to the conversation it names and
// the daily session linked to it. It returns a short message describing
// what was done. An unknown conversation id yields ErrConversationNotFound
// and writes nothing. Repeated or out-of-order events are no-ops.
func (s *Service) HandleWebhook(ctx context.Context, ev model.WebhookEvent) (string, error) {
	s.webhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", ev.EventType)))

	conv, err := s.store.GetConversationByProviderID(ctx, ev.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrConversationNotFound
		}
		return "", fmt.Errorf("sessions: webhook: %w", err)
	}

	var daily *model.DailySession
	if conv.DailySessionID != nil {
		d, err := s.store.GetDailySession(ctx, *conv.DailySessionID)
		switch {
		case err == nil:
			daily = &d
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("webhook: linked daily session missing",
				"tavus_conversation_id", ev.ConversationID, "daily_session_id", *conv.DailySessionID)
		default:
			return "", fmt.Errorf("sessions: webhook: %w", err)
		}
	}

	log := s.logger.With("event_type", ev.EventType, "tavus_conversation_id", ev.ConversationID)

	switch ev.EventType {
	case model.EventConversationStarted:
		applied, err := s.store.MarkSessionActive(ctx, conv.ID)
		if err != nil {
			return "", fmt.Errorf("sessions: webhook: %w", err)
		}
		if !applied {
			log.Debug("webhook: start event after conversation moved on", "status", conv.Status)
			return "Conversation already started", nil
		}
		return "Conversation marked active", nil

	case model.EventConversationEnded:
		duration := 0
		if ev.Duration != nil && *ev.Duration > 0 {
			duration = int(math.Round(*ev.Duration))
		}
		res, err := s.store.CompleteSession(ctx, model.CompleteSession{
			ConversationID:  conv.ID,
			EndedAt:         s.now(),
			DurationSeconds: duration,
		})
		if err != nil {
			return "", fmt.Errorf("sessions: webhook: %w", err)
		}
		if res.Applied {
			s.ended.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "webhook")))
			log.Info("webhook: session completed", "duration_seconds", res.DurationSeconds)
		}
		if _, err := s.patchTranscript(ctx, daily, ev); err != nil {
			return "", err
		}
		if !res.Applied {
			return "Conversation already ended", nil
		}
		return "Conversation ended", nil

	case model.EventTranscriptReady:
		patched, err := s.patchTranscript(ctx, daily, ev)
		if err != nil {
			return "", err
		}
		if !patched {
			return "No transcript stored", nil
		}
		return "Transcript stored", nil

	default:
		log.Info("webhook: ignoring unhandled event type")
		return "Event ignored", nil
	}
}

// patchTranscript stores the transcript and recording details when the
// event carries a transcript and the daily session exists.
func (s *Service) patchTranscript(ctx context.Context, daily *model.DailySession, ev model.WebhookEvent) (bool, error) {
	if daily == nil || ev.Transcript == nil || *ev.Transcript == "" {
		return false, nil
	}
	err := s.store.PatchTranscript(ctx, daily.ID, model.TranscriptPatch{
		Transcript:       *ev.Transcript,
		RecordingURL:     ev.RecordingURL,
		ParticipantCount: ev.ParticipantCount,
		Metadata:         ev.Metadata,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("sessions: webhook: store transcript: %w", err)
	}
	return true, nil
}
