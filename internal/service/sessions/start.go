package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/storage"
	"github.com/ashita-ai/kokoro/internal/tavus"
)

// StartResult is the outcome of a successful session start.
type StartResult struct {
	Conversation    model.ConversationRecord
	DailySession    model.DailySession
	ConversationURL string
	PersonaName     string
}

// Start provisions a provider conversation for the user and records it
// together with a new daily session.
//
// If the provider succeeds but the local records cannot be written, the
// provider conversation is ended on a best-effort basis and recorded as an
// orphan before the error is returned, so no conversation is left running
// without a record of it.
func (s *Service) Start(ctx context.Context, userID uuid.UUID) (StartResult, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("kokoro.user_id", userID.String()))

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.countStartFailure(ctx, "profile_not_found")
			return StartResult{}, ErrProfileNotFound
		}
		s.countStartFailure(ctx, "profile_lookup")
		return StartResult{}, fmt.Errorf("sessions: start: %w", err)
	}

	uc := s.GatherContext(ctx, profile)
	now := s.now()

	req := tavus.CreateConversationRequest{
		ReplicaID:             s.cfg.ReplicaID,
		PersonaID:             s.cfg.PersonaID,
		ConversationName:      fmt.Sprintf("%s session %s", s.cfg.PersonaName, now.UTC().Format("2006-01-02")),
		ConversationalContext: uc.Render(),
		CustomGreeting:        uc.Greeting(),
		CallbackURL:           s.cfg.CallbackURL,
		Properties: tavus.ConversationProperties{
			MaxCallDuration:          int(s.cfg.MaxCallDuration / time.Second),
			ParticipantLeftTimeout:   int(s.cfg.ParticipantLeftTimeout / time.Second),
			ParticipantAbsentTimeout: int(s.cfg.ParticipantAbsentTimeout / time.Second),
			EnableTranscription:      true,
			Language:                 tavus.Language(profile.PreferredLanguage),
		},
	}

	callStart := time.Now()
	conv, err := s.provider.CreateConversation(ctx, req)
	s.recordProviderCall(ctx, "create_conversation", callStart, err)
	if err != nil {
		var apiErr *tavus.APIError
		if errors.As(err, &apiErr) {
			s.countStartFailure(ctx, "provider_rejected")
			return StartResult{}, fmt.Errorf("sessions: create conversation: %w", err)
		}
		s.countStartFailure(ctx, "provider_unreachable")
		return StartResult{}, fmt.Errorf("sessions: create conversation: %w: %w", ErrProviderUnavailable, err)
	}
	span.SetAttributes(attribute.String("kokoro.tavus_conversation_id", conv.ConversationID))

	if conv.ConversationURL == "" {
		s.countStartFailure(ctx, "missing_url")
		s.compensate(ctx, userID, conv.ConversationID, model.OrphanReasonMissingURL)
		return StartResult{}, ErrMissingConversationURL
	}

	record, daily, err := s.store.CreateSession(ctx, model.NewSession{
		UserID:                 userID,
		ProviderConversationID: conv.ConversationID,
		ConversationURL:        conv.ConversationURL,
		ReplicaID:              s.cfg.ReplicaID,
		PersonaID:              s.cfg.PersonaID,
		StartedAt:              now,
	})
	if err != nil {
		s.countStartFailure(ctx, "persist_failed")
		s.logger.Error("start: persist session failed, cancelling provider conversation",
			"user_id", userID, "tavus_conversation_id", conv.ConversationID, "error", err)
		s.compensate(ctx, userID, conv.ConversationID, model.OrphanReasonPersistFailed)
		return StartResult{}, fmt.Errorf("sessions: persist session: %w", err)
	}

	s.started.Add(ctx, 1)
	s.logger.Info("session started",
		"user_id", userID,
		"mentor_conversation_id", record.ID,
		"daily_session_id", daily.ID,
		"tavus_conversation_id", conv.ConversationID,
	)

	return StartResult{
		Conversation:    record,
		DailySession:    daily,
		ConversationURL: conv.ConversationURL,
		PersonaName:     s.cfg.PersonaName,
	}, nil
}

// compensate ends a provider conversation that has no local record and
// records it as an orphan. A conversation the provider acknowledged (or no
// longer knows) is recorded as cancelled; otherwise the reconcile loop
// retries it. It runs detached from the request's cancellation.
func (s *Service) compensate(ctx context.Context, userID uuid.UUID, providerID, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	orphan := model.OrphanedConversation{
		UserID:                 userID,
		ProviderConversationID: providerID,
		Reason:                 reason,
		Attempts:               1,
	}

	endErr := s.endProviderConversation(ctx, providerID)
	switch {
	case endErr == nil, errors.Is(endErr, tavus.ErrNotFound):
		orphan.Cancelled = true
	default:
		msg := endErr.Error()
		orphan.LastError = &msg
		s.logger.Warn("start: provider cancellation failed, leaving for reconciliation",
			"tavus_conversation_id", providerID, "error", endErr)
	}

	s.orphans.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("cancelled", orphan.Cancelled),
	))
	if err := s.store.RecordOrphan(ctx, orphan); err != nil {
		// Nothing else holds this id; the log line is the last record of it.
		s.logger.Error("start: record orphaned conversation failed",
			"user_id", userID,
			"tavus_conversation_id", providerID,
			"reason", reason,
			"cancelled", orphan.Cancelled,
			"error", err,
		)
	}
}

func (s *Service) countStartFailure(ctx context.Context, reason string) {
	s.startFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
