// Package sessions implements the session lifecycle: gathering user context,
// provisioning a provider conversation, ending it, applying provider
// webhook events and reconciling conversations that were provisioned but
// never recorded.
//
// The HTTP handlers and the background loops in cmd/kokoro both go through
// this service so that every status transition uses the same guarded
// storage calls.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/tavus"
	"github.com/ashita-ai/kokoro/internal/telemetry"
)

// Sentinel errors mapped to HTTP statuses by the server.
var (
	ErrProfileNotFound        = errors.New("sessions: profile not found")
	ErrConversationNotFound   = errors.New("sessions: conversation not found")
	ErrForbidden              = errors.New("sessions: conversation belongs to another user")
	ErrMismatchedIDs          = errors.New("sessions: identifiers do not refer to the same session")
	ErrMissingConversationURL = errors.New("sessions: provider returned no conversation url")
	ErrProviderUnavailable    = errors.New("sessions: provider unavailable")
)

// Store is the persistence the service needs. *storage.DB implements it.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (model.Profile, error)
	GetLatestAssessment(ctx context.Context, userID uuid.UUID) (*model.PersonalityAssessment, error)
	GetRitualPreferences(ctx context.Context, userID uuid.UUID) (*model.RitualPreferences, error)
	ListEmotionalCategories(ctx context.Context, userID uuid.UUID) ([]string, error)
	ListActiveGoals(ctx context.Context, userID uuid.UUID, limit int) ([]model.Goal, error)

	CreateSession(ctx context.Context, s model.NewSession) (model.ConversationRecord, model.DailySession, error)
	GetConversation(ctx context.Context, id uuid.UUID) (model.ConversationRecord, error)
	GetConversationByProviderID(ctx context.Context, providerID string) (model.ConversationRecord, error)
	GetDailySession(ctx context.Context, id uuid.UUID) (model.DailySession, error)
	CompleteSession(ctx context.Context, c model.CompleteSession) (model.CompletionResult, error)
	MarkSessionActive(ctx context.Context, conversationID uuid.UUID) (bool, error)
	PatchTranscript(ctx context.Context, dailySessionID uuid.UUID, p model.TranscriptPatch) error

	RecordOrphan(ctx context.Context, o model.OrphanedConversation) error
	ListUnresolvedOrphans(ctx context.Context, maxAttempts, limit int) ([]model.OrphanedConversation, error)
	MarkOrphanResolved(ctx context.Context, id uuid.UUID) error
	RecordOrphanAttempt(ctx context.Context, id uuid.UUID, lastError string) error
}

// Provider is the video provider API. *tavus.Client implements it.
type Provider interface {
	CreateConversation(ctx context.Context, req tavus.CreateConversationRequest) (tavus.Conversation, error)
	EndConversation(ctx context.Context, conversationID string) error
}

// Config holds the provider parameters used for every conversation.
type Config struct {
	ReplicaID                string
	PersonaID                string
	PersonaName              string
	CallbackURL              string
	MaxCallDuration          time.Duration
	ParticipantLeftTimeout   time.Duration
	ParticipantAbsentTimeout time.Duration
	OrphanMaxAttempts        int
}

// compensationTimeout bounds the cleanup work done after a failed start,
// which runs even when the request context is already cancelled.
const compensationTimeout = 15 * time.Second

// Service runs the session lifecycle.
type Service struct {
	store    Store
	provider Provider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	started          metric.Int64Counter
	startFailures    metric.Int64Counter
	ended            metric.Int64Counter
	webhookEvents    metric.Int64Counter
	orphans          metric.Int64Counter
	providerDuration metric.Float64Histogram
}

// New creates a Service.
func New(store Store, provider Provider, cfg Config, logger *slog.Logger) *Service {
	if cfg.OrphanMaxAttempts <= 0 {
		cfg.OrphanMaxAttempts = 10
	}
	meter := telemetry.Meter("kokoro/sessions")
	started, _ := meter.Int64Counter("kokoro.sessions.started",
		metric.WithDescription("Sessions provisioned and recorded"))
	startFailures, _ := meter.Int64Counter("kokoro.sessions.start_failures",
		metric.WithDescription("Session starts that failed, by reason"))
	ended, _ := meter.Int64Counter("kokoro.sessions.ended",
		metric.WithDescription("Terminal transitions applied, by source"))
	webhookEvents, _ := meter.Int64Counter("kokoro.webhook.events",
		metric.WithDescription("Provider webhook events received, by type"))
	orphans, _ := meter.Int64Counter("kokoro.orphans.recorded",
		metric.WithDescription("Provider conversations recorded as orphaned"))
	providerDuration, _ := meter.Float64Histogram("kokoro.provider.duration",
		metric.WithDescription("Provider API call latency (ms)"),
		metric.WithUnit("ms"),
	)

	return &Service{
		store:            store,
		provider:         provider,
		cfg:              cfg,
		logger:           logger,
		now:              time.Now,
		started:          started,
		startFailures:    startFailures,
		ended:            ended,
		webhookEvents:    webhookEvents,
		orphans:          orphans,
		providerDuration: providerDuration,
	}
}

// recordProviderCall records provider latency for op.
func (s *Service) recordProviderCall(ctx context.Context, op string, start time.Time, err error) {
	s.providerDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.Bool("error", err != nil),
		))
}

// endProviderConversation calls the provider end endpoint and records latency.
func (s *Service) endProviderConversation(ctx context.Context, providerID string) error {
	start := time.Now()
	err := s.provider.EndConversation(ctx, providerID)
	s.recordProviderCall(ctx, "end_conversation", start, err)
	return err
}
