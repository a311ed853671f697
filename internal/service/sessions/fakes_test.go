package sessions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/storage"
	"github.com/ashita-ai/kokoro/internal/tavus"
)

// fakeStore is an in-memory Store that applies the same status guards as
// the Postgres implementation.
type fakeStore struct {
	mu sync.Mutex

	profiles    map[uuid.UUID]model.Profile
	assessments map[uuid.UUID]*model.PersonalityAssessment
	rituals     map[uuid.UUID]*model.RitualPreferences
	emotions    map[uuid.UUID][]string
	goals       map[uuid.UUID][]model.Goal

	conversations map[uuid.UUID]model.ConversationRecord
	daily         map[uuid.UUID]model.DailySession
	orphans       []model.OrphanedConversation

	// Failure injection.
	profileErr    error
	assessmentErr error
	goalsErr      error
	createErr     error
	orphanErr     error

	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:      map[uuid.UUID]model.Profile{},
		assessments:   map[uuid.UUID]*model.PersonalityAssessment{},
		rituals:       map[uuid.UUID]*model.RitualPreferences{},
		emotions:      map[uuid.UUID][]string{},
		goals:         map[uuid.UUID][]model.Goal{},
		conversations: map[uuid.UUID]model.ConversationRecord{},
		daily:         map[uuid.UUID]model.DailySession{},
	}
}

func (f *fakeStore) addProfile(name, lang string) model.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := model.Profile{ID: uuid.New(), FullName: name, PreferredLanguage: lang, CreatedAt: time.Now()}
	f.profiles[p.ID] = p
	return p
}

func (f *fakeStore) GetProfile(_ context.Context, userID uuid.UUID) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return model.Profile{}, f.profileErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return model.Profile{}, fmt.Errorf("fake: profile: %w", storage.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) GetLatestAssessment(_ context.Context, userID uuid.UUID) (*model.PersonalityAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assessmentErr != nil {
		return nil, f.assessmentErr
	}
	return f.assessments[userID], nil
}

func (f *fakeStore) GetRitualPreferences(_ context.Context, userID uuid.UUID) (*model.RitualPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rituals[userID], nil
}

func (f *fakeStore) ListEmotionalCategories(_ context.Context, userID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emotions[userID], nil
}

func (f *fakeStore) ListActiveGoals(_ context.Context, userID uuid.UUID, limit int) ([]model.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.goalsErr != nil {
		return nil, f.goalsErr
	}
	var out []model.Goal
	for _, g := range f.goals[userID] {
		if g.Status == model.GoalActive {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CreateSession(_ context.Context, s model.NewSession) (model.ConversationRecord, model.DailySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return model.ConversationRecord{}, model.DailySession{}, f.createErr
	}
	for _, c := range f.conversations {
		if c.ProviderConversationID == s.ProviderConversationID {
			return model.ConversationRecord{}, model.DailySession{}, storage.ErrDuplicate
		}
	}
	f.writes++
	started := s.StartedAt
	daily := model.DailySession{
		ID:            uuid.New(),
		UserID:        s.UserID,
		SessionType:   model.SessionTypeVideoMentor,
		Status:        model.DailySessionStarted,
		ScheduledDate: started,
		StartedAt:     &started,
		CreatedAt:     started,
		UpdatedAt:     started,
	}
	dailyID := daily.ID
	conv := model.ConversationRecord{
		ID:                     uuid.New(),
		UserID:                 s.UserID,
		ProviderConversationID: s.ProviderConversationID,
		ConversationURL:        s.ConversationURL,
		ReplicaID:              s.ReplicaID,
		PersonaID:              s.PersonaID,
		ConversationType:       model.ConversationTypeMentor,
		Status:                 model.ConversationPending,
		DailySessionID:         &dailyID,
		StartedAt:              &started,
		CreatedAt:              started,
		UpdatedAt:              started,
	}
	f.daily[daily.ID] = daily
	f.conversations[conv.ID] = conv
	return conv, daily, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id uuid.UUID) (model.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return model.ConversationRecord{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetConversationByProviderID(_ context.Context, providerID string) (model.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.ProviderConversationID == providerID {
			return c, nil
		}
	}
	return model.ConversationRecord{}, storage.ErrNotFound
}

func (f *fakeStore) GetDailySession(_ context.Context, id uuid.UUID) (model.DailySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.daily[id]
	if !ok {
		return model.DailySession{}, storage.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) CompleteSession(_ context.Context, c model.CompleteSession) (model.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[c.ConversationID]
	if !ok {
		return model.CompletionResult{}, storage.ErrNotFound
	}
	if conv.Status.Terminal() {
		return model.CompletionResult{Applied: false, DurationSeconds: storedDuration(conv), Conversation: conv}, nil
	}
	f.writes++
	duration := c.DurationSeconds
	if duration <= 0 {
		duration = model.ElapsedSeconds(conv.StartedAt, c.EndedAt)
	}
	ended := c.EndedAt
	conv.Status = model.ConversationCompleted
	conv.EndedAt = &ended
	conv.DurationSeconds = &duration
	f.conversations[conv.ID] = conv

	if conv.DailySessionID != nil {
		if d, ok := f.daily[*conv.DailySessionID]; ok && d.Status.CanTransition(model.DailySessionCompleted) {
			d.Status = model.DailySessionCompleted
			d.CompletedAt = &ended
			d.DurationSeconds = &duration
			f.daily[d.ID] = d
		}
	}
	return model.CompletionResult{Applied: true, DurationSeconds: duration, Conversation: conv}, nil
}

func (f *fakeStore) MarkSessionActive(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !conv.Status.CanTransition(model.ConversationActive) {
		return false, nil
	}
	f.writes++
	conv.Status = model.ConversationActive
	f.conversations[id] = conv
	if conv.DailySessionID != nil {
		if d, ok := f.daily[*conv.DailySessionID]; ok && d.Status.CanTransition(model.DailySessionInProgress) {
			d.Status = model.DailySessionInProgress
			f.daily[d.ID] = d
		}
	}
	return true, nil
}

func (f *fakeStore) PatchTranscript(_ context.Context, id uuid.UUID, p model.TranscriptPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.daily[id]
	if !ok {
		return storage.ErrNotFound
	}
	f.writes++
	t := p.Transcript
	d.Transcript = &t
	if p.RecordingURL != nil {
		d.RecordingURL = p.RecordingURL
	}
	if p.ParticipantCount != nil {
		d.ParticipantCount = p.ParticipantCount
	}
	if len(p.Metadata) > 0 {
		if d.ProviderMetadata == nil {
			d.ProviderMetadata = map[string]any{}
		}
		for k, v := range p.Metadata {
			d.ProviderMetadata[k] = v
		}
	}
	f.daily[id] = d
	return nil
}

func (f *fakeStore) RecordOrphan(_ context.Context, o model.OrphanedConversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orphanErr != nil {
		return f.orphanErr
	}
	f.writes++
	o.ID = uuid.New()
	if o.Cancelled {
		now := time.Now()
		o.ResolvedAt = &now
	}
	f.orphans = append(f.orphans, o)
	return nil
}

func (f *fakeStore) ListUnresolvedOrphans(_ context.Context, maxAttempts, limit int) ([]model.OrphanedConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OrphanedConversation
	for _, o := range f.orphans {
		if o.ResolvedAt == nil && o.Attempts < maxAttempts && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkOrphanResolved(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.orphans {
		if o.ID == id && o.ResolvedAt == nil {
			now := time.Now()
			f.orphans[i].ResolvedAt = &now
			f.orphans[i].Cancelled = true
			f.orphans[i].Attempts++
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) RecordOrphanAttempt(_ context.Context, id uuid.UUID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.orphans {
		if o.ID == id {
			f.orphans[i].Attempts++
			f.orphans[i].LastError = &lastError
		}
	}
	return nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// fakeProvider records calls and returns canned results.
type fakeProvider struct {
	mu sync.Mutex

	createResp tavus.Conversation
	createErr  error
	endErr     error

	creates []tavus.CreateConversationRequest
	ends    []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{}
}

func (p *fakeProvider) CreateConversation(_ context.Context, req tavus.CreateConversationRequest) (tavus.Conversation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates = append(p.creates, req)
	if p.createErr != nil {
		return tavus.Conversation{}, p.createErr
	}
	if p.createResp.ConversationID != "" {
		return p.createResp, nil
	}
	id := "c" + uuid.NewString()[:10]
	return tavus.Conversation{
		ConversationID:  id,
		ConversationURL: "https://tavus.daily.co/" + id,
		Status:          "active",
	}, nil
}

func (p *fakeProvider) EndConversation(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends = append(p.ends, id)
	return p.endErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store *fakeStore, provider *fakeProvider) *Service {
	return New(store, provider, Config{
		ReplicaID:                "r79e1c033f",
		PersonaID:                "p5d11710002a",
		PersonaName:              "Mentor",
		CallbackURL:              "https://kokoro.example.com/webhooks/tavus",
		MaxCallDuration:          30 * time.Minute,
		ParticipantLeftTimeout:   time.Minute,
		ParticipantAbsentTimeout: 5 * time.Minute,
		OrphanMaxAttempts:        3,
	}, discardLogger())
}
