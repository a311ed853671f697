package storage_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/storage"
	"github.com/ashita-ai/kokoro/internal/testutil"
	"github.com/ashita-ai/kokoro/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func newSession(t *testing.T, userID uuid.UUID, startedAt time.Time) (model.ConversationRecord, model.DailySession) {
	t.Helper()
	conv, daily, err := testDB.CreateSession(context.Background(), model.NewSession{
		UserID:                 userID,
		ProviderConversationID: "c" + uuid.NewString()[:12],
		ConversationURL:        "https://tavus.daily.co/room",
		ReplicaID:              "r1",
		PersonaID:              "p1",
		StartedAt:              startedAt,
	})
	require.NoError(t, err)
	return conv, daily
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)

	conv, daily := newSession(t, userID, started)

	assert.Equal(t, userID, conv.UserID)
	assert.Equal(t, model.ConversationPending, conv.Status)
	assert.Equal(t, model.ConversationTypeMentor, conv.ConversationType)
	require.NotNil(t, conv.DailySessionID)
	assert.Equal(t, daily.ID, *conv.DailySessionID)
	require.NotNil(t, conv.StartedAt)
	assert.True(t, started.Equal(*conv.StartedAt))

	assert.Equal(t, userID, daily.UserID)
	assert.Equal(t, model.DailySessionStarted, daily.Status)
	assert.Equal(t, model.SessionTypeVideoMentor, daily.SessionType)

	got, err := testDB.GetConversationByProviderID(ctx, conv.ProviderConversationID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	byDaily, err := testDB.GetConversationByDailySession(ctx, daily.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, byDaily.ID)
}

func TestCreateSessionDuplicateProviderIDLeavesNoDailySession(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	conv, _ := newSession(t, userID, time.Now())

	_, _, err := testDB.CreateSession(ctx, model.NewSession{
		UserID:                 userID,
		ProviderConversationID: conv.ProviderConversationID,
		ConversationURL:        "https://tavus.daily.co/other",
		ReplicaID:              "r1",
		PersonaID:              "p1",
		StartedAt:              time.Now(),
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	_, total, err := testDB.ListDailySessions(ctx, userID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "the failed insert must roll back its daily session")
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.GetConversation(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.GetConversationByProviderID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.GetDailySession(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = testDB.PatchTranscript(ctx, uuid.New(), model.TranscriptPatch{Transcript: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteSession(t *testing.T) {
	ctx := context.Background()
	started := time.Now().Add(-90 * time.Second)
	conv, daily := newSession(t, uuid.New(), started)

	res, err := testDB.CompleteSession(ctx, model.CompleteSession{ConversationID: conv.ID, EndedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.GreaterOrEqual(t, res.DurationSeconds, 89)
	assert.Equal(t, model.ConversationCompleted, res.Conversation.Status)

	gotDaily, err := testDB.GetDailySession(ctx, daily.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DailySessionCompleted, gotDaily.Status)
	require.NotNil(t, gotDaily.DurationSeconds)
	assert.Equal(t, res.DurationSeconds, *gotDaily.DurationSeconds)
	assert.NotNil(t, gotDaily.CompletedAt)

	// A second completion is a no-op that reports the stored duration.
	again, err := testDB.CompleteSession(ctx, model.CompleteSession{
		ConversationID:  conv.ID,
		EndedAt:         time.Now().Add(time.Hour),
		DurationSeconds: 9999,
	})
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, res.DurationSeconds, again.DurationSeconds)

	after, err := testDB.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, after.EndedAt)
	assert.True(t, res.Conversation.EndedAt.Equal(*after.EndedAt), "ended_at must not move")
}

func TestCompleteSessionDurationOverride(t *testing.T) {
	ctx := context.Background()
	conv, _ := newSession(t, uuid.New(), time.Now())

	res, err := testDB.CompleteSession(ctx, model.CompleteSession{
		ConversationID:  conv.ID,
		EndedAt:         time.Now(),
		DurationSeconds: 321,
	})
	require.NoError(t, err)
	assert.Equal(t, 321, res.DurationSeconds)
}

func TestCompleteSessionConcurrentSingleWriter(t *testing.T) {
	ctx := context.Background()
	conv, _ := newSession(t, uuid.New(), time.Now().Add(-time.Minute))

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    []error
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := testDB.CompleteSession(ctx, model.CompleteSession{
				ConversationID:  conv.ID,
				EndedAt:         time.Now(),
				DurationSeconds: 100 + i,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Applied {
				applied++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, applied, "exactly one caller should apply the transition")
}

func TestCompleteSessionUnknown(t *testing.T) {
	_, err := testDB.CompleteSession(context.Background(), model.CompleteSession{ConversationID: uuid.New(), EndedAt: time.Now()})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestMarkSessionActive(t *testing.T) {
	ctx := context.Background()
	conv, daily := newSession(t, uuid.New(), time.Now())

	applied, err := testDB.MarkSessionActive(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := testDB.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationActive, got.Status)
	gotDaily, err := testDB.GetDailySession(ctx, daily.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DailySessionInProgress, gotDaily.Status)

	applied, err = testDB.MarkSessionActive(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, applied, "second start event is a no-op")
}

func TestMarkSessionActiveAfterCompletion(t *testing.T) {
	ctx := context.Background()
	conv, daily := newSession(t, uuid.New(), time.Now())

	_, err := testDB.CompleteSession(ctx, model.CompleteSession{ConversationID: conv.ID, EndedAt: time.Now()})
	require.NoError(t, err)

	applied, err := testDB.MarkSessionActive(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := testDB.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationCompleted, got.Status, "a late start event must not reopen the conversation")
	gotDaily, err := testDB.GetDailySession(ctx, daily.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DailySessionCompleted, gotDaily.Status)
}

func TestPatchTranscript(t *testing.T) {
	ctx := context.Background()
	_, daily := newSession(t, uuid.New(), time.Now())

	url := "https://cdn.example.com/rec.mp4"
	count := 2
	require.NoError(t, testDB.PatchTranscript(ctx, daily.ID, model.TranscriptPatch{
		Transcript:       "hello there",
		RecordingURL:     &url,
		ParticipantCount: &count,
		Metadata:         map[string]any{"source": "tavus"},
	}))

	// A later patch without optional fields keeps stored values and merges metadata.
	require.NoError(t, testDB.PatchTranscript(ctx, daily.ID, model.TranscriptPatch{
		Transcript: "hello there, final",
		Metadata:   map[string]any{"shutdown_reason": "participant_left"},
	}))

	got, err := testDB.GetDailySession(ctx, daily.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello there, final", *got.Transcript)
	require.NotNil(t, got.RecordingURL)
	assert.Equal(t, url, *got.RecordingURL)
	require.NotNil(t, got.ParticipantCount)
	assert.Equal(t, 2, *got.ParticipantCount)
	assert.Equal(t, "tavus", got.ProviderMetadata["source"])
	assert.Equal(t, "participant_left", got.ProviderMetadata["shutdown_reason"])
}

func TestListDailySessions(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	for range 3 {
		newSession(t, userID, time.Now())
	}
	newSession(t, uuid.New(), time.Now())

	page, total, err := testDB.ListDailySessions(ctx, userID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.False(t, page[0].CreatedAt.Before(page[1].CreatedAt), "newest first")

	rest, _, err := testDB.ListDailySessions(ctx, userID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	for _, s := range append(page, rest...) {
		assert.Equal(t, userID, s.UserID)
	}
}

func TestProfileContext(t *testing.T) {
	ctx := context.Background()
	userID, err := testutil.SeedProfile(ctx, testDB, testutil.ProfileSeed{
		FullName:       "Ana Souza",
		DISCType:       "SC",
		FocusArea:      "stress_management",
		PreferredTime:  "morning",
		SessionMinutes: 15,
		Emotions:       []string{"calm", "hopeful"},
		ActiveGoals:    []string{"g1", "g2", "g3", "g4", "g5", "g6"},
		CompletedGoals: []string{"done"},
	})
	require.NoError(t, err)

	p, err := testDB.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", p.FullName)
	assert.Equal(t, "en", p.PreferredLanguage)

	a, err := testDB.GetLatestAssessment(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "SC", a.DISCType)

	r, err := testDB.GetRitualPreferences(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "stress_management", r.FocusArea)
	assert.Equal(t, 15, r.SessionLengthMinutes)

	emotions, err := testDB.ListEmotionalCategories(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"calm", "hopeful"}, emotions)

	goals, err := testDB.ListActiveGoals(ctx, userID, 5)
	require.NoError(t, err)
	require.Len(t, goals, 5)
	assert.Equal(t, "g6", goals[0].Title, "newest first")
	for _, g := range goals {
		assert.Equal(t, model.GoalActive, g.Status)
	}
}

func TestProfileContextMissingOptional(t *testing.T) {
	ctx := context.Background()
	userID, err := testutil.SeedProfile(ctx, testDB, testutil.ProfileSeed{FullName: "Sam"})
	require.NoError(t, err)

	a, err := testDB.GetLatestAssessment(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, a)

	r, err := testDB.GetRitualPreferences(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, r)

	emotions, err := testDB.ListEmotionalCategories(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, emotions)

	_, err = testDB.GetProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrphans(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	open := "orphan-" + uuid.NewString()[:8]
	cancelled := "orphan-" + uuid.NewString()[:8]

	require.NoError(t, testDB.RecordOrphan(ctx, model.OrphanedConversation{
		UserID: userID, ProviderConversationID: open, Reason: model.OrphanReasonPersistFailed,
	}))
	require.NoError(t, testDB.RecordOrphan(ctx, model.OrphanedConversation{
		UserID: userID, ProviderConversationID: cancelled, Reason: model.OrphanReasonPersistFailed, Cancelled: true, Attempts: 1,
	}))
	// Duplicate records are ignored.
	require.NoError(t, testDB.RecordOrphan(ctx, model.OrphanedConversation{
		UserID: userID, ProviderConversationID: open, Reason: model.OrphanReasonMissingURL,
	}))

	find := func(maxAttempts int) *model.OrphanedConversation {
		orphans, err := testDB.ListUnresolvedOrphans(ctx, maxAttempts, 1000)
		require.NoError(t, err)
		for _, o := range orphans {
			assert.NotEqual(t, cancelled, o.ProviderConversationID, "cancelled orphans are resolved on insert")
			if o.ProviderConversationID == open {
				return &o
			}
		}
		return nil
	}

	o := find(3)
	require.NotNil(t, o)
	assert.Equal(t, model.OrphanReasonPersistFailed, o.Reason)

	require.NoError(t, testDB.RecordOrphanAttempt(ctx, o.ID, "provider 500"))
	require.NoError(t, testDB.RecordOrphanAttempt(ctx, o.ID, "provider 502"))
	o = find(3)
	require.NotNil(t, o)
	assert.Equal(t, 2, o.Attempts)
	require.NotNil(t, o.LastError)
	assert.Equal(t, "provider 502", *o.LastError)
	assert.Nil(t, find(2), "orphans at the attempt cap are skipped")

	require.NoError(t, testDB.MarkOrphanResolved(ctx, o.ID))
	assert.Nil(t, find(100))
	assert.ErrorIs(t, testDB.MarkOrphanResolved(ctx, o.ID), storage.ErrNotFound)
}
