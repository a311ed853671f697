// Package testutil provides shared test infrastructure for integration tests
// that need a PostgreSQL container.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kokoro/internal/storage"
	"github.com/ashita-ai/kokoro/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a PostgreSQL container. Calls os.Exit(1) on
// failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kokoro",
			"POSTGRES_PASSWORD": "kokoro",
			"POSTGRES_DB":       "kokoro",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://kokoro:kokoro@%s:%s/kokoro?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// ProfileSeed describes the user context rows SeedProfile inserts.
// Zero-valued optional fields are skipped.
type ProfileSeed struct {
	FullName          string
	PreferredLanguage string
	DISCType          string
	FocusArea         string
	PreferredTime     string
	SessionMinutes    int
	Emotions          []string
	ActiveGoals       []string
	CompletedGoals    []string
}

// SeedProfile inserts a profile and its optional context rows and returns
// the new user id. Goals are inserted one second apart in slice order, so
// the last one is the newest.
func SeedProfile(ctx context.Context, db *storage.DB, seed ProfileSeed) (uuid.UUID, error) {
	userID := uuid.New()
	lang := seed.PreferredLanguage
	if lang == "" {
		lang = "en"
	}
	pool := db.Pool()

	if _, err := pool.Exec(ctx,
		`INSERT INTO profiles (id, full_name, preferred_language) VALUES ($1, $2, $3)`,
		userID, seed.FullName, lang,
	); err != nil {
		return uuid.Nil, fmt.Errorf("testutil: insert profile: %w", err)
	}
	if seed.DISCType != "" {
		if _, err := pool.Exec(ctx,
			`INSERT INTO personality_assessments (user_id, disc_type) VALUES ($1, $2)`,
			userID, seed.DISCType,
		); err != nil {
			return uuid.Nil, fmt.Errorf("testutil: insert assessment: %w", err)
		}
	}
	if seed.FocusArea != "" || seed.PreferredTime != "" || seed.SessionMinutes > 0 {
		minutes := seed.SessionMinutes
		if minutes <= 0 {
			minutes = 10
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO ritual_preferences (user_id, focus_area, preferred_time, session_length_minutes)
			 VALUES ($1, $2, $3, $4)`,
			userID, seed.FocusArea, seed.PreferredTime, minutes,
		); err != nil {
			return uuid.Nil, fmt.Errorf("testutil: insert ritual preferences: %w", err)
		}
	}
	for _, e := range seed.Emotions {
		if _, err := pool.Exec(ctx,
			`INSERT INTO emotional_categories (user_id, category) VALUES ($1, $2)`, userID, e,
		); err != nil {
			return uuid.Nil, fmt.Errorf("testutil: insert emotional category: %w", err)
		}
	}

	base := time.Now().Add(-time.Hour)
	insertGoal := func(i int, title, status string) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO goals (user_id, title, status, created_at) VALUES ($1, $2, $3, $4)`,
			userID, title, status, base.Add(time.Duration(i)*time.Second),
		)
		return err
	}
	for i, g := range seed.ActiveGoals {
		if err := insertGoal(i, g, "active"); err != nil {
			return uuid.Nil, fmt.Errorf("testutil: insert goal: %w", err)
		}
	}
	for i, g := range seed.CompletedGoals {
		if err := insertGoal(i, g, "completed"); err != nil {
			return uuid.Nil, fmt.Errorf("testutil: insert goal: %w", err)
		}
	}
	return userID, nil
}
