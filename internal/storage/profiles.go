package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kokoro/internal/model"
)

// GetProfile returns a user's profile.
func (db *DB) GetProfile(ctx context.Context, userID uuid.UUID) (model.Profile, error) {
	var p model.Profile
	err := db.pool.QueryRow(ctx,
		`SELECT id, full_name, preferred_language, created_at FROM profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.FullName, &p.PreferredLanguage, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, fmt.Errorf("storage: profile %s: %w", userID, ErrNotFound)
		}
		return model.Profile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return p, nil
}

// GetLatestAssessment returns the user's most recent personality assessment,
// or nil when none exists.
func (db *DB) GetLatestAssessment(ctx context.Context, userID uuid.UUID) (*model.PersonalityAssessment, error) {
	var a model.PersonalityAssessment
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, disc_type, completed_at FROM personality_assessments
		 WHERE user_id = $1
		 ORDER BY completed_at DESC
		 LIMIT 1`, userID,
	).Scan(&a.UserID, &a.DISCType, &a.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get latest assessment: %w", err)
	}
	return &a, nil
}

// GetRitualPreferences returns the user's ritual preferences, or nil when
// none are stored.
func (db *DB) GetRitualPreferences(ctx context.Context, userID uuid.UUID) (*model.RitualPreferences, error) {
	var r model.RitualPreferences
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, focus_area, preferred_time, session_length_minutes
		 FROM ritual_preferences WHERE user_id = $1`, userID,
	).Scan(&r.UserID, &r.FocusArea, &r.PreferredTime, &r.SessionLengthMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get ritual preferences: %w", err)
	}
	return &r, nil
}

// ListEmotionalCategories returns the user's emotional focus tags in the
// order they were added.
func (db *DB) ListEmotionalCategories(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT category FROM emotional_categories WHERE user_id = $1 ORDER BY created_at, category`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list emotional categories: %w", err)
	}
	categories, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: scan emotional categories: %w", err)
	}
	return categories, nil
}

// ListActiveGoals returns up to limit active goals, newest first.
func (db *DB) ListActiveGoals(ctx context.Context, userID uuid.UUID, limit int) ([]model.Goal, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, title, status, created_at FROM goals
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		userID, string(model.GoalActive), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active goals: %w", err)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		var g model.Goal
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Status, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}
