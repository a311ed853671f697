package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kokoro/internal/model"
)

const conversationColumns = `id, user_id, tavus_conversation_id, conversation_url, replica_id, persona_id,
	conversation_type, status, daily_session_id, started_at, ended_at, duration_seconds, created_at, updated_at`

const dailySessionColumns = `id, user_id, session_type, status, scheduled_date, started_at, completed_at,
	duration_seconds, virtue, insight, transcript, recording_url, participant_count, provider_metadata,
	created_at, updated_at`

func scanConversation(row pgx.Row) (model.ConversationRecord, error) {
	var c model.ConversationRecord
	err := row.Scan(
		&c.ID, &c.UserID, &c.ProviderConversationID, &c.ConversationURL, &c.ReplicaID, &c.PersonaID,
		&c.ConversationType, &c.Status, &c.DailySessionID, &c.StartedAt, &c.EndedAt, &c.DurationSeconds,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func scanDailySession(row pgx.Row) (model.DailySession, error) {
	var s model.DailySession
	err := row.Scan(
		&s.ID, &s.UserID, &s.SessionType, &s.Status, &s.ScheduledDate, &s.StartedAt, &s.CompletedAt,
		&s.DurationSeconds, &s.Virtue, &s.Insight, &s.Transcript, &s.RecordingURL, &s.ParticipantCount,
		&s.ProviderMetadata, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// CreateSession inserts a daily session in status started and its pending
// conversation in one transaction. Either both rows exist afterwards or
// neither does. A provider conversation id that is already recorded yields
// ErrDuplicate.
func (db *DB) CreateSession(ctx context.Context, s model.NewSession) (model.ConversationRecord, model.DailySession, error) {
	var (
		conv  model.ConversationRecord
		daily model.DailySession
	)
	startedAt := s.StartedAt.UTC()

	err := db.inTx(ctx, "create session", func(tx pgx.Tx) error {
		var err error
		daily, err = scanDailySession(tx.QueryRow(ctx,
			`INSERT INTO daily_sessions (user_id, session_type, status, scheduled_date, started_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+dailySessionColumns,
			s.UserID, string(model.SessionTypeVideoMentor), string(model.DailySessionStarted),
			startedAt, startedAt,
		))
		if err != nil {
			return fmt.Errorf("storage: create daily session: %w", err)
		}

		conv, err = scanConversation(tx.QueryRow(ctx,
			`INSERT INTO conversations (user_id, tavus_conversation_id, conversation_url, replica_id, persona_id,
			     conversation_type, status, daily_session_id, started_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING `+conversationColumns,
			s.UserID, s.ProviderConversationID, s.ConversationURL, s.ReplicaID, s.PersonaID,
			model.ConversationTypeMentor, string(model.ConversationPending), daily.ID, startedAt,
		))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("storage: create conversation %s: %w", s.ProviderConversationID, ErrDuplicate)
			}
			return fmt.Errorf("storage: create conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.ConversationRecord{}, model.DailySession{}, err
	}
	return conv, daily, nil
}

// GetConversation returns a conversation by its local id.
func (db *DB) GetConversation(ctx context.Context, id uuid.UUID) (model.ConversationRecord, error) {
	c, err := scanConversation(db.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConversationRecord{}, fmt.Errorf("storage: conversation %s: %w", id, ErrNotFound)
		}
		return model.ConversationRecord{}, fmt.Errorf("storage: get conversation: %w", err)
	}
	return c, nil
}

// GetConversationByProviderID returns a conversation by the provider's id.
func (db *DB) GetConversationByProviderID(ctx context.Context, providerID string) (model.ConversationRecord, error) {
	c, err := scanConversation(db.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tavus_conversation_id = $1`, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConversationRecord{}, fmt.Errorf("storage: conversation %q: %w", providerID, ErrNotFound)
		}
		return model.ConversationRecord{}, fmt.Errorf("storage: get conversation by provider id: %w", err)
	}
	return c, nil
}

// GetConversationByDailySession returns the conversation linked to a daily session.
func (db *DB) GetConversationByDailySession(ctx context.Context, dailySessionID uuid.UUID) (model.ConversationRecord, error) {
	c, err := scanConversation(db.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE daily_session_id = $1`, dailySessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConversationRecord{}, fmt.Errorf("storage: conversation for session %s: %w", dailySessionID, ErrNotFound)
		}
		return model.ConversationRecord{}, fmt.Errorf("storage: get conversation by daily session: %w", err)
	}
	return c, nil
}

// GetDailySession returns a daily session by id.
func (db *DB) GetDailySession(ctx context.Context, id uuid.UUID) (model.DailySession, error) {
	s, err := scanDailySession(db.pool.QueryRow(ctx,
		`SELECT `+dailySessionColumns+` FROM daily_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DailySession{}, fmt.Errorf("storage: daily session %s: %w", id, ErrNotFound)
		}
		return model.DailySession{}, fmt.Errorf("storage: get daily session: %w", err)
	}
	return s, nil
}

// ListDailySessions returns a user's daily sessions, newest first, and the
// total count.
func (db *DB) ListDailySessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.DailySession, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM daily_sessions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count daily sessions: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+dailySessionColumns+` FROM daily_sessions
		 WHERE user_id = $1
		 ORDER BY scheduled_date DESC, created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list daily sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.DailySession
	for rows.Next() {
		s, err := scanDailySession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan daily session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

// CompleteSession applies the terminal transition to a conversation and its
// linked daily session. The conversation row is locked for the duration of
// the transaction, so concurrent callers serialize and only the first one
// writes. Later callers get Applied=false and the stored duration.
func (db *DB) CompleteSession(ctx context.Context, c model.CompleteSession) (model.CompletionResult, error) {
	var res model.CompletionResult
	err := db.inTx(ctx, "complete session", func(tx pgx.Tx) error {
		conv, err := scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, c.ConversationID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("storage: conversation %s: %w", c.ConversationID, ErrNotFound)
			}
			return fmt.Errorf("storage: lock conversation: %w", err)
		}

		if conv.Status.Terminal() {
			stored := 0
			if conv.DurationSeconds != nil {
				stored = *conv.DurationSeconds
			}
			res = model.CompletionResult{Applied: false, DurationSeconds: stored, Conversation: conv}
			return nil
		}

		duration := c.DurationSeconds
		if duration <= 0 {
			duration = model.ElapsedSeconds(conv.StartedAt, c.EndedAt)
		}
		endedAt := c.EndedAt.UTC()

		conv, err = scanConversation(tx.QueryRow(ctx,
			`UPDATE conversations
			 SET status = $2, ended_at = $3, duration_seconds = $4, updated_at = now()
			 WHERE id = $1 AND status = ANY($5)
			 RETURNING `+conversationColumns,
			conv.ID, string(model.ConversationCompleted), endedAt, duration,
			model.ConversationSourcesFor(model.ConversationCompleted),
		))
		if err != nil {
			return fmt.Errorf("storage: complete conversation: %w", err)
		}

		if conv.DailySessionID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE daily_sessions
				 SET status = $2, completed_at = $3, duration_seconds = $4, updated_at = now()
				 WHERE id = $1 AND status = ANY($5)`,
				*conv.DailySessionID, string(model.DailySessionCompleted), endedAt, duration,
				model.DailySessionSourcesFor(model.DailySessionCompleted),
			); err != nil {
				return fmt.Errorf("storage: complete daily session: %w", err)
			}
		}

		res = model.CompletionResult{Applied: true, DurationSeconds: duration, Conversation: conv}
		return nil
	})
	if err != nil {
		return model.CompletionResult{}, err
	}
	return res, nil
}

// MarkSessionActive moves a pending conversation to active and its daily
// session to in_progress. It returns false without writing when the
// conversation has already moved past pending.
func (db *DB) MarkSessionActive(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	var applied bool
	err := db.inTx(ctx, "mark session active", func(tx pgx.Tx) error {
		applied = false
		conv, err := scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, conversationID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("storage: conversation %s: %w", conversationID, ErrNotFound)
			}
			return fmt.Errorf("storage: lock conversation: %w", err)
		}
		if !conv.Status.CanTransition(model.ConversationActive) {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET status = $2, updated_at = now()
			 WHERE id = $1 AND status = ANY($3)`,
			conv.ID, string(model.ConversationActive), model.ConversationSourcesFor(model.ConversationActive),
		); err != nil {
			return fmt.Errorf("storage: activate conversation: %w", err)
		}

		if conv.DailySessionID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE daily_sessions SET status = $2, updated_at = now()
				 WHERE id = $1 AND status = ANY($3)`,
				*conv.DailySessionID, string(model.DailySessionInProgress),
				model.DailySessionSourcesFor(model.DailySessionInProgress),
			); err != nil {
				return fmt.Errorf("storage: activate daily session: %w", err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// PatchTranscript writes the provider's post-call artifacts onto a daily
// session. Nil optional fields keep their stored values; metadata keys are
// merged into the stored object.
func (db *DB) PatchTranscript(ctx context.Context, dailySessionID uuid.UUID, p model.TranscriptPatch) error {
	var meta any
	if len(p.Metadata) > 0 {
		meta = p.Metadata
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE daily_sessions
		 SET transcript = $2,
		     recording_url = COALESCE($3, recording_url),
		     participant_count = COALESCE($4, participant_count),
		     provider_metadata = CASE WHEN $5::jsonb IS NULL THEN provider_metadata
		                              ELSE COALESCE(provider_metadata, '{}'::jsonb) || $5::jsonb END,
		     updated_at = now()
		 WHERE id = $1`,
		dailySessionID, p.Transcript, p.RecordingURL, p.ParticipantCount, meta,
	)
	if err != nil {
		return fmt.Errorf("storage: patch transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: daily session %s: %w", dailySessionID, ErrNotFound)
	}
	return nil
}
