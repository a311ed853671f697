package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kokoro/internal/model"
)

// RecordOrphan stores a provider conversation that has no local session.
// A cancelled orphan is recorded as already resolved. Recording the same
// provider conversation twice is a no-op.
func (db *DB) RecordOrphan(ctx context.Context, o model.OrphanedConversation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO orphaned_conversations (user_id, tavus_conversation_id, reason, cancelled, attempts, last_error, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $4 THEN now() END)
		 ON CONFLICT (tavus_conversation_id) DO NOTHING`,
		o.UserID, o.ProviderConversationID, o.Reason, o.Cancelled, o.Attempts, o.LastError,
	)
	if err != nil {
		return fmt.Errorf("storage: record orphan: %w", err)
	}
	return nil
}

// ListUnresolvedOrphans returns unresolved orphans that have been attempted
// fewer than maxAttempts times, oldest first.
func (db *DB) ListUnresolvedOrphans(ctx context.Context, maxAttempts, limit int) ([]model.OrphanedConversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, tavus_conversation_id, reason, cancelled, attempts, last_error,
		        resolved_at, created_at, updated_at
		 FROM orphaned_conversations
		 WHERE resolved_at IS NULL AND attempts < $1
		 ORDER BY created_at
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list orphans: %w", err)
	}
	orphans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OrphanedConversation, error) {
		var o model.OrphanedConversation
		err := row.Scan(&o.ID, &o.UserID, &o.ProviderConversationID, &o.Reason, &o.Cancelled, &o.Attempts,
			&o.LastError, &o.ResolvedAt, &o.CreatedAt, &o.UpdatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan orphans: %w", err)
	}
	return orphans, nil
}

// MarkOrphanResolved records that the provider conversation is no longer running.
func (db *DB) MarkOrphanResolved(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE orphaned_conversations
		 SET cancelled = true, attempts = attempts + 1, resolved_at = now(), updated_at = now()
		 WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("storage: resolve orphan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: orphan %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordOrphanAttempt counts a failed cancellation attempt.
func (db *DB) RecordOrphanAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE orphaned_conversations
		 SET attempts = attempts + 1, last_error = $2, updated_at = now()
		 WHERE id = $1 AND resolved_at IS NULL`, id, lastError)
	if err != nil {
		return fmt.Errorf("storage: record orphan attempt: %w", err)
	}
	return nil
}
