package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/kokoro/internal/tavus"
)

// reconcileBatch caps how many orphans one pass handles.
const reconcileBatch = 100

// ReconcileOrphans retries the provider end call for unresolved orphans.
// An orphan is resolved when the provider accepts the call or no longer
// knows the conversation. It returns how many orphans were resolved.
func (s *Service) ReconcileOrphans(ctx context.Context) (int, error) {
	orphans, err := s.store.ListUnresolvedOrphans(ctx, s.cfg.OrphanMaxAttempts, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("sessions: reconcile: %w", err)
	}

	resolved := 0
	for _, o := range orphans {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}

		endErr := s.endProviderConversation(ctx, o.ProviderConversationID)
		if endErr == nil || errors.Is(endErr, tavus.ErrNotFound) {
			if err := s.store.MarkOrphanResolved(ctx, o.ID); err != nil {
				s.logger.Warn("reconcile: mark orphan resolved failed", "orphan_id", o.ID, "error", err)
				continue
			}
			resolved++
			s.logger.Info("reconcile: orphaned conversation cancelled",
				"tavus_conversation_id", o.ProviderConversationID, "attempts", o.Attempts+1)
			continue
		}

		if err := s.store.RecordOrphanAttempt(ctx, o.ID, endErr.Error()); err != nil {
			s.logger.Warn("reconcile: record attempt failed", "orphan_id", o.ID, "error", err)
			continue
		}
		if o.Attempts+1 >= s.cfg.OrphanMaxAttempts {
			s.logger.Error("reconcile: giving up on orphaned conversation, manual cleanup required",
				"tavus_conversation_id", o.ProviderConversationID,
				"user_id", o.UserID,
				"attempts", o.Attempts+1,
				"error", endErr,
			)
		}
	}
	return resolved, nil
}
