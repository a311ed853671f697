package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/storage"
)

// maxIdempotencyKeyLen bounds the Idempotency-Key header.
const maxIdempotencyKeyLen = 255

type idempotencyHandle struct {
	key      string
	endpoint string
	userID   uuid.UUID
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func requestHash(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// beginIdempotentWrite checks, replays, or reserves an idempotency key.
// Returns (nil, true) when no key is present and the caller should proceed
// normally. Returns (nil, false) when a response has already been written.
func (h *Handlers) beginIdempotentWrite(
	w http.ResponseWriter,
	r *http.Request,
	userID uuid.UUID,
	endpoint string,
	payload any,
) (*idempotencyHandle, bool) {
	key := idempotencyKey(r)
	if key == "" {
		return nil, true
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen))
		return nil, false
	}

	hash, err := requestHash(payload)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash idempotency payload", err)
		return nil, false
	}

	lookup, err := h.db.BeginIdempotency(r.Context(), userID, endpoint, key, hash)
	switch {
	case err == nil:
		if lookup.Completed {
			status := lookup.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(lookup.ResponseData)
			return nil, false
		}
		return &idempotencyHandle{key: key, endpoint: endpoint, userID: userID}, true
	case errors.Is(err, storage.ErrIdempotencyPayloadMismatch):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "idempotency key reused with different payload")
		return nil, false
	case errors.Is(err, storage.ErrIdempotencyInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "request with this idempotency key is already in progress")
		return nil, false
	default:
		h.writeInternalError(w, r, "idempotency lookup failed", err)
		return nil, false
	}
}

// completeIdempotentWrite stores the response for replay. It runs detached
// from the request context so a client disconnect right after the write
// does not leave the key stuck in progress.
func (h *Handlers) completeIdempotentWrite(r *http.Request, idem *idempotencyHandle, statusCode int, data any) {
	if idem == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
	defer cancel()

	if err := h.finalizeIdempotency(writeCtx, idem, statusCode, data); err != nil {
		h.logger.Error("failed to finalize idempotency record after committed mutation",
			"error", err,
			"user_id", idem.userID,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
}

func (h *Handlers) finalizeIdempotency(ctx context.Context, idem *idempotencyHandle, statusCode int, data any) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := h.db.CompleteIdempotency(ctx, idem.userID, idem.endpoint, idem.key, statusCode, data)
		if err == nil {
			return nil
		}
		lastErr = err
		h.logger.Warn("idempotency finalize attempt failed",
			"attempt", attempt,
			"error", err,
			"endpoint", idem.endpoint,
			"user_id", idem.userID,
		)

		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("idempotency finalize context expired: %w", lastErr)
		}
	}
	return fmt.Errorf("failed to complete idempotency record after retries: %w", lastErr)
}

// clearIdempotentWrite releases a reservation after a failure that left
// nothing behind, so the client can retry with the same key.
func (h *Handlers) clearIdempotentWrite(r *http.Request, idem *idempotencyHandle) {
	if idem == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := h.db.ClearInProgressIdempotency(ctx, idem.userID, idem.endpoint, idem.key); err != nil {
		h.logger.Error("failed to clear idempotency record",
			"error", err,
			"endpoint", idem.endpoint,
			"user_id", idem.userID,
		)
	}
}
