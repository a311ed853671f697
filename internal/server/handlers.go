package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kokoro/internal/auth"
	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/service/sessions"
	"github.com/ashita-ai/kokoro/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	sessions            *sessions.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	webhookToken        string
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Sessions            *sessions.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	// WebhookToken, when non-empty, must be presented as ?token= on
	// provider callbacks.
	WebhookToken string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		sessions:            d.Sessions,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		webhookToken:        d.WebhookToken,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, model.HealthResponse{
		Status:    status,
		Version:   h.version,
		Postgres:  pgStatus,
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	})
}

// HandleListSessions handles GET /v1/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	limit := queryLimit(r, 20)
	offset := queryOffset(r)

	list, total, err := h.db.ListDailySessions(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list sessions", err)
		return
	}
	if list == nil {
		list = []model.DailySession{}
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Data:    list,
		Total:   total,
		HasMore: offset+len(list) < total,
		Limit:   limit,
		Offset:  offset,
	})
}

// HandleGetSession handles GET /v1/sessions/{session_id}. A session owned by
// another user is reported as not found.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a valid UUID")
		return
	}

	daily, err := h.db.GetDailySession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
			return
		}
		h.writeInternalError(w, r, "failed to load session", err)
		return
	}
	if daily.UserID != callerID(r) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
		return
	}

	detail := model.SessionDetail{Session: daily}
	conv, err := h.db.GetConversationByDailySession(r.Context(), id)
	switch {
	case err == nil:
		detail.Conversation = &conv
	case errors.Is(err, storage.ErrNotFound):
	default:
		h.writeInternalError(w, r, "failed to load conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// writeInternalError logs err and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// callerID returns the authenticated user. Only called behind authMiddleware.
func callerID(r *http.Request) uuid.UUID {
	return claimsUserID(ClaimsFromContext(r.Context()))
}

func claimsUserID(c *auth.Claims) uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	return c.UserID()
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 100

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		return 0
	}
	if offset > maxQueryOffset {
		return maxQueryOffset
	}
	return offset
}

// queryLimit returns a limit clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
