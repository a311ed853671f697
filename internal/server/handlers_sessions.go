package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/service/sessions"
	"github.com/ashita-ai/kokoro/internal/tavus"
)

const startEndpoint = "POST:/v1/sessions/start"

// HandleStartSession handles POST /v1/sessions/start.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req model.StartSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes, true); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	userID, err := model.ParseUUIDField("user_id", req.UserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if userID != callerID(r) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "user_id does not match the authenticated user")
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, userID, startEndpoint, req)
	if !proceed {
		return
	}

	res, err := h.sessions.Start(r.Context(), userID)
	if err != nil {
		// Every failure path in Start leaves no live conversation behind
		// (compensation has already run), so the key can be retried.
		h.clearIdempotentWrite(r, idem)
		h.writeSessionError(w, r, "failed to start session", err)
		return
	}

	resp := model.StartSessionResponse{
		Success:              true,
		ConversationURL:      res.ConversationURL,
		ConversationID:       res.Conversation.ProviderConversationID,
		MentorConversationID: res.Conversation.ID,
		DailySessionID:       res.DailySession.ID,
		PersonaName:          res.PersonaName,
	}
	h.completeIdempotentWrite(r, idem, http.StatusCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// HandleEndSession handles POST /v1/sessions/end.
func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	var req model.EndSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes, true); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	in, err := parseEndRequest(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if in.UserID != callerID(r) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "user_id does not match the authenticated user")
		return
	}

	res, err := h.sessions.End(r.Context(), in)
	if err != nil {
		h.writeSessionError(w, r, "failed to end session", err)
		return
	}

	writeJSON(w, http.StatusOK, model.EndSessionResponse{
		Success:         true,
		DurationSeconds: res.DurationSeconds,
		Message:         res.Message(),
	})
}

func parseEndRequest(req model.EndSessionRequest) (sessions.EndInput, error) {
	if req.TavusConversationID == "" {
		return sessions.EndInput{}, fmt.Errorf("tavus_conversation_id is required")
	}
	convID, err := model.ParseUUIDField("mentor_conversation_id", req.MentorConversationID)
	if err != nil {
		return sessions.EndInput{}, err
	}
	dailyID, err := model.ParseUUIDField("daily_session_id", req.DailySessionID)
	if err != nil {
		return sessions.EndInput{}, err
	}
	userID, err := model.ParseUUIDField("user_id", req.UserID)
	if err != nil {
		return sessions.EndInput{}, err
	}
	return sessions.EndInput{
		UserID:                 userID,
		ProviderConversationID: req.TavusConversationID,
		ConversationID:         convID,
		DailySessionID:         dailyID,
	}, nil
}

// writeSessionError maps service errors to HTTP responses.
//
// Provider 4xx statuses are passed through, except authentication failures,
// which describe our credentials rather than the caller's request and become
// 502. Provider 5xx and transport failures are 502.
func (h *Handlers) writeSessionError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var apiErr *tavus.APIError
	switch {
	case errors.Is(err, sessions.ErrProfileNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "profile not found")
	case errors.Is(err, sessions.ErrConversationNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
	case errors.Is(err, sessions.ErrForbidden):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "conversation belongs to another user")
	case errors.Is(err, sessions.ErrMismatchedIDs):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "identifiers do not refer to the same session")
	case errors.Is(err, sessions.ErrMissingConversationURL):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "video provider returned no conversation url")
	case errors.As(err, &apiErr):
		h.logger.Warn(msg+": provider rejected request",
			"status", apiErr.StatusCode,
			"error", apiErr.Message,
			"request_id", RequestIDFromContext(r.Context()),
		)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			writeError(w, r, http.StatusBadGateway, model.ErrCodeMisconfigured, "video provider rejected service credentials")
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			writeError(w, r, apiErr.StatusCode, model.ErrCodeUpstream, "video provider error: "+apiErr.Message)
		default:
			writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream,
				fmt.Sprintf("video provider error (status %d)", apiErr.StatusCode))
		}
	case errors.Is(err, sessions.ErrProviderUnavailable):
		h.logger.Warn(msg+": provider unreachable", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "video provider unavailable")
	default:
		h.writeInternalError(w, r, msg, err)
	}
}
