package server

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/service/sessions"
)

// HandleTavusWebhook handles POST /webhooks/tavus.
//
// The provider does not sign callbacks, so when a webhook token is
// configured the callback URL carries it and requests without it are
// rejected.
func (h *Handlers) HandleTavusWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookToken != "" {
		got := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid webhook token")
			return
		}
	}

	var ev model.WebhookEvent
	if err := decodeJSON(w, r, &ev, h.maxRequestBodyBytes, false); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	msg, err := h.sessions.HandleWebhook(r.Context(), ev)
	if err != nil {
		if errors.Is(err, sessions.ErrConversationNotFound) {
			h.logger.Warn("webhook for unknown conversation",
				"tavus_conversation_id", ev.ConversationID,
				"event_type", ev.EventType,
			)
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
			return
		}
		h.writeInternalError(w, r, "failed to process webhook", err)
		return
	}

	writeJSON(w, http.StatusOK, model.WebhookResponse{Success: true, Message: msg})
}
