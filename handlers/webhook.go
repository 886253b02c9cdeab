package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"messenger-console/logger"
	"messenger-console/pkg/meta"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*BaseHandler
}

// Verify answers the subscription handshake. Any mismatch is a 403 with an
// empty body.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := meta.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.Config.Meta.VerifyToken)
	if err != nil {
		logger.LogWarn("❌ Webhook verification failed (mode=%q)", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	logger.LogInfo("✅ Webhook verification successful")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Receive acks immediately and processes the payload after the response.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	if secret := h.Config.Meta.AppSecret; secret != "" {
		if err := meta.VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), secret); err != nil {
			logger.LogWarn("❌ Rejected webhook: %v", err)
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	requestID := uuid.NewString()
	logger.LogDebug("[%s] 📥 Webhook payload: %d bytes", requestID, len(body))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")

	ctx := context.WithoutCancel(r.Context())
	h.background(func() {
		sum := h.Pipeline.Process(ctx, requestID, body)
		logger.LogInfo("[%s] 📝 Webhook: %d events, %d dropped", requestID, sum.Events, len(sum.Diagnostics))
	})
}
