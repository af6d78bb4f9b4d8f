package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/engine/webhooks"
	"sprintwatch/internal/pkg/errors"
)

// maxWebhookBody caps inbound payloads at 5 MB, well above what any
// provider actually sends.
const maxWebhookBody = 5 << 20

type WebhookHandler struct {
	providerSet map[string]providers.Provider
	gateway     *webhooks.Gateway
}

func NewWebhookHandler(providerSet map[string]providers.Provider, gateway *webhooks.Gateway) *WebhookHandler {
	return &WebhookHandler{providerSet: providerSet, gateway: gateway}
}

// Receive is the public ingestion endpoint providers deliver to. No
// operator auth; the HMAC signature is the authentication.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	providerName := params.ByName("provider")
	integrationID := params.ByName("integration_id")

	provider, err := providers.Lookup(h.providerSet, providerName)
	if err != nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown provider", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}

	event, duplicate, err := h.gateway.Receive(provider, integrationID, body, r.Header)
	if err != nil {
		switch err {
		case webhooks.ErrBadSignature:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeSignatureInvalid, "Webhook signature verification failed", nil)
		case webhooks.ErrNoSubscription:
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "No active webhook subscription for integration", nil)
		default:
			// Persistence or queue failure. Tell the provider to retry
			// the delivery later rather than dropping it.
			log.Error().Err(err).Str("provider", providerName).Str("integration_id", integrationID).
				Msg("webhook admission failed")
			errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeInternal, "Event could not be accepted, retry later", nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"event_id":  event.ID,
		"duplicate": duplicate,
	})
}
