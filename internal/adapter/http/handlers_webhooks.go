package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/0ndata/crmbridge/internal/port/events"
)

// HandleCRMWebhook accepts CRM webhook deliveries and republishes them on
// the event bus. The CRM retries on non-2xx, so unparseable payloads are
// acknowledged and dropped rather than bounced forever.
func (h *Handlers) HandleCRMWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var payload struct {
		Type       string `json:"type"`
		LocationID string `json:"locationId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("unparseable webhook payload dropped", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	h.log.Info("crm webhook received", "type", payload.Type, "location", payload.LocationID)

	if h.publisher != nil {
		if err := h.publisher.Publish(r.Context(), events.SubjectWebhookEvent, body); err != nil {
			h.log.Warn("webhook event publish failed", "type", payload.Type, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"type":     payload.Type,
	})
}
