package http

import (
	"net/http"

	"github.com/0ndata/crmbridge/internal/domain"
)

// Install starts the marketplace OAuth flow by redirecting to the CRM's
// location chooser with a fresh CSRF state token.
func (h *Handlers) Install(w http.ResponseWriter, r *http.Request) {
	state := h.oauth.GenerateState()
	http.Redirect(w, r, h.oauth.AuthorizationURL(state), http.StatusFound)
}

// OAuthCallback completes the flow: validates state, exchanges the code, and
// persists the credential set. Schema installation runs inline so a fresh
// install is immediately usable.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if !requireField(w, code, "code") {
		return
	}

	if !h.oauth.ValidateState(state) {
		writeDomainError(w, domain.ErrStateInvalid, "")
		return
	}

	tr, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.log.Error("oauth code exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "code exchange rejected by the CRM")
		return
	}

	tenantID, err := h.oauth.SaveTokenResponse(tr)
	if err != nil {
		writeDomainError(w, err, "could not store credentials")
		return
	}

	report := h.installer.InstallAll(r.Context(), tenantID)
	h.log.Info("marketplace install complete",
		"tenant", tenantID,
		"created", len(report.Created),
		"updated", len(report.Updated),
		"errors", len(report.Errors))

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":  true,
		"locationId": tenantID,
		"schemas":    report,
	})
}

type disconnectRequest struct {
	LocationID string `json:"locationId"`
}

// Disconnect removes a tenant's stored credentials.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[disconnectRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}

	tenantID := req.LocationID
	if tenantID == "" {
		tenantID = h.tenant(r)
	}
	if !requireField(w, tenantID, "locationId") {
		return
	}

	if err := h.oauth.Disconnect(tenantID); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}
