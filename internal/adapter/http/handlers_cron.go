package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RunCycle executes one prediction cycle. The endpoint is meant for external
// schedulers and is guarded by a shared bearer secret instead of a session.
func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	secret := h.cfg.Cron.Secret
	if secret == "" {
		writeError(w, http.StatusServiceUnavailable, "cron secret not configured")
		return
	}

	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid cron secret")
		return
	}

	tenantID := h.tenant(r)
	report, err := h.cycle.Run(r.Context(), tenantID)
	if err != nil {
		h.log.Error("cycle run failed", "tenant", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
