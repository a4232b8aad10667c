package http

import (
	"net/http"

	"github.com/0ndata/crmbridge/internal/port/usagestore"
	"github.com/0ndata/crmbridge/internal/ratelimit"
)

type usageStatsResponse struct {
	Tenant  string                  `json:"tenant"`
	Today   int                     `json:"today"`
	Limiter ratelimit.Stats         `json:"limiter"`
	History []usagestore.DailyUsage `json:"history,omitempty"`
}

// UsageStats reports today's metered call count, the shared limiter state,
// and recent daily rollups when persistence is enabled.
func (h *Handlers) UsageStats(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenant(r)

	out := usageStatsResponse{
		Tenant:  tenantID,
		Today:   h.tracker.Usage(tenantID, ""),
		Limiter: h.limiter.GetStats(),
	}

	if h.rollups != nil {
		history, err := h.rollups.Daily(r.Context(), tenantID, 30)
		if err != nil {
			h.log.Warn("usage history fetch failed", "tenant", tenantID, "error", err)
		} else {
			out.History = history
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// InstallSchemas reconciles all registered schema definitions against the
// tenant's CRM. The report carries per-definition outcomes.
func (h *Handlers) InstallSchemas(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenant(r)
	report := h.installer.InstallAll(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, report)
}
