// Package http provides the HTTP handlers and routes for crmbridge.
package http

import (
	"log/slog"
	"net/http"

	"github.com/0ndata/crmbridge/internal/adapter/ws"
	"github.com/0ndata/crmbridge/internal/bridge"
	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/middleware"
	"github.com/0ndata/crmbridge/internal/oauth"
	"github.com/0ndata/crmbridge/internal/port/events"
	"github.com/0ndata/crmbridge/internal/port/usagestore"
	"github.com/0ndata/crmbridge/internal/ratelimit"
	"github.com/0ndata/crmbridge/internal/schema"
	"github.com/0ndata/crmbridge/internal/service"
	"github.com/0ndata/crmbridge/internal/usage"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handlers bundles every dependency the HTTP surface needs.
type Handlers struct {
	cfg       *config.Config
	client    *bridge.Client
	registry  *schema.Registry
	installer *schema.Installer
	oauth     *oauth.Manager
	users     *service.UserService
	sessions  *service.SessionService
	cycle     *service.CycleService
	tracker   *usage.Tracker
	limiter   *ratelimit.Limiter
	rollups   usagestore.Store // nil when persistence is disabled
	publisher events.Publisher // nil when eventing is disabled
	hub       *ws.Hub
	log       *slog.Logger
}

// NewHandlers creates the handler set. rollups, publisher, and hub may be
// nil; the corresponding endpoints degrade gracefully.
func NewHandlers(
	cfg *config.Config,
	client *bridge.Client,
	registry *schema.Registry,
	installer *schema.Installer,
	oauthMgr *oauth.Manager,
	users *service.UserService,
	sessions *service.SessionService,
	cycle *service.CycleService,
	tracker *usage.Tracker,
	limiter *ratelimit.Limiter,
	rollups usagestore.Store,
	publisher events.Publisher,
	hub *ws.Hub,
	log *slog.Logger,
) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		installer: installer,
		oauth:     oauthMgr,
		users:     users,
		sessions:  sessions,
		cycle:     cycle,
		tracker:   tracker,
		limiter:   limiter,
		rollups:   rollups,
		publisher: publisher,
		hub:       hub,
		log:       log,
	}
}

// tenant resolves the tenant id for a request: the authenticated session's
// location first, then an explicit locationId query parameter, then the
// configured default.
func (h *Handlers) tenant(r *http.Request) string {
	if claims := middleware.SessionFromContext(r.Context()); claims != nil && claims.LocationID != "" {
		return claims.LocationID
	}
	if loc := r.URL.Query().Get("locationId"); loc != "" {
		return loc
	}
	return h.cfg.CRM.LocationID
}

// Health reports process liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
