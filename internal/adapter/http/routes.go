package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/0ndata/crmbridge/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
//
// The cron and webhook endpoints sit outside session auth: the cron endpoint
// carries its own bearer secret and webhook deliveries are verified by shape.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Auth
		r.Post("/auth/signup", h.Signup)
		r.Post("/auth/signin", h.Signin)
		r.Post("/auth/signout", h.Signout)

		// Marketplace OAuth
		r.Get("/marketplace/install", h.Install)
		r.Get("/marketplace/callback", h.OAuthCallback)
		r.Post("/marketplace/disconnect", h.Disconnect)

		// Scheduled prediction cycle
		r.Post("/cron/cycle", h.RunCycle)

		// CRM webhooks
		r.Post("/webhooks/crm", h.HandleCRMWebhook)

		// Session-authenticated surface
		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(h.sessions, h.cfg.Auth.CookieName))

			r.Get("/auth/me", h.Me)

			r.Get("/admin/usage", h.UsageStats)
			r.Post("/admin/schemas/install", h.InstallSchemas)

			// Generic record API over registered schemas
			r.Route("/{schema}", func(r chi.Router) {
				r.Get("/", h.ListRecords)
				r.Post("/", h.CreateRecord)
				r.Get("/{id}", h.GetRecord)
				r.Put("/{id}", h.UpdateRecord)
				r.Delete("/{id}", h.DeleteRecord)
			})
		})
	})
}
