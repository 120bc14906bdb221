/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dapp frontend

ROUTE GROUPS:
  /api/hosts/*      Availability
  /api/invites/*    Views and redemption
  /api/admin/*      Operator actions (sweep, resolve, audit)
  /api/scenarios/*  Demo scenarios (demo ledger only)
  /metrics          Prometheus
  /healthz          Liveness

SECURITY NOTE:
  /api/admin is not authenticated here. Expose it only on an internal
  listener or behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the router's non-handler settings.
type RouterOptions struct {
	CORSOrigins []string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/hosts/{host}/slots", h.GetSlots)

		// Invite routes
		r.Route("/invites", func(r chi.Router) {
			r.Get("/", h.ListInvites)
			r.Post("/", h.CreateInvite)
			r.Get("/{id}", h.GetInvite)
			r.Post("/{id}/redeem", h.RedeemInvite)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.Reconcile)
			r.Post("/invites/{id}/resolve", h.ResolveInvite)
			r.Get("/invites/{id}/audit", h.GetAudit)
			if h.Sweep != nil {
				r.Get("/sweep", h.GetSweepStatus)
			}
		})

		// Scenario routes
		if h.Demo != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
