// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/costboard/gateway/internal/auth"
	"github.com/costboard/gateway/internal/config"
	"github.com/costboard/gateway/internal/middleware"
)

// Router builds the gateway's HTTP surface.
type Router struct {
	handler  *Handler
	verifier *auth.Verifier
	cfg      *config.Config
}

// NewRouter wires handlers, verifier and config into a router.
func NewRouter(handler *Handler, verifier *auth.Verifier, cfg *config.Config) *Router {
	return &Router{
		handler:  handler,
		verifier: verifier,
		cfg:      cfg,
	}
}

// Setup configures all HTTP routes using the chi router.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints: permissive rate limit, no auth, so orchestration
	// probes never get locked out.
	r.Route("/api/v1/health", func(r chi.Router) {
		if !router.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(1000, router.cfg.Security.RateLimitWindow))
		}
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Prometheus scrape endpoint.
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket handshakes. Mounted outside the instrumented API group:
	// the metrics wrapper would hide the hijackable ResponseWriter the
	// upgrade needs. Handshakes are rate limited separately and
	// authenticated before the upgrade; a bad token costs one HTTP 401,
	// never a registry entry.
	r.Route("/ws", func(r chi.Router) {
		if !router.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(
				router.cfg.Security.HandshakeLimitReqs,
				router.cfg.Security.HandshakeLimitWindow,
			))
		}
		r.Use(auth.Authenticate(router.verifier))
		r.Get("/chat", router.handler.WebSocketChat)
		r.Get("/notifications", router.handler.WebSocketNotifications)
	})

	// Authenticated REST API: presence queries and the internal deliver
	// endpoint for the business layer.
	r.Route("/api/v1", func(r chi.Router) {
		if !router.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(
				router.cfg.Security.RateLimitReqs,
				router.cfg.Security.RateLimitWindow,
			))
		}
		r.Use(middleware.PrometheusMetrics)
		r.Use(auth.Authenticate(router.verifier))

		r.Get("/presence/rooms/{kind}/{id}", router.handler.PresenceRoom)
		r.Get("/presence/users", router.handler.PresenceUsers)
		r.Get("/presence/users/{id}", router.handler.PresenceUser)
		r.Post("/deliver", router.handler.Deliver)
	})

	// Unmatched routes get the JSON error envelope instead of chi's
	// plain-text default.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).NotFound("route not found")
	})

	return r
}
