// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/wayfarer/internal/middleware"
)

// NewRouter wires h's handlers behind the shared middleware stack.
func NewRouter(h *Handler, mw *ChiMiddleware) http.Handler {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(middleware.PrometheusMetrics)

	// Upgrades are not rate limited by the HTTP limiter; each connection
	// gets its own inbound limiter in the hub.
	r.Route("/ws", func(r chi.Router) {
		r.Get("/connect/{user_id}", h.Connect)
		r.With(mw.RateLimit()).Get("/trip/{trip_id}/participants", h.Participants)
		r.With(mw.RateLimit()).Get("/user/{user_id}/location", h.Location)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)
		r.Get("/hub/stats", h.HubStats)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
