// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

/*
Package middleware provides the HTTP middleware shared by every Wayfarer route.

  - RequestID: UUID request IDs in the X-Request-ID header and the logging context
  - PrometheusMetrics: api_requests_total and api_request_duration_seconds

Both are chi-style func(http.Handler) http.Handler. The response writer wrapper
used for metrics still implements http.Hijacker so websocket upgrades pass
through it:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Get("/ws/connect/{user_id}", h.Connect)

Metrics are labeled with the matched chi route pattern, not the raw path, so
user and trip IDs never become label values.
*/
package middleware
