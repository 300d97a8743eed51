// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

/*
Package api is Wayfarer's HTTP surface, routed with chi.

Routes:

	GET /ws/connect/{user_id}              websocket upgrade, served by the hub
	GET /ws/trip/{trip_id}/participants    JSON array of user IDs
	GET /ws/user/{user_id}/location        presence record, or {} when unknown
	GET /api/v1/health/live                liveness
	GET /api/v1/health/ready               readiness (storage ping)
	GET /api/v1/hub/stats                  hub table sizes and writer counters
	GET /metrics                           Prometheus exposition

The two /ws query routes return bare JSON so existing clients keep working.
The /api/v1 routes use the APIResponse envelope.

Websocket upgrades require an Origin header listed in
security.ws_allowed_origins (falling back to security.cors_origins). A "*"
entry accepts any origin, including requests without one, which is how
native mobile clients connect.
*/
package api
