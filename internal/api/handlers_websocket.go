// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	ws "github.com/tomtom215/wayfarer/internal/websocket"
)

// Connect upgrades the request and blocks until the hub is done with the
// connection.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, h.hubConf)
	if err := h.hub.Serve(r.Context(), userID, client); err != nil {
		if errors.Is(err, hub.ErrHubClosed) {
			logging.Ctx(r.Context()).Info().Str("user_id", sanitizeLogValue(userID)).Msg("WebSocket rejected: hub shutting down")
			return
		}
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket session ended with error")
	}
}

// checkWebSocketOrigin requires an Origin from the allow list. Browsers always
// send one; a missing Origin is accepted only when "*" is allowed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range h.origins {
		if allowed == "*" {
			return true
		}
		if origin != "" && allowed == origin {
			return true
		}
	}

	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
	} else {
		logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	}
	return false
}
