// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/wayfarer/internal/config"
	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/storage"
	"github.com/tomtom215/wayfarer/internal/validation"
)

// idRule bounds user and trip IDs taken from the path.
const idRule = "required,max=128"

const readinessTimeout = 2 * time.Second

// TripHub is the part of *hub.Hub the HTTP layer uses.
type TripHub interface {
	Serve(ctx context.Context, userID string, peer hub.Peer) error
	Participants(tripID string) []string
	Location(userID string) (hub.PresenceRecord, bool)
	Stats() hub.Stats
}

// WriterStats is implemented by *storage.Writer.
type WriterStats interface {
	Stats() storage.WriterStats
}

// HandlerOptions holds the handler's collaborators. Writer and Storage may be nil.
type HandlerOptions struct {
	Hub      TripHub
	Writer   WriterStats
	Storage  storage.Pinger
	HubConf  config.HubConfig
	Security config.SecurityConfig
}

// Handler serves every route.
type Handler struct {
	hub       TripHub
	writer    WriterStats
	storage   storage.Pinger
	hubConf   config.HubConfig
	origins   []string
	upgrader  websocket.Upgrader
	startTime time.Time
}

func NewHandler(opts HandlerOptions) *Handler {
	origins := opts.Security.WSAllowedOrigins
	if len(origins) == 0 {
		origins = opts.Security.CORSOrigins
	}
	h := &Handler{
		hub:       opts.Hub,
		writer:    opts.Writer,
		storage:   opts.Storage,
		hubConf:   opts.HubConf,
		origins:   origins,
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkWebSocketOrigin,
	}
	return h
}

// pathID reads and validates a path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if verr := validation.ValidateVar(name, id, idRule); verr != nil {
		first := verr.First()
		respondError(w, r, http.StatusBadRequest, &APIError{
			Code:    CodeValidation,
			Message: first.Error(),
			Details: map[string]interface{}{"field": first.Field(), "tag": first.Tag()},
		}, nil)
		return "", false
	}
	return id, true
}

// Participants returns the trip's members as a bare JSON array.
func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathID(w, r, "trip_id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.hub.Participants(tripID))
}

// Location returns the user's presence record, or {} when none is held.
func (h *Handler) Location(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	rec, found := h.hub.Location(userID)
	if !found {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, "success", map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady reports 503 while the storage backend does not answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	storageOK := true
	var storageErr string
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			storageOK = false
			storageErr = err.Error()
		}
	}

	status, text := http.StatusOK, "ready"
	if !storageOK {
		status, text = http.StatusServiceUnavailable, "not_ready"
	}
	data := map[string]interface{}{
		"storage_connected": storageOK,
		"ready_to_serve":    storageOK,
		"uptime":            time.Since(h.startTime).Seconds(),
	}
	if storageErr != "" {
		data["storage_error"] = sanitizeLogValue(storageErr)
	}
	respondJSON(w, r, status, text, data)
}

// HubStatsResponse is the data of /api/v1/hub/stats.
type HubStatsResponse struct {
	hub.Stats
	Writer *storage.WriterStats `json:"writer,omitempty"`
}

func (h *Handler) HubStats(w http.ResponseWriter, r *http.Request) {
	resp := HubStatsResponse{Stats: h.hub.Stats()}
	if h.writer != nil {
		ws := h.writer.Stats()
		resp.Writer = &ws
	}
	respondJSON(w, r, http.StatusOK, "success", resp)
}
