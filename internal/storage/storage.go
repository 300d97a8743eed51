// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package storage persists trip events behind the hub.
//
// A Backend is a synchronous store (badger, SQLite, Postgres, NATS or
// memory). The hub never calls a Backend directly: it talks to a Writer,
// which implements hub.Recorder and hub.PresenceWriter by enqueuing jobs on a
// bounded queue that a single worker drains through a circuit breaker. A slow
// or failing store therefore costs dropped records, never a stalled hub.
//
//	backend, _ := sqlitestore.Open(ctx, "/data/wayfarer.db")
//	writer := storage.NewWriter(backend, storage.WriterConfig{QueueSize: 1024})
//	h := hub.New(hub.Options{Recorder: writer, PresenceWriter: writer})
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/wayfarer/internal/hub"
)

var (
	// ErrQueueFull is returned when the writer queue has no room for a job.
	ErrQueueFull = errors.New("storage queue full")

	// ErrWriterClosed is returned for jobs submitted after the writer stopped.
	ErrWriterClosed = errors.New("storage writer closed")

	// ErrClosed is returned by a backend used after Close.
	ErrClosed = errors.New("storage backend closed")
)

// LocationPing is one accepted location_update.
type LocationPing struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TripID      string          `json:"trip_id"`
	Coordinates hub.Coordinates `json:"coordinates"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// ChatMessage is one relayed trip_message.
type ChatMessage struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	TripID  string    `json:"trip_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// EmergencyAlert is one relayed emergency_alert.
type EmergencyAlert struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	TripID      string           `json:"trip_id"`
	AlertType   string           `json:"alert_type"`
	Coordinates *hub.Coordinates `json:"coordinates,omitempty"`
	RaisedAt    time.Time        `json:"raised_at"`
}

// Backend is a synchronous event store. Implementations must be safe for
// concurrent use, although Writer only ever calls them from one goroutine.
type Backend interface {
	SaveLocationPing(ctx context.Context, p LocationPing) error
	SaveChatMessage(ctx context.Context, m ChatMessage) error
	SaveEmergencyAlert(ctx context.Context, a EmergencyAlert) error
	SavePresence(ctx context.Context, rec hub.PresenceRecord) error
	Close() error
}

// Reader is implemented by backends that can return history for a trip,
// oldest first.
type Reader interface {
	LocationPings(ctx context.Context, tripID string) ([]LocationPing, error)
	ChatMessages(ctx context.Context, tripID string) ([]ChatMessage, error)
	EmergencyAlerts(ctx context.Context, tripID string) ([]EmergencyAlert, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewID returns a random identifier for an event row.
func NewID() string {
	return uuid.New().String()
}
