// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package hub is the real-time core of Wayfarer: it tracks which users are
// connected, which trips they have joined and where they were last seen, and
// relays trip events between them.
//
// The hub is transport agnostic. A transport (internal/websocket) accepts a
// connection, wraps it as a Peer and calls Serve, which blocks for the life of
// the connection:
//
//	h := hub.New(hub.Options{Recorder: writer, PresenceWriter: writer})
//	err := h.Serve(r.Context(), userID, client)
//
// Each table (Registry, Membership, Presence) has its own lock. No lock is
// held across tables or while a connection's Send runs, so a stalled peer only
// ever affects itself.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/metrics"
)

var (
	// ErrHubClosed is returned by Serve after Shutdown has begun.
	ErrHubClosed = errors.New("hub is shut down")

	// ErrEmptyUserID is returned by Serve when no user identity is given.
	ErrEmptyUserID = errors.New("user id is required")
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Options configures a Hub.
type Options struct {
	// Recorder receives location pings, chat messages and alerts. Nil discards them.
	Recorder Recorder

	// PresenceWriter receives every presence update. Nil keeps presence in memory only.
	PresenceWriter PresenceWriter

	// InboundRate and InboundBurst bound inbound envelopes per connection.
	// Zero rate disables the limiter.
	InboundRate  float64
	InboundBurst int

	// Clock defaults to time.Now.
	Clock func() time.Time

	// StatsInterval is how often Run republishes gauges. Default 15s.
	StatsInterval time.Duration
}

// Stats is a point-in-time view of the hub's tables.
type Stats struct {
	Connections     int `json:"connections"`
	Users           int `json:"users"`
	Trips           int `json:"trips"`
	PresenceEntries int `json:"presence_entries"`
	Sessions        int `json:"sessions"`
}

// Hub owns the shared tables and the live sessions.
type Hub struct {
	opts       Options
	registry   *Registry
	membership *Membership
	presence   *Presence
	router     *Router

	mu       sync.Mutex
	sessions map[uint64]*Session
	closing  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Hub.
func New(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 15 * time.Second
	}
	if opts.InboundRate > 0 && opts.InboundBurst < 1 {
		opts.InboundBurst = 1
	}

	registry := NewRegistry()
	membership := NewMembership()
	presence := NewPresence(opts.PresenceWriter)

	return &Hub{
		opts:       opts,
		registry:   registry,
		membership: membership,
		presence:   presence,
		router:     NewRouter(registry, membership, presence, opts.Recorder, opts.Clock),
		sessions:   make(map[uint64]*Session),
		done:       make(chan struct{}),
	}
}

// Serve runs the lifecycle of one connection for userID and returns once the
// connection is closed and cleaned up. It returns early, closing peer, when
// userID is empty or the hub is shutting down.
func (h *Hub) Serve(ctx context.Context, userID string, peer Peer) error {
	if userID == "" {
		_ = peer.Close()
		return ErrEmptyUserID
	}

	s := newSession(h, userID, peer)
	if !h.track(s) {
		_ = peer.Close()
		return ErrHubClosed
	}
	defer h.untrack(s)

	s.run(ctx)
	return nil
}

func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s.ID()] = s
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
	h.wg.Done()
}

// Participants returns the sorted members of tripID; empty, never nil.
func (h *Hub) Participants(tripID string) []string {
	members := h.membership.Members(tripID)
	if members == nil {
		return []string{}
	}
	return members
}

// Location returns userID's last known presence record.
func (h *Hub) Location(userID string) (PresenceRecord, bool) {
	return h.presence.Get(userID)
}

// Broadcast sends one event to every connected user.
func (h *Hub) Broadcast(msgType string, data interface{}) (int, error) {
	payload, err := Encode(msgType, data, "", h.opts.Clock())
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", msgType, err)
	}
	sent := h.registry.Broadcast(payload)
	metrics.WSMessagesSent.WithLabelValues(msgType).Add(float64(sent))
	return sent, nil
}

// RestorePresence warms the presence table from loader.
func (h *Hub) RestorePresence(ctx context.Context, loader PresenceLoader) (int, error) {
	records, err := loader.LoadPresence(ctx)
	if err != nil {
		return 0, fmt.Errorf("load presence: %w", err)
	}
	return h.presence.Restore(records), nil
}

// Stats returns the current table sizes.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	sessions := len(h.sessions)
	h.mu.Unlock()

	return Stats{
		Connections:     h.registry.ConnectionCount(),
		Users:           h.registry.UserCount(),
		Trips:           h.membership.TripCount(),
		PresenceEntries: h.presence.Len(),
		Sessions:        sessions,
	}
}

// Run republishes gauges until ctx is canceled, then shuts the hub down.
// It is the hub's suture service body.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return h.stop(ctx)
		case <-ticker.C:
			h.publishGauges()
		}
	}
}

func (h *Hub) stop(ctx context.Context) error {
	stats := h.Stats()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Str("component", "hub").Msg("sessions did not drain before deadline")
	}

	logging.Info().
		Str("component", "hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("sessions_closed", stats.Sessions).
		Msg("hub stopped")
	return ctx.Err()
}

// Shutdown stops accepting sessions, closes every connection and waits for
// their cleanup to finish or ctx to expire. Calling it again only waits.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.done)
	}
	h.mu.Unlock()

	h.registry.CloseAll()

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		h.publishGauges()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) publishGauges() {
	metrics.SetHubGauges(h.registry.ConnectionCount(), h.registry.UserCount(), h.membership.TripCount())
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}
