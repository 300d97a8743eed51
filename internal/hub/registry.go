// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/metrics"
)

var (
	// ErrConnClosed is returned by Conn.Send after Close.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned by Conn.Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is one live bidirectional channel to a user's device.
//
// Send must not block: it enqueues payload for the connection's writer and
// fails when that is impossible. Close must be idempotent.
type Conn interface {
	ID() uint64
	Send(payload []byte) error
	Close() error
}

// connIDCounter gives every connection in the process a unique, increasing ID.
var connIDCounter atomic.Uint64

// NextConnID returns a fresh connection ID. Transports call it once per accepted connection.
func NextConnID() uint64 {
	return connIDCounter.Add(1)
}

// Registry maps user IDs to their live connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[uint64]Conn
	total int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[uint64]Conn)}
}

// Register adds conn to userID's set.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[uint64]Conn)
		r.conns[userID] = set
	}
	if _, dup := set[conn.ID()]; !dup {
		set[conn.ID()] = conn
		r.total++
	}
}

// Unregister removes exactly conn from userID's set and drops the user when
// the set becomes empty. It reports whether conn was registered.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[conn.ID()]; !ok {
		return false
	}
	delete(set, conn.ID())
	r.total--
	if len(set) == 0 {
		delete(r.conns, userID)
	}
	return true
}

// Connections returns a snapshot of userID's connections ordered by ID.
func (r *Registry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedConns(r.conns[userID])
}

// SendToUser enqueues payload on every connection of userID and returns how
// many accepted it. A connection that fails is unregistered and closed on a
// separate goroutine; the failure never reaches the caller.
func (r *Registry) SendToUser(userID string, payload []byte) int {
	return r.deliver(userID, r.Connections(userID), payload)
}

// Broadcast enqueues payload on every registered connection.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.RLock()
	users := make([]string, 0, len(r.conns))
	snapshot := make(map[string][]Conn, len(r.conns))
	for userID, set := range r.conns {
		users = append(users, userID)
		snapshot[userID] = sortedConns(set)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	sent := 0
	for _, userID := range users {
		sent += r.deliver(userID, snapshot[userID], payload)
	}
	return sent
}

// deliver is called without the lock held.
func (r *Registry) deliver(userID string, conns []Conn, payload []byte) int {
	sent := 0
	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			metrics.WSSendFailures.WithLabelValues(sendFailureReason(err)).Inc()
			logging.Debug().
				Str("component", "hub").
				Str("user_id", userID).
				Uint64("conn_id", c.ID()).
				Err(err).
				Msg("send failed, evicting connection")
			go r.evict(userID, c)
			continue
		}
		sent++
	}
	return sent
}

func (r *Registry) evict(userID string, c Conn) {
	r.Unregister(userID, c)
	_ = c.Close() // best-effort; the session's read loop observes the close and runs cleanup
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// UserCount returns the number of users with at least one connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection. Entries are left for the
// owning sessions to unregister during their cleanup.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	all := make([]Conn, 0, r.total)
	for _, set := range r.conns {
		for _, c := range set {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		_ = c.Close()
	}
	return len(all)
}

func sortedConns(set map[uint64]Conn) []Conn {
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func sendFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrSendBufferFull):
		return metrics.SendFailureBufferFull
	case errors.Is(err, ErrConnClosed):
		return metrics.SendFailureClosed
	default:
		return metrics.SendFailureWrite
	}
}
