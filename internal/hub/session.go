// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/metrics"
)

// Peer is a Conn that can also be read from. ReadMessage blocks until the
// next text frame arrives and must return an error once Close is called.
type Peer interface {
	Conn
	ReadMessage() ([]byte, error)
}

// SessionState is the lifecycle state of one connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session runs the receive loop of one connection and owns its cleanup.
type Session struct {
	hub     *Hub
	userID  string
	peer    Peer
	limiter *rate.Limiter
	log     zerolog.Logger

	state       atomic.Int32
	cleanupOnce sync.Once
}

func newSession(h *Hub, userID string, peer Peer) *Session {
	s := &Session{
		hub:    h,
		userID: userID,
		peer:   peer,
		log: logging.Component("hub").With().
			Str("user_id", userID).
			Uint64("conn_id", peer.ID()).
			Logger(),
	}
	if h.opts.InboundRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst)
	}
	return s
}

// ID returns the underlying connection ID.
func (s *Session) ID() uint64 { return s.peer.ID() }

// UserID returns the user the session is bound to.
func (s *Session) UserID() string { return s.userID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) origin() Origin {
	return Origin{UserID: s.userID, Conn: s.peer}
}

// run blocks until the connection closes. Cleanup has completed when it returns.
func (s *Session) run(ctx context.Context) {
	ctx = logging.ContextWithLogger(ctx, s.log)
	h := s.hub

	h.registry.Register(s.userID, s.peer)
	s.state.Store(int32(StateOpen))
	h.publishGauges()
	s.log.Info().Msg("connection opened")

	h.router.reply(s.origin(), TypeConnectionEstablished, nil, welcomeMessage)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		case <-stop:
			return
		}
		s.Close()
	}()

	for {
		raw, err := s.peer.ReadMessage()
		if err != nil {
			s.log.Debug().Err(err).Msg("read loop ended")
			break
		}
		if s.limiter != nil && !s.limiter.Allow() {
			h.router.reject(ctx, s.origin(), metrics.MalformedRateLimited, msgRateLimited)
			continue
		}
		h.router.Route(ctx, s.origin(), raw)
	}

	s.cleanup()
}

// Close moves the session to Closing and closes the connection, which ends
// the read loop. Safe to call from any goroutine, any number of times.
func (s *Session) Close() {
	s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	_ = s.peer.Close()
}

// cleanup runs exactly once: unregister, leave every trip, then tell the
// remaining members of those trips.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		h := s.hub
		s.state.Store(int32(StateClosing))
		_ = s.peer.Close()

		h.registry.Unregister(s.userID, s.peer)
		trips := h.membership.LeaveAll(s.userID)
		for _, tripID := range trips {
			h.router.NotifyLeft(s.userID, tripID)
		}

		s.state.Store(int32(StateClosed))
		h.publishGauges()
		s.log.Info().Strs("trips_left", trips).Msg("connection closed")
	})
}
