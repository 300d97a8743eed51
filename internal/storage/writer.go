// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/metrics"
)

// Storage operations, used as the op metric label.
const (
	OpLocationPing   = "location_ping"
	OpChatMessage    = "chat_message"
	OpEmergencyAlert = "emergency_alert"
	OpPresence       = "presence"
)

// Write results, used as the result metric label.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
)

const breakerName = "storage-writer"

// WriterConfig tunes a Writer. Zero values take defaults.
type WriterConfig struct {
	// QueueSize bounds jobs waiting for the worker. Default 1024.
	QueueSize int

	// WriteTimeout bounds each backend call. Default 5s.
	WriteTimeout time.Duration

	// BreakerFailures consecutive failures open the breaker. Default 5.
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open. Default 30s.
	BreakerTimeout time.Duration

	// DrainTimeout bounds how long Run keeps writing queued jobs after its
	// context is canceled. Default 5s.
	DrainTimeout time.Duration
}

func (c *WriterConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

type job struct {
	op    string
	write func(ctx context.Context) error
}

// Writer makes a Backend asynchronous. Every Record*/SavePresence call only
// enqueues; a single worker started by Run performs the writes in order.
type Writer struct {
	backend Backend
	cfg     WriterConfig
	queue   chan job
	cb      *gobreaker.CircuitBreaker[struct{}]

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

var (
	_ hub.Recorder       = (*Writer)(nil)
	_ hub.PresenceWriter = (*Writer)(nil)
)

// NewWriter wraps backend. Nothing is written until Run is started.
func NewWriter(backend Backend, cfg WriterConfig) *Writer {
	cfg.applyDefaults()

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	failures := cfg.BreakerFailures

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("component", "storage").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		},
	})

	return &Writer{
		backend: backend,
		cfg:     cfg,
		queue:   make(chan job, cfg.QueueSize),
		cb:      cb,
	}
}

// RecordLocationPing queues a location ping.
func (w *Writer) RecordLocationPing(_ context.Context, userID, tripID string, coords hub.Coordinates, at time.Time) error {
	p := LocationPing{ID: NewID(), UserID: userID, TripID: tripID, Coordinates: coords, RecordedAt: at.UTC()}
	return w.enqueue(OpLocationPing, func(ctx context.Context) error {
		return w.backend.SaveLocationPing(ctx, p)
	})
}

// RecordChatMessage queues a chat message.
func (w *Writer) RecordChatMessage(_ context.Context, userID, tripID, text string, at time.Time) error {
	m := ChatMessage{ID: NewID(), UserID: userID, TripID: tripID, Message: text, SentAt: at.UTC()}
	return w.enqueue(OpChatMessage, func(ctx context.Context) error {
		return w.backend.SaveChatMessage(ctx, m)
	})
}

// RecordEmergencyAlert queues an emergency alert.
func (w *Writer) RecordEmergencyAlert(_ context.Context, userID, tripID, alertType string, coords *hub.Coordinates, at time.Time) error {
	a := EmergencyAlert{ID: NewID(), UserID: userID, TripID: tripID, AlertType: alertType, RaisedAt: at.UTC()}
	if coords != nil {
		c := *coords
		a.Coordinates = &c
	}
	return w.enqueue(OpEmergencyAlert, func(ctx context.Context) error {
		return w.backend.SaveEmergencyAlert(ctx, a)
	})
}

// SavePresence queues a presence upsert.
func (w *Writer) SavePresence(_ context.Context, rec hub.PresenceRecord) error {
	return w.enqueue(OpPresence, func(ctx context.Context) error {
		return w.backend.SavePresence(ctx, rec)
	})
}

func (w *Writer) enqueue(op string, write func(ctx context.Context) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		metrics.RecordStorageWrite(op, ResultDropped, 0)
		return ErrWriterClosed
	}

	select {
	case w.queue <- job{op: op, write: write}:
		metrics.StorageQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		w.dropped.Add(1)
		metrics.RecordStorageWrite(op, ResultDropped, 0)
		return fmt.Errorf("%s: %w", op, ErrQueueFull)
	}
}

// Run drains the queue until ctx is canceled, then stops accepting jobs and
// writes what is already queued for up to DrainTimeout.
func (w *Writer) Run(ctx context.Context) error {
	log := logging.Component("storage")
	log.Info().Int("queue_size", w.cfg.QueueSize).Msg("storage writer started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case j := <-w.queue:
			w.execute(context.WithoutCancel(ctx), j)
		}
	}
}

func (w *Writer) drain() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	log := logging.Component("storage")
	pending := len(w.queue)
	deadline := time.Now().Add(w.cfg.DrainTimeout)
	drained := 0

drain:
	for time.Now().Before(deadline) {
		select {
		case j := <-w.queue:
			w.execute(context.Background(), j)
			drained++
		default:
			break drain
		}
	}

	lost := len(w.queue)
	log.Info().
		Int("pending", pending).
		Int("drained", drained).
		Int("lost", lost).
		Msg("storage writer stopped")
	metrics.StorageQueueDepth.Set(float64(lost))
}

func (w *Writer) execute(parent context.Context, j job) {
	metrics.StorageQueueDepth.Set(float64(len(w.queue)))

	ctx, cancel := context.WithTimeout(parent, w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	_, err := w.cb.Execute(func() (struct{}, error) {
		return struct{}{}, j.write(ctx)
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		w.written.Add(1)
		metrics.RecordStorageWrite(j.op, ResultOK, elapsed)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		w.failed.Add(1)
		metrics.RecordStorageWrite(j.op, ResultRejected, 0)
	default:
		w.failed.Add(1)
		metrics.RecordStorageWrite(j.op, ResultError, elapsed)
		logging.Warn().Err(err).Str("component", "storage").Str("op", j.op).Msg("storage write failed")
	}
}

// WriterStats counts jobs since the writer was created.
type WriterStats struct {
	QueueDepth   int    `json:"queue_depth"`
	Written      uint64 `json:"written"`
	Failed       uint64 `json:"failed"`
	Dropped      uint64 `json:"dropped"`
	BreakerState string `json:"breaker_state"`
}

// Stats returns current counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		QueueDepth:   len(w.queue),
		Written:      w.written.Load(),
		Failed:       w.failed.Load(),
		Dropped:      w.dropped.Load(),
		BreakerState: w.cb.State().String(),
	}
}

// QueueDepth returns the number of jobs waiting for the worker.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

// Backend returns the wrapped backend.
func (w *Writer) Backend() Backend {
	return w.backend
}
