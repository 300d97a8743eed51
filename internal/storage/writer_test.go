// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// flakyBackend wraps Memory, failing or stalling on demand.
type flakyBackend struct {
	*Memory
	calls atomic.Int32
	fail  atomic.Bool
	stall atomic.Bool
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{Memory: NewMemory()}
}

func (f *flakyBackend) check(ctx context.Context) error {
	f.calls.Add(1)
	if f.stall.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail.Load() {
		return errors.New("disk on fire")
	}
	return nil
}

func (f *flakyBackend) SaveChatMessage(ctx context.Context, m ChatMessage) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	return f.Memory.SaveChatMessage(ctx, m)
}

func (f *flakyBackend) SavePresence(ctx context.Context, rec hub.PresenceRecord) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	return f.Memory.SavePresence(ctx, rec)
}

func startWriter(t *testing.T, w *Writer) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- w.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWriter_WritesReachBackend(t *testing.T) {
	mem := NewMemory()
	w := NewWriter(mem, WriterConfig{})
	startWriter(t, w)
	ctx := context.Background()
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	if err := w.RecordLocationPing(ctx, "alice", "T1", hub.Coordinates{Lat: 10.8, Lng: 106.6}, at); err != nil {
		t.Fatalf("RecordLocationPing: %v", err)
	}
	if err := w.RecordChatMessage(ctx, "alice", "T1", "hi", at); err != nil {
		t.Fatalf("RecordChatMessage: %v", err)
	}
	coords := &hub.Coordinates{Lat: 1, Lng: 1}
	if err := w.RecordEmergencyAlert(ctx, "alice", "T1", "medical", coords, at); err != nil {
		t.Fatalf("RecordEmergencyAlert: %v", err)
	}
	coords.Lat = 99 // the queued alert holds its own copy
	if err := w.SavePresence(ctx, hub.PresenceRecord{UserID: "alice", TripID: "T1", LastUpdated: at}); err != nil {
		t.Fatalf("SavePresence: %v", err)
	}

	waitUntil(t, "four writes", func() bool { return w.Stats().Written == 4 })

	pings, _ := mem.LocationPings(ctx, "T1")
	if len(pings) != 1 || pings[0].ID == "" || !pings[0].RecordedAt.Equal(at) {
		t.Errorf("pings = %+v", pings)
	}
	alerts, _ := mem.EmergencyAlerts(ctx, "T1")
	if len(alerts) != 1 || alerts[0].Coordinates.Lat != 1 {
		t.Errorf("alerts = %+v", alerts)
	}
	if recs, _ := mem.LoadPresence(ctx); len(recs) != 1 {
		t.Errorf("presence = %+v", recs)
	}
}

func TestWriter_QueueFull(t *testing.T) {
	w := NewWriter(NewMemory(), WriterConfig{QueueSize: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := w.RecordChatMessage(ctx, "u", "t", "m", time.Now()); err != nil {
			t.Fatalf("enqueue #%d: %v", i, err)
		}
	}
	err := w.RecordChatMessage(ctx, "u", "t", "m", time.Now())
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue = %v, want ErrQueueFull", err)
	}
	if s := w.Stats(); s.Dropped != 1 || s.QueueDepth != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestWriter_DrainOnStop(t *testing.T) {
	mem := NewMemory()
	w := NewWriter(mem, WriterConfig{QueueSize: 16})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = w.RecordChatMessage(ctx, "u", "T1", "m", time.Now())
	}

	// Run starts with a canceled context, so everything is written by drain.
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(runCtx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	msgs, _ := mem.ChatMessages(ctx, "T1")
	if len(msgs) != 10 {
		t.Errorf("drained %d messages, want 10", len(msgs))
	}
	if err := w.RecordChatMessage(ctx, "u", "T1", "late", time.Now()); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("enqueue after stop = %v, want ErrWriterClosed", err)
	}
}

func TestWriter_BreakerOpensAndRejects(t *testing.T) {
	backend := newFlakyBackend()
	backend.fail.Store(true)
	w := NewWriter(backend, WriterConfig{BreakerFailures: 3, BreakerTimeout: time.Hour})
	startWriter(t, w)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = w.RecordChatMessage(ctx, "u", "t", "m", time.Now())
	}
	waitUntil(t, "breaker open", func() bool { return w.Stats().BreakerState == "open" })

	before := backend.calls.Load()
	_ = w.SavePresence(ctx, hub.PresenceRecord{UserID: "u"})
	waitUntil(t, "rejected job counted", func() bool { return w.Stats().Failed == 4 })
	if backend.calls.Load() != before {
		t.Error("open breaker should not call the backend")
	}
}

func TestWriter_WriteTimeout(t *testing.T) {
	backend := newFlakyBackend()
	backend.stall.Store(true)
	w := NewWriter(backend, WriterConfig{WriteTimeout: 20 * time.Millisecond})
	startWriter(t, w)

	start := time.Now()
	_ = w.RecordChatMessage(context.Background(), "u", "t", "m", time.Now())
	waitUntil(t, "timed out write", func() bool { return w.Stats().Failed == 1 })
	if time.Since(start) > time.Second {
		t.Error("write timeout not applied")
	}
}

func TestWriter_ConcurrentProducers(t *testing.T) {
	mem := NewMemory()
	w := NewWriter(mem, WriterConfig{QueueSize: 4096})
	startWriter(t, w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = w.RecordChatMessage(context.Background(), "u", "T1", "m", time.Now())
			}
		}()
	}
	wg.Wait()

	waitUntil(t, "all writes", func() bool { return w.Stats().Written == 400 })
}
