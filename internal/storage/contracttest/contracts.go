// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package contracttest holds behaviour every storage.Backend must share.
// Backend packages call RunBackend from their own tests.
package contracttest

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/storage"
)

type CleanupFunc = func()

type BackendFactory func(t *testing.T) (storage.Backend, CleanupFunc)

// RunBackend exercises writes, history reads and presence round trips.
// History and presence checks run only if the backend implements
// storage.Reader and hub.PresenceLoader.
func RunBackend(t *testing.T, newBackend BackendFactory) {
	t.Helper()

	t.Run("history", func(t *testing.T) {
		b := open(t, newBackend)
		runHistory(t, b)
	})
	t.Run("presence", func(t *testing.T) {
		b := open(t, newBackend)
		runPresence(t, b)
	})
	t.Run("canceled context", func(t *testing.T) {
		b := open(t, newBackend)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		// Backends may or may not honor cancellation for tiny writes, but
		// they must not panic or hang.
		_ = b.SaveChatMessage(ctx, storage.ChatMessage{ID: storage.NewID(), UserID: "u", TripID: "t", Message: "m", SentAt: time.Now()})
	})
}

func open(t *testing.T, newBackend BackendFactory) storage.Backend {
	t.Helper()
	b, cleanup := newBackend(t)
	t.Cleanup(func() {
		_ = b.Close()
		if cleanup != nil {
			cleanup()
		}
	})
	return b
}

func runHistory(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	// Out of order on purpose; reads come back oldest first.
	pings := []storage.LocationPing{
		{ID: storage.NewID(), UserID: "alice", TripID: "T1", Coordinates: hub.Coordinates{Lat: 10.8, Lng: 106.6}, RecordedAt: base.Add(2 * time.Minute)},
		{ID: storage.NewID(), UserID: "bob", TripID: "T1", Coordinates: hub.Coordinates{Lat: 0, Lng: 0}, RecordedAt: base},
		{ID: storage.NewID(), UserID: "alice", TripID: "T2", Coordinates: hub.Coordinates{Lat: -33.9, Lng: 18.4}, RecordedAt: base.Add(time.Minute)},
	}
	for _, p := range pings {
		if err := b.SaveLocationPing(ctx, p); err != nil {
			t.Fatalf("SaveLocationPing: %v", err)
		}
	}
	if err := b.SaveChatMessage(ctx, storage.ChatMessage{ID: storage.NewID(), UserID: "alice", TripID: "T1", Message: "hello", SentAt: base}); err != nil {
		t.Fatalf("SaveChatMessage: %v", err)
	}
	coords := &hub.Coordinates{Lat: 48.85, Lng: 2.35}
	if err := b.SaveEmergencyAlert(ctx, storage.EmergencyAlert{ID: storage.NewID(), UserID: "bob", TripID: "T1", AlertType: "medical", Coordinates: coords, RaisedAt: base}); err != nil {
		t.Fatalf("SaveEmergencyAlert: %v", err)
	}
	if err := b.SaveEmergencyAlert(ctx, storage.EmergencyAlert{ID: storage.NewID(), UserID: "bob", TripID: "T1", AlertType: "general", RaisedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("SaveEmergencyAlert without coordinates: %v", err)
	}

	r, ok := b.(storage.Reader)
	if !ok {
		return
	}

	gotPings, err := r.LocationPings(ctx, "T1")
	if err != nil {
		t.Fatalf("LocationPings: %v", err)
	}
	if len(gotPings) != 2 {
		t.Fatalf("LocationPings(T1) returned %d, want 2", len(gotPings))
	}
	if gotPings[0].UserID != "bob" || gotPings[1].UserID != "alice" {
		t.Errorf("pings not oldest first: %+v", gotPings)
	}
	if gotPings[1].Coordinates != (hub.Coordinates{Lat: 10.8, Lng: 106.6}) {
		t.Errorf("coordinates = %+v", gotPings[1].Coordinates)
	}
	if !gotPings[0].RecordedAt.Equal(base) {
		t.Errorf("RecordedAt = %v, want %v", gotPings[0].RecordedAt, base)
	}

	msgs, err := r.ChatMessages(ctx, "T1")
	if err != nil {
		t.Fatalf("ChatMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message != "hello" || msgs[0].UserID != "alice" {
		t.Errorf("ChatMessages(T1) = %+v", msgs)
	}

	alerts, err := r.EmergencyAlerts(ctx, "T1")
	if err != nil {
		t.Fatalf("EmergencyAlerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("EmergencyAlerts(T1) returned %d, want 2", len(alerts))
	}
	if alerts[0].AlertType != "medical" || alerts[0].Coordinates == nil || *alerts[0].Coordinates != *coords {
		t.Errorf("first alert = %+v", alerts[0])
	}
	if alerts[1].Coordinates != nil {
		t.Errorf("second alert should have no coordinates, got %+v", alerts[1].Coordinates)
	}

	if empty, err := r.ChatMessages(ctx, "nowhere"); err != nil || len(empty) != 0 {
		t.Errorf("ChatMessages(nowhere) = %v, %v", empty, err)
	}
}

func runPresence(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	records := []hub.PresenceRecord{
		{UserID: "alice", TripID: "T1", Coordinates: hub.Coordinates{Lat: 1, Lng: 2}, LastUpdated: base},
		{UserID: "bob", TripID: "T1", Coordinates: hub.Coordinates{Lat: 3, Lng: 4}, LastUpdated: base},
		{UserID: "alice", TripID: "T2", Coordinates: hub.Coordinates{Lat: 5, Lng: 6}, LastUpdated: base.Add(time.Minute)},
	}
	for _, rec := range records {
		if err := b.SavePresence(ctx, rec); err != nil {
			t.Fatalf("SavePresence: %v", err)
		}
	}

	loader, ok := b.(hub.PresenceLoader)
	if !ok {
		return
	}
	got, err := loader.LoadPresence(ctx)
	if err != nil {
		t.Fatalf("LoadPresence: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadPresence returned %d records, want 2 (one per user)", len(got))
	}
	byUser := make(map[string]hub.PresenceRecord, len(got))
	for _, rec := range got {
		byUser[rec.UserID] = rec
	}
	alice := byUser["alice"]
	if alice.TripID != "T2" || alice.Coordinates != (hub.Coordinates{Lat: 5, Lng: 6}) {
		t.Errorf("alice = %+v, want the latest upsert", alice)
	}
	if !alice.LastUpdated.Equal(base.Add(time.Minute)) {
		t.Errorf("alice.LastUpdated = %v", alice.LastUpdated)
	}
	if byUser["bob"].TripID != "T1" {
		t.Errorf("bob = %+v", byUser["bob"])
	}
}
