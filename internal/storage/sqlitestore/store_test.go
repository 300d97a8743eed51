// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package sqlitestore

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
	"github.com/tomtom215/wayfarer/internal/storage/contracttest"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "wayfarer.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestContract_SQLite(t *testing.T) {
	contracttest.RunBackend(t, func(t *testing.T) (storage.Backend, func()) {
		return openTestStore(t), nil
	})
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data/w.db", "file:/data/w.db?_pragma=busy_timeout=5000"},
		{"sqlite:///data/w.db", "file:/data/w.db?_pragma=busy_timeout=5000"},
		{"file:w.db?cache=shared", "file:w.db?cache=shared&_pragma=busy_timeout=5000"},
		{":memory:", ":memory:?_pragma=busy_timeout=5000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := buildDSN(tt.in); !strings.HasPrefix(got, tt.want) {
				t.Errorf("buildDSN(%q) = %q, want prefix %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() = %v", err)
	}
}

func TestStore_TimestampsKeepNanoseconds(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	at := time.Date(2026, 7, 4, 10, 30, 0, 123456789, time.UTC)

	if err := s.SavePresence(ctx, hub.PresenceRecord{UserID: "a", TripID: "T1", LastUpdated: at}); err != nil {
		t.Fatalf("SavePresence: %v", err)
	}
	recs, err := s.LoadPresence(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("LoadPresence() = %v, %v", recs, err)
	}
	if !recs[0].LastUpdated.Equal(at) {
		t.Errorf("LastUpdated = %v, want %v", recs[0].LastUpdated, at)
	}
}

func TestStore_DuplicateIDRejected(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	m := storage.ChatMessage{ID: "fixed", UserID: "a", TripID: "T1", Message: "m", SentAt: time.Now()}

	if err := s.SaveChatMessage(ctx, m); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.SaveChatMessage(ctx, m); err == nil {
		t.Error("duplicate primary key should fail")
	}
}
