// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package pgstore

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
	"github.com/tomtom215/wayfarer/internal/storage/contracttest"
)

const dsnEnvVar = "WAYFARER_TEST_POSTGRES_DSN"

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// openMigrated opens a store against the test database and empties its
// tables. Skips when no database is configured.
func openMigrated(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnvVar)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnvVar)
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = s.pool.Exec(ctx, `TRUNCATE location_pings, trip_messages, emergency_alerts, user_presence`)
	if err != nil {
		s.Close()
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestContract_Postgres(t *testing.T) {
	contracttest.RunBackend(t, func(t *testing.T) (storage.Backend, func()) {
		t.Helper()
		return openMigrated(t), nil
	})
}

func TestOpen_RequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Error("Open with empty DSN should fail")
	}
}
