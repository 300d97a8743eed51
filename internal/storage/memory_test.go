// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/storage"
	"github.com/tomtom215/wayfarer/internal/storage/contracttest"
)

func TestContract_Memory(t *testing.T) {
	contracttest.RunBackend(t, func(t *testing.T) (storage.Backend, func()) {
		return storage.NewMemory(), nil
	})
}

func TestMemory_Closed(t *testing.T) {
	m := storage.NewMemory()
	_ = m.Close()

	if err := m.SavePresence(context.Background(), hub.PresenceRecord{UserID: "a"}); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("SavePresence after Close = %v, want ErrClosed", err)
	}
	if err := m.Ping(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
}
