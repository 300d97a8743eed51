// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/wayfarer/internal/hub"
)

// Memory is an in-process Backend. History lives only as long as the process.
type Memory struct {
	mu       sync.RWMutex
	pings    []LocationPing
	messages []ChatMessage
	alerts   []EmergencyAlert
	presence map[string]hub.PresenceRecord
	closed   bool
}

var (
	_ Backend            = (*Memory)(nil)
	_ Reader             = (*Memory)(nil)
	_ hub.PresenceLoader = (*Memory)(nil)
)

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{presence: make(map[string]hub.PresenceRecord)}
}

func (m *Memory) SaveLocationPing(_ context.Context, p LocationPing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pings = append(m.pings, p)
	return nil
}

func (m *Memory) SaveChatMessage(_ context.Context, msg ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *Memory) SaveEmergencyAlert(_ context.Context, a EmergencyAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) SavePresence(_ context.Context, rec hub.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.presence[rec.UserID] = rec
	return nil
}

func (m *Memory) LocationPings(_ context.Context, tripID string) ([]LocationPing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LocationPing
	for _, p := range m.pings {
		if p.TripID == tripID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (m *Memory) ChatMessages(_ context.Context, tripID string) ([]ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ChatMessage
	for _, msg := range m.messages {
		if msg.TripID == tripID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (m *Memory) EmergencyAlerts(_ context.Context, tripID string) ([]EmergencyAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EmergencyAlert
	for _, a := range m.alerts {
		if a.TripID == tripID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out, nil
}

// LoadPresence returns every stored presence record.
func (m *Memory) LoadPresence(_ context.Context) ([]hub.PresenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]hub.PresenceRecord, 0, len(m.presence))
	for _, rec := range m.presence {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
