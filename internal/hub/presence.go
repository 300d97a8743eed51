// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/wayfarer/internal/logging"
)

// PresenceRecord is a user's last reported location. Records are overwritten
// on each update and never expire.
type PresenceRecord struct {
	UserID      string      `json:"user_id"`
	TripID      string      `json:"trip_id"`
	Coordinates Coordinates `json:"coordinates"`
	LastUpdated time.Time   `json:"last_updated"`
}

// PresenceWriter persists presence records. Implementations used by the hub
// must return promptly; storage.Writer only enqueues.
type PresenceWriter interface {
	SavePresence(ctx context.Context, rec PresenceRecord) error
}

// PresenceLoader returns persisted presence records for warm start.
type PresenceLoader interface {
	LoadPresence(ctx context.Context) ([]PresenceRecord, error)
}

// Presence holds the last known location of each user.
type Presence struct {
	mu      sync.RWMutex
	records map[string]PresenceRecord
	writer  PresenceWriter
}

// NewPresence creates a Presence store. writer may be nil.
func NewPresence(writer PresenceWriter) *Presence {
	return &Presence{
		records: make(map[string]PresenceRecord),
		writer:  writer,
	}
}

// Update overwrites userID's record, then hands it to the writer. Writer
// failures are logged and otherwise ignored.
func (p *Presence) Update(ctx context.Context, userID, tripID string, coords Coordinates, ts time.Time) PresenceRecord {
	rec := PresenceRecord{
		UserID:      userID,
		TripID:      tripID,
		Coordinates: coords,
		LastUpdated: ts.UTC(),
	}

	p.mu.Lock()
	p.records[userID] = rec
	p.mu.Unlock()

	if p.writer != nil {
		if err := p.writer.SavePresence(ctx, rec); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("presence write-through failed")
		}
	}
	return rec
}

// Get returns userID's record without touching storage.
func (p *Presence) Get(userID string) (PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[userID]
	return rec, ok
}

// Restore loads records that are newer than what is already held and
// returns how many were applied.
func (p *Presence) Restore(records []PresenceRecord) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	applied := 0
	for _, rec := range records {
		if rec.UserID == "" {
			continue
		}
		if cur, ok := p.records[rec.UserID]; ok && !rec.LastUpdated.After(cur.LastUpdated) {
			continue
		}
		p.records[rec.UserID] = rec
		applied++
	}
	return applied
}

// Len returns the number of users with a record.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}
