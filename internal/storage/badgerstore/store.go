// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package badgerstore is an embedded storage.Backend on BadgerDB.
//
// Key layout:
//
//	ping/<trip>/<unix nanos, 20 digits>/<id>
//	chat/<trip>/<unix nanos, 20 digits>/<id>
//	alert/<trip>/<unix nanos, 20 digits>/<id>
//	presence/<user>
//
// Trip and user IDs are path-escaped so prefix scans cannot bleed into a trip
// whose ID shares a prefix. Event keys optionally carry a TTL; presence keys
// never expire.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
)

const (
	prefixPing     = "ping/"
	prefixChat     = "chat/"
	prefixAlert    = "alert/"
	prefixPresence = "presence/"
)

// Options configures the store.
type Options struct {
	// EventTTL expires ping, chat and alert keys. Zero keeps them forever.
	EventTTL time.Duration

	// InMemory runs badger without touching disk. Path is ignored.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Store is a storage.Backend backed by BadgerDB.
type Store struct {
	db   *badger.DB
	opts Options

	mu     sync.RWMutex
	closed bool
}

var (
	_ storage.Backend    = (*Store)(nil)
	_ storage.Reader     = (*Store)(nil)
	_ storage.Pinger     = (*Store)(nil)
	_ hub.PresenceLoader = (*Store)(nil)
)

// Open opens (or creates) the database at path.
func Open(path string, opts Options) (*Store, error) {
	if path == "" && !opts.InMemory {
		return nil, errors.New("badgerstore: path is required")
	}

	bopts := badger.DefaultOptions(path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("component", "storage").
		Str("backend", "badger").
		Str("path", path).
		Dur("event_ttl", opts.EventTTL).
		Msg("storage opened")
	return &Store{db: db, opts: opts}, nil
}

func eventKey(prefix, tripID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", prefix, url.PathEscape(tripID), at.UnixNano(), id))
}

func tripPrefix(prefix, tripID string) []byte {
	return []byte(prefix + url.PathEscape(tripID) + "/")
}

func presenceKey(userID string) []byte {
	return []byte(prefixPresence + url.PathEscape(userID))
}

func (s *Store) SaveLocationPing(ctx context.Context, p storage.LocationPing) error {
	return s.putEvent(ctx, eventKey(prefixPing, p.TripID, p.RecordedAt, p.ID), p)
}

func (s *Store) SaveChatMessage(ctx context.Context, m storage.ChatMessage) error {
	return s.putEvent(ctx, eventKey(prefixChat, m.TripID, m.SentAt, m.ID), m)
}

func (s *Store) SaveEmergencyAlert(ctx context.Context, a storage.EmergencyAlert) error {
	return s.putEvent(ctx, eventKey(prefixAlert, a.TripID, a.RaisedAt, a.ID), a)
}

func (s *Store) SavePresence(ctx context.Context, rec hub.PresenceRecord) error {
	return s.put(ctx, presenceKey(rec.UserID), rec, 0)
}

func (s *Store) putEvent(ctx context.Context, key []byte, v interface{}) error {
	return s.put(ctx, key, v, s.opts.EventTTL)
}

func (s *Store) put(ctx context.Context, key []byte, v interface{}, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write to BadgerDB: %w", err)
	}
	return nil
}

func (s *Store) LocationPings(ctx context.Context, tripID string) ([]storage.LocationPing, error) {
	var out []storage.LocationPing
	err := scan(ctx, s, tripPrefix(prefixPing, tripID), func(p storage.LocationPing) {
		out = append(out, p)
	})
	return out, err
}

func (s *Store) ChatMessages(ctx context.Context, tripID string) ([]storage.ChatMessage, error) {
	var out []storage.ChatMessage
	err := scan(ctx, s, tripPrefix(prefixChat, tripID), func(m storage.ChatMessage) {
		out = append(out, m)
	})
	return out, err
}

func (s *Store) EmergencyAlerts(ctx context.Context, tripID string) ([]storage.EmergencyAlert, error) {
	var out []storage.EmergencyAlert
	err := scan(ctx, s, tripPrefix(prefixAlert, tripID), func(a storage.EmergencyAlert) {
		out = append(out, a)
	})
	return out, err
}

// LoadPresence returns every stored presence record, ordered by user ID.
func (s *Store) LoadPresence(ctx context.Context) ([]hub.PresenceRecord, error) {
	var out []hub.PresenceRecord
	err := scan(ctx, s, []byte(prefixPresence), func(rec hub.PresenceRecord) {
		out = append(out, rec)
	})
	return out, err
}

// scan decodes every value under prefix in key order. Values that fail to
// decode are logged and skipped.
func scan[T any](ctx context.Context, s *Store, prefix []byte, fn func(T)) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var v T
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("skipping undecodable record")
				continue
			}
			fn(v)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	return nil
}

func (s *Store) check(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return storage.ErrClosed
	}
	return ctx.Err()
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return storage.ErrClosed
	}
	return nil
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
func (s *Store) RunGC() error {
	if err := s.check(context.Background()); err != nil {
		return err
	}
	if s.opts.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Str("component", "storage").Str("backend", "badger").Msg("storage closed")
	return nil
}
