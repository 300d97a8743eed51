// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package pgstore is a storage.Backend on PostgreSQL through a pgx pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
)

// Store is a Postgres implementation of storage.Backend.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ storage.Backend    = (*Store)(nil)
	_ storage.Reader     = (*Store)(nil)
	_ storage.Pinger     = (*Store)(nil)
	_ hub.PresenceLoader = (*Store)(nil)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS location_pings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_location_pings_trip ON location_pings (trip_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS trip_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		message TEXT NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trip_messages_trip ON trip_messages (trip_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS emergency_alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		raised_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_alerts_trip ON emergency_alerts (trip_id, raised_at)`,
	`CREATE TABLE IF NOT EXISTS user_presence (
		user_id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL
	)`,
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pgstore: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Info().Str("component", "storage").Str("backend", "postgres").Msg("storage opened")
	return s, nil
}

// New wraps an existing pool. The schema is not applied.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables in one transaction.
func (s *Store) Migrate(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Store) SaveLocationPing(ctx context.Context, p storage.LocationPing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO location_pings (id, user_id, trip_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.TripID, p.Coordinates.Lat, p.Coordinates.Lng, p.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert location ping: %w", err)
	}
	return nil
}

func (s *Store) SaveChatMessage(ctx context.Context, m storage.ChatMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trip_messages (id, user_id, trip_id, message, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.UserID, m.TripID, m.Message, m.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("insert trip message: %w", err)
	}
	return nil
}

func (s *Store) SaveEmergencyAlert(ctx context.Context, a storage.EmergencyAlert) error {
	var lat, lng *float64
	if a.Coordinates != nil {
		lat, lng = &a.Coordinates.Lat, &a.Coordinates.Lng
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO emergency_alerts (id, user_id, trip_id, alert_type, lat, lng, raised_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.TripID, a.AlertType, lat, lng, a.RaisedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert emergency alert: %w", err)
	}
	return nil
}

func (s *Store) SavePresence(ctx context.Context, rec hub.PresenceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_presence (user_id, trip_id, lat, lng, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			trip_id = EXCLUDED.trip_id,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			last_updated = EXCLUDED.last_updated`,
		rec.UserID, rec.TripID, rec.Coordinates.Lat, rec.Coordinates.Lng, rec.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *Store) LocationPings(ctx context.Context, tripID string) ([]storage.LocationPing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, trip_id, lat, lng, recorded_at
		FROM location_pings WHERE trip_id = $1 ORDER BY recorded_at, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query location pings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.LocationPing, error) {
		var p storage.LocationPing
		err := row.Scan(&p.ID, &p.UserID, &p.TripID, &p.Coordinates.Lat, &p.Coordinates.Lng, &p.RecordedAt)
		p.RecordedAt = p.RecordedAt.UTC()
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan location pings: %w", err)
	}
	return out, nil
}

func (s *Store) ChatMessages(ctx context.Context, tripID string) ([]storage.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, trip_id, message, sent_at
		FROM trip_messages WHERE trip_id = $1 ORDER BY sent_at, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query trip messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ChatMessage, error) {
		var m storage.ChatMessage
		err := row.Scan(&m.ID, &m.UserID, &m.TripID, &m.Message, &m.SentAt)
		m.SentAt = m.SentAt.UTC()
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan trip messages: %w", err)
	}
	return out, nil
}

func (s *Store) EmergencyAlerts(ctx context.Context, tripID string) ([]storage.EmergencyAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, trip_id, alert_type, lat, lng, raised_at
		FROM emergency_alerts WHERE trip_id = $1 ORDER BY raised_at, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query emergency alerts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.EmergencyAlert, error) {
		var a storage.EmergencyAlert
		var lat, lng *float64
		if err := row.Scan(&a.ID, &a.UserID, &a.TripID, &a.AlertType, &lat, &lng, &a.RaisedAt); err != nil {
			return a, err
		}
		if lat != nil && lng != nil {
			a.Coordinates = &hub.Coordinates{Lat: *lat, Lng: *lng}
		}
		a.RaisedAt = a.RaisedAt.UTC()
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan emergency alerts: %w", err)
	}
	return out, nil
}

// LoadPresence returns every stored presence record, ordered by user ID.
func (s *Store) LoadPresence(ctx context.Context) ([]hub.PresenceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, trip_id, lat, lng, last_updated
		FROM user_presence ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (hub.PresenceRecord, error) {
		var rec hub.PresenceRecord
		var at time.Time
		err := row.Scan(&rec.UserID, &rec.TripID, &rec.Coordinates.Lat, &rec.Coordinates.Lng, &at)
		rec.LastUpdated = at.UTC()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	return out, nil
}

// Ping checks that a pooled connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
