// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package sqlitestore is a storage.Backend on a single SQLite file, using the
// pure Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Backend    = (*Store)(nil)
	_ storage.Reader     = (*Store)(nil)
	_ storage.Pinger     = (*Store)(nil)
	_ hub.PresenceLoader = (*Store)(nil)
)

// Open opens the database at path and applies the schema. path may be a
// plain file path, a file: URI, a sqlite:// URL or ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "wayfarer.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("component", "storage").Str("backend", "sqlite").Str("path", path).Msg("storage opened")
	return s, nil
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = "file:" + path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS location_pings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			trip_id TEXT NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			recorded_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_location_pings_trip ON location_pings(trip_id, recorded_at);`,
		`CREATE TABLE IF NOT EXISTS trip_messages (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			trip_id TEXT NOT NULL,
			message TEXT NOT NULL,
			sent_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trip_messages_trip ON trip_messages(trip_id, sent_at);`,
		`CREATE TABLE IF NOT EXISTS emergency_alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			trip_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			lat REAL,
			lng REAL,
			raised_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_emergency_alerts_trip ON emergency_alerts(trip_id, raised_at);`,
		`CREATE TABLE IF NOT EXISTS user_presence (
			user_id TEXT PRIMARY KEY,
			trip_id TEXT NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			last_updated INTEGER NOT NULL
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveLocationPing(ctx context.Context, p storage.LocationPing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_pings (id, user_id, trip_id, lat, lng, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.TripID, p.Coordinates.Lat, p.Coordinates.Lng, p.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert location ping: %w", err)
	}
	return nil
}

func (s *Store) SaveChatMessage(ctx context.Context, m storage.ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trip_messages (id, user_id, trip_id, message, sent_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.TripID, m.Message, m.SentAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert trip message: %w", err)
	}
	return nil
}

func (s *Store) SaveEmergencyAlert(ctx context.Context, a storage.EmergencyAlert) error {
	var lat, lng sql.NullFloat64
	if a.Coordinates != nil {
		lat = sql.NullFloat64{Float64: a.Coordinates.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: a.Coordinates.Lng, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_alerts (id, user_id, trip_id, alert_type, lat, lng, raised_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.TripID, a.AlertType, lat, lng, a.RaisedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert emergency alert: %w", err)
	}
	return nil
}

func (s *Store) SavePresence(ctx context.Context, rec hub.PresenceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_presence (user_id, trip_id, lat, lng, last_updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			trip_id = excluded.trip_id,
			lat = excluded.lat,
			lng = excluded.lng,
			last_updated = excluded.last_updated`,
		rec.UserID, rec.TripID, rec.Coordinates.Lat, rec.Coordinates.Lng, rec.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *Store) LocationPings(ctx context.Context, tripID string) ([]storage.LocationPing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, trip_id, lat, lng, recorded_at FROM location_pings WHERE trip_id = ? ORDER BY recorded_at, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query location pings: %w", err)
	}
	defer rows.Close()

	var out []storage.LocationPing
	for rows.Next() {
		var p storage.LocationPing
		var at int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.TripID, &p.Coordinates.Lat, &p.Coordinates.Lng, &at); err != nil {
			return nil, fmt.Errorf("scan location ping: %w", err)
		}
		p.RecordedAt = fromNanos(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ChatMessages(ctx context.Context, tripID string) ([]storage.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, trip_id, message, sent_at FROM trip_messages WHERE trip_id = ? ORDER BY sent_at, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query trip messages: %w", err)
	}
	defer rows.Close()

	var out []storage.ChatMessage
	for rows.Next() {
		var m storage.ChatMessage
		var at int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.TripID, &m.Message, &at); err != nil {
			return nil, fmt.Errorf("scan trip message: %w", err)
		}
		m.SentAt = fromNanos(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) EmergencyAlerts(ctx context.Context, tripID string) ([]storage.EmergencyAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, trip_id, alert_type, lat, lng, raised_at FROM emergency_alerts WHERE trip_id = ? ORDER BY raised_at, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query emergency alerts: %w", err)
	}
	defer rows.Close()

	var out []storage.EmergencyAlert
	for rows.Next() {
		var a storage.EmergencyAlert
		var lat, lng sql.NullFloat64
		var at int64
		if err := rows.Scan(&a.ID, &a.UserID, &a.TripID, &a.AlertType, &lat, &lng, &at); err != nil {
			return nil, fmt.Errorf("scan emergency alert: %w", err)
		}
		if lat.Valid && lng.Valid {
			a.Coordinates = &hub.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
		}
		a.RaisedAt = fromNanos(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadPresence returns every stored presence record, ordered by user ID.
func (s *Store) LoadPresence(ctx context.Context) ([]hub.PresenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, trip_id, lat, lng, last_updated FROM user_presence ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	defer rows.Close()

	var out []hub.PresenceRecord
	for rows.Next() {
		var rec hub.PresenceRecord
		var at int64
		if err := rows.Scan(&rec.UserID, &rec.TripID, &rec.Coordinates.Lat, &rec.Coordinates.Lng, &at); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		rec.LastUpdated = fromNanos(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
