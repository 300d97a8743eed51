// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package natsstore publishes trip events to NATS instead of storing them.
// Downstream consumers subscribe to
//
//	<prefix>.<trip>.location
//	<prefix>.<trip>.message
//	<prefix>.<trip>.alert
//	<prefix>.<trip>.presence
//
// A trip ID is one subject token, so characters NATS treats specially are
// replaced with '_'. The store keeps no state and cannot restore presence.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
)

// Subject suffixes.
const (
	SubjectLocation = "location"
	SubjectMessage  = "message"
	SubjectAlert    = "alert"
	SubjectPresence = "presence"
)

// DefaultPrefix is used when Open is given an empty prefix.
const DefaultPrefix = "wayfarer.trips"

// Store is a publish-only storage.Backend.
type Store struct {
	nc     *nats.Conn
	prefix string
}

var (
	_ storage.Backend = (*Store)(nil)
	_ storage.Pinger  = (*Store)(nil)
)

// Open connects to url. Reconnects are handled by the client.
func Open(url, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	nc, err := nats.Connect(url,
		nats.Name("wayfarer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Str("component", "storage").Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("component", "storage").Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logging.Info().
		Str("component", "storage").
		Str("backend", "nats").
		Str("url", nc.ConnectedUrl()).
		Str("prefix", prefix).
		Msg("storage opened")
	return &Store{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject events of kind for tripID are published on.
func (s *Store) Subject(tripID, kind string) string {
	return s.prefix + "." + token(tripID) + "." + kind
}

func token(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}

func (s *Store) SaveLocationPing(ctx context.Context, p storage.LocationPing) error {
	return s.publish(ctx, s.Subject(p.TripID, SubjectLocation), p)
}

func (s *Store) SaveChatMessage(ctx context.Context, m storage.ChatMessage) error {
	return s.publish(ctx, s.Subject(m.TripID, SubjectMessage), m)
}

func (s *Store) SaveEmergencyAlert(ctx context.Context, a storage.EmergencyAlert) error {
	return s.publish(ctx, s.Subject(a.TripID, SubjectAlert), a)
}

func (s *Store) SavePresence(ctx context.Context, rec hub.PresenceRecord) error {
	return s.publish(ctx, s.Subject(rec.TripID, SubjectPresence), rec)
}

func (s *Store) publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.nc.IsClosed() {
		return storage.ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := eventID(v); id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func eventID(v interface{}) string {
	switch e := v.(type) {
	case storage.LocationPing:
		return e.ID
	case storage.ChatMessage:
		return e.ID
	case storage.EmergencyAlert:
		return e.ID
	}
	return ""
}

// Ping round-trips to the server.
func (s *Store) Ping(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return errors.New("NATS not connected")
	}
	return s.nc.FlushWithContext(ctx)
}

// Close flushes pending publishes and closes the connection.
func (s *Store) Close() error {
	if s.nc.IsClosed() {
		return nil
	}
	if err := s.nc.FlushTimeout(5 * time.Second); err != nil {
		logging.Warn().Err(err).Str("component", "storage").Msg("NATS flush on close failed")
	}
	s.nc.Close()
	return nil
}
