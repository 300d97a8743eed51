// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"bytes"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Inbound message types
const (
	TypeJoinTrip       = "join_trip"
	TypeLeaveTrip      = "leave_trip"
	TypeLocationUpdate = "location_update"
	TypeTripMessage    = "trip_message"
	TypeEmergencyAlert = "emergency_alert"
	TypePing           = "ping"
)

// Outbound-only message types. location_update, trip_message and
// emergency_alert are relayed under their inbound names.
const (
	TypeConnectionEstablished = "connection_established"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeTripParticipants      = "trip_participants"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// DefaultAlertType is used when an emergency_alert carries no alert_type.
const DefaultAlertType = "general"

// TimestampLayout is the RFC 3339 layout stamped on outbound envelopes.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const welcomeMessage = "Connected to real-time updates"

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNotObject   = errors.New("envelope must be a JSON object")
)

// Envelope is the unit of traffic on a connection. Inbound envelopes carry
// Type and Data; outbound ones add Timestamp and, for connection_established
// and error, Message.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// outbound mirrors Envelope with a typed payload so encoding is a single pass.
type outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// DecodeEnvelope parses one inbound text frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, errNotObject
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, errInvalidJSON
	}
	return env, nil
}

// Encode serializes an outbound envelope stamped with at.
func Encode(msgType string, data interface{}, message string, at time.Time) ([]byte, error) {
	return json.Marshal(outbound{
		Type:      msgType,
		Data:      data,
		Message:   message,
		Timestamp: FormatTimestamp(at),
	})
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// coordinatesPayload uses pointers so a zero coordinate is distinguishable from a missing one.
type coordinatesPayload struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

func (c *coordinatesPayload) value() *Coordinates {
	if c == nil {
		return nil
	}
	return &Coordinates{Lat: *c.Lat, Lng: *c.Lng}
}

type tripPayload struct {
	TripID string `json:"trip_id" validate:"required"`
}

type locationPayload struct {
	TripID      string              `json:"trip_id" validate:"required"`
	Coordinates *coordinatesPayload `json:"coordinates" validate:"required"`
}

type chatPayload struct {
	TripID  string `json:"trip_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type alertPayload struct {
	TripID      string              `json:"trip_id" validate:"required"`
	AlertType   string              `json:"alert_type"`
	Coordinates *coordinatesPayload `json:"coordinates" validate:"omitempty"`
}

// Outbound payloads also carry the send time inside data, where clients read it.

// MembershipEvent is the data of user_joined and user_left.
type MembershipEvent struct {
	UserID    string `json:"user_id"`
	TripID    string `json:"trip_id"`
	Timestamp string `json:"timestamp"`
}

// ParticipantsEvent is the data of trip_participants.
type ParticipantsEvent struct {
	TripID       string   `json:"trip_id"`
	Participants []string `json:"participants"`
	Timestamp    string   `json:"timestamp"`
}

// LocationEvent is the data of a relayed location_update.
type LocationEvent struct {
	UserID      string      `json:"user_id"`
	TripID      string      `json:"trip_id"`
	Coordinates Coordinates `json:"coordinates"`
	Timestamp   string      `json:"timestamp"`
}

// ChatEvent is the data of a relayed trip_message.
type ChatEvent struct {
	UserID    string `json:"user_id"`
	TripID    string `json:"trip_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// AlertEvent is the data of a relayed emergency_alert.
type AlertEvent struct {
	UserID      string       `json:"user_id"`
	TripID      string       `json:"trip_id"`
	AlertType   string       `json:"alert_type"`
	Coordinates *Coordinates `json:"coordinates"`
	Timestamp   string       `json:"timestamp"`
}
