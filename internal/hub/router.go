// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/metrics"
	"github.com/tomtom215/wayfarer/internal/validation"
)

// Recorder persists trip events. The hub calls it inline from the router,
// so implementations must not block; storage.Writer only enqueues.
type Recorder interface {
	RecordLocationPing(ctx context.Context, userID, tripID string, coords Coordinates, at time.Time) error
	RecordChatMessage(ctx context.Context, userID, tripID, text string, at time.Time) error
	RecordEmergencyAlert(ctx context.Context, userID, tripID, alertType string, coords *Coordinates, at time.Time) error
}

type nopRecorder struct{}

func (nopRecorder) RecordLocationPing(context.Context, string, string, Coordinates, time.Time) error {
	return nil
}

func (nopRecorder) RecordChatMessage(context.Context, string, string, string, time.Time) error {
	return nil
}

func (nopRecorder) RecordEmergencyAlert(context.Context, string, string, string, *Coordinates, time.Time) error {
	return nil
}

// Error messages sent to clients.
const (
	msgUnknownType    = "Unknown message type"
	msgInvalidFormat  = "Invalid message format"
	msgInvalidPayload = "Invalid data payload"
	msgRateLimited    = "Rate limit exceeded"
)

var emptyObject = json.RawMessage("{}")

// Origin identifies the connection an envelope arrived on.
type Origin struct {
	UserID string
	Conn   Conn
}

// Router validates inbound envelopes, applies them to the tables and fans
// out the resulting events. It keeps no per-connection state.
type Router struct {
	registry   *Registry
	membership *Membership
	presence   *Presence
	recorder   Recorder
	now        func() time.Time
}

// NewRouter wires a Router to the given tables. recorder may be nil.
func NewRouter(registry *Registry, membership *Membership, presence *Presence, recorder Recorder, now func() time.Time) *Router {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if now == nil {
		now = time.Now
	}
	return &Router{
		registry:   registry,
		membership: membership,
		presence:   presence,
		recorder:   recorder,
		now:        now,
	}
}

// Route handles one inbound text frame from origin.
func (rt *Router) Route(ctx context.Context, from Origin, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		rt.reject(ctx, from, metrics.MalformedJSON, msgInvalidFormat)
		return
	}

	switch env.Type {
	case TypeJoinTrip:
		rt.joinTrip(ctx, from, env.Data)
	case TypeLeaveTrip:
		rt.leaveTrip(ctx, from, env.Data)
	case TypeLocationUpdate:
		rt.locationUpdate(ctx, from, env.Data)
	case TypeTripMessage:
		rt.tripMessage(ctx, from, env.Data)
	case TypeEmergencyAlert:
		rt.emergencyAlert(ctx, from, env.Data)
	case TypePing:
		rt.reply(from, TypePong, nil, "")
	default:
		rt.reject(ctx, from, metrics.MalformedUnknownType, msgUnknownType)
		return
	}
	metrics.WSMessagesReceived.WithLabelValues(env.Type).Inc()
}

func (rt *Router) joinTrip(ctx context.Context, from Origin, data json.RawMessage) {
	var p tripPayload
	if !rt.decode(ctx, from, data, &p) {
		return
	}

	if rt.membership.Join(p.TripID, from.UserID) {
		logging.Ctx(ctx).Debug().Str("trip_id", p.TripID).Msg("joined trip")
	}
	rt.publishTrips()

	now := rt.now()
	ts := FormatTimestamp(now)
	rt.fanout(TypeUserJoined, p.TripID, from.UserID, MembershipEvent{
		UserID:    from.UserID,
		TripID:    p.TripID,
		Timestamp: ts,
	}, now)

	participants := rt.membership.Members(p.TripID)
	if participants == nil {
		participants = []string{}
	}
	rt.reply(from, TypeTripParticipants, ParticipantsEvent{
		TripID:       p.TripID,
		Participants: participants,
		Timestamp:    ts,
	}, "")
}

func (rt *Router) leaveTrip(ctx context.Context, from Origin, data json.RawMessage) {
	var p tripPayload
	if !rt.decode(ctx, from, data, &p) {
		return
	}

	if rt.membership.Leave(p.TripID, from.UserID) {
		logging.Ctx(ctx).Debug().Str("trip_id", p.TripID).Msg("left trip")
	}
	rt.publishTrips()
	rt.NotifyLeft(from.UserID, p.TripID)
}

// NotifyLeft sends user_left for userID to the remaining members of tripID.
func (rt *Router) NotifyLeft(userID, tripID string) int {
	now := rt.now()
	return rt.fanout(TypeUserLeft, tripID, userID, MembershipEvent{
		UserID:    userID,
		TripID:    tripID,
		Timestamp: FormatTimestamp(now),
	}, now)
}

func (rt *Router) locationUpdate(ctx context.Context, from Origin, data json.RawMessage) {
	var p locationPayload
	if !rt.decode(ctx, from, data, &p) {
		return
	}

	now := rt.now()
	coords := *p.Coordinates.value()
	rt.presence.Update(ctx, from.UserID, p.TripID, coords, now)

	rt.fanout(TypeLocationUpdate, p.TripID, from.UserID, LocationEvent{
		UserID:      from.UserID,
		TripID:      p.TripID,
		Coordinates: coords,
		Timestamp:   FormatTimestamp(now),
	}, now)

	if err := rt.recorder.RecordLocationPing(ctx, from.UserID, p.TripID, coords, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("trip_id", p.TripID).Msg("failed to record location ping")
	}
}

func (rt *Router) tripMessage(ctx context.Context, from Origin, data json.RawMessage) {
	var p chatPayload
	if !rt.decode(ctx, from, data, &p) {
		return
	}

	now := rt.now()
	rt.fanout(TypeTripMessage, p.TripID, "", ChatEvent{
		UserID:    from.UserID,
		TripID:    p.TripID,
		Message:   p.Message,
		Timestamp: FormatTimestamp(now),
	}, now)

	if err := rt.recorder.RecordChatMessage(ctx, from.UserID, p.TripID, p.Message, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("trip_id", p.TripID).Msg("failed to record trip message")
	}
}

func (rt *Router) emergencyAlert(ctx context.Context, from Origin, data json.RawMessage) {
	var p alertPayload
	if !rt.decode(ctx, from, data, &p) {
		return
	}
	if p.AlertType == "" {
		p.AlertType = DefaultAlertType
	}

	now := rt.now()
	coords := p.Coordinates.value()
	rt.fanout(TypeEmergencyAlert, p.TripID, "", AlertEvent{
		UserID:      from.UserID,
		TripID:      p.TripID,
		AlertType:   p.AlertType,
		Coordinates: coords,
		Timestamp:   FormatTimestamp(now),
	}, now)

	logging.Ctx(ctx).Warn().
		Str("trip_id", p.TripID).
		Str("alert_type", p.AlertType).
		Msg("emergency alert raised")

	if err := rt.recorder.RecordEmergencyAlert(ctx, from.UserID, p.TripID, p.AlertType, coords, now); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("trip_id", p.TripID).Msg("failed to record emergency alert")
	}
}

// decode unmarshals and validates data into dst, replying with an error
// envelope and returning false when either step fails.
func (rt *Router) decode(ctx context.Context, from Origin, data json.RawMessage, dst interface{}) bool {
	if len(data) == 0 {
		data = emptyObject
	}
	if err := json.Unmarshal(data, dst); err != nil {
		rt.reject(ctx, from, metrics.MalformedJSON, msgInvalidPayload)
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		rt.reject(ctx, from, metrics.MalformedMissingField, verr.First().Error())
		return false
	}
	return true
}

// reject sends an error envelope to the originating connection only.
func (rt *Router) reject(ctx context.Context, from Origin, reason, message string) {
	metrics.WSMalformed.WithLabelValues(reason).Inc()
	logging.Ctx(ctx).Debug().Str("reason", reason).Msg(message)
	rt.reply(from, TypeError, nil, message)
}

// reply sends to the originating connection, never to the user's other connections.
func (rt *Router) reply(from Origin, msgType string, data interface{}, message string) {
	payload, err := Encode(msgType, data, message, rt.now())
	if err != nil {
		logging.Error().Err(err).Str("type", msgType).Msg("failed to encode reply")
		return
	}
	if rt.registry.deliver(from.UserID, []Conn{from.Conn}, payload) > 0 {
		metrics.WSMessagesSent.WithLabelValues(msgType).Inc()
	}
}

// fanout sends one event to every member of tripID except exclude ("" excludes nobody).
func (rt *Router) fanout(msgType, tripID, exclude string, data interface{}, at time.Time) int {
	members := rt.membership.Members(tripID)
	if len(members) == 0 {
		return 0
	}

	payload, err := Encode(msgType, data, "", at)
	if err != nil {
		logging.Error().Err(err).Str("type", msgType).Msg("failed to encode event")
		return 0
	}

	sent := 0
	for _, userID := range members {
		if userID == exclude {
			continue
		}
		sent += rt.registry.SendToUser(userID, payload)
	}
	metrics.WSMessagesSent.WithLabelValues(msgType).Add(float64(sent))
	return sent
}

func (rt *Router) publishTrips() {
	metrics.TripsActive.Set(float64(rt.membership.TripCount()))
}
