// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

type routerFixture struct {
	t          *testing.T
	router     *Router
	registry   *Registry
	membership *Membership
	presence   *Presence
}

func newRouterFixture(t *testing.T, rec Recorder) *routerFixture {
	t.Helper()
	reg := NewRegistry()
	mem := NewMembership()
	pres := NewPresence(nil)
	return &routerFixture{
		t:          t,
		router:     NewRouter(reg, mem, pres, rec, fixedClock()),
		registry:   reg,
		membership: mem,
		presence:   pres,
	}
}

func (f *routerFixture) connect(userID string) *fakeConn {
	c := newFakeConn()
	f.registry.Register(userID, c)
	return c
}

func (f *routerFixture) send(userID string, conn *fakeConn, v interface{}) {
	f.t.Helper()
	var raw []byte
	switch m := v.(type) {
	case string:
		raw = []byte(m)
	default:
		var err error
		if raw, err = json.Marshal(m); err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
	}
	f.router.Route(context.Background(), Origin{UserID: userID, Conn: conn}, raw)
}

func (f *routerFixture) join(userID string, conn *fakeConn, tripID string) {
	f.t.Helper()
	f.send(userID, conn, msg(TypeJoinTrip, map[string]interface{}{"trip_id": tripID}))
}

type recordedCall struct {
	kind   string
	userID string
	tripID string
	text   string
	coords *Coordinates
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
	err   error
}

func (r *fakeRecorder) add(c recordedCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.err
}

func (r *fakeRecorder) RecordLocationPing(_ context.Context, userID, tripID string, coords Coordinates, _ time.Time) error {
	return r.add(recordedCall{kind: "ping", userID: userID, tripID: tripID, coords: &coords})
}

func (r *fakeRecorder) RecordChatMessage(_ context.Context, userID, tripID, text string, _ time.Time) error {
	return r.add(recordedCall{kind: "chat", userID: userID, tripID: tripID, text: text})
}

func (r *fakeRecorder) RecordEmergencyAlert(_ context.Context, userID, tripID, alertType string, coords *Coordinates, _ time.Time) error {
	return r.add(recordedCall{kind: "alert", userID: userID, tripID: tripID, text: alertType, coords: coords})
}

func TestRouter_JoinTrip(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, b := f.connect("A"), f.connect("B")

	f.join("A", a, "T1")
	a.reset()
	f.join("B", b, "T1")

	joined := a.ofType(t, TypeUserJoined)
	if len(joined) != 1 {
		t.Fatalf("A received %d user_joined, want 1", len(joined))
	}
	var ev MembershipEvent
	decodeData(t, joined[0], &ev)
	if ev.UserID != "B" || ev.TripID != "T1" {
		t.Errorf("user_joined = %+v", ev)
	}
	if ev.Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Errorf("data timestamp = %q", ev.Timestamp)
	}

	if len(b.ofType(t, TypeUserJoined)) != 0 {
		t.Error("joiner must not receive its own user_joined")
	}
	roster := b.ofType(t, TypeTripParticipants)
	if len(roster) != 1 {
		t.Fatalf("B received %d trip_participants, want 1", len(roster))
	}
	var pe ParticipantsEvent
	decodeData(t, roster[0], &pe)
	if !reflect.DeepEqual(pe.Participants, []string{"A", "B"}) {
		t.Errorf("participants = %v, want [A B]", pe.Participants)
	}
	if len(a.ofType(t, TypeTripParticipants)) != 0 {
		t.Error("existing member must not receive the joiner's roster")
	}
}

func TestRouter_RejoinAnnouncesAgain(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, b := f.connect("A"), f.connect("B")
	f.join("A", a, "T1")
	f.join("B", b, "T1")
	a.reset()

	f.join("B", b, "T1")

	if len(a.ofType(t, TypeUserJoined)) != 1 {
		t.Error("duplicate join should still announce user_joined")
	}
	if got := f.membership.Members("T1"); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Members(T1) = %v", got)
	}
}

func TestRouter_LocationUpdateExcludesSender(t *testing.T) {
	rec := &fakeRecorder{}
	f := newRouterFixture(t, rec)
	a, b := f.connect("A"), f.connect("B")
	f.join("A", a, "T1")
	f.join("B", b, "T1")
	a.reset()
	b.reset()

	f.send("A", a, msg(TypeLocationUpdate, map[string]interface{}{
		"trip_id":     "T1",
		"coordinates": map[string]float64{"lat": 10.8, "lng": 106.6},
	}))

	got := b.ofType(t, TypeLocationUpdate)
	if len(got) != 1 {
		t.Fatalf("B received %d location_update, want 1", len(got))
	}
	var ev LocationEvent
	decodeData(t, got[0], &ev)
	if ev.UserID != "A" || ev.TripID != "T1" || ev.Coordinates != (Coordinates{Lat: 10.8, Lng: 106.6}) {
		t.Errorf("location_update = %+v", ev)
	}
	if n := len(a.envelopes(t)); n != 0 {
		t.Errorf("sender received %d envelopes, want 0", n)
	}

	p, ok := f.presence.Get("A")
	if !ok || p.TripID != "T1" || p.Coordinates.Lat != 10.8 {
		t.Errorf("presence = %+v, %v", p, ok)
	}
	if len(rec.calls) != 1 || rec.calls[0].kind != "ping" {
		t.Errorf("recorder calls = %+v", rec.calls)
	}
}

func TestRouter_ZeroCoordinatesAccepted(t *testing.T) {
	f := newRouterFixture(t, nil)
	a := f.connect("A")

	f.send("A", a, msg(TypeLocationUpdate, map[string]interface{}{
		"trip_id":     "T1",
		"coordinates": map[string]float64{"lat": 0, "lng": 0},
	}))

	if errs := a.ofType(t, TypeError); len(errs) != 0 {
		t.Fatalf("null island rejected: %s", errs[0].Message)
	}
	if _, ok := f.presence.Get("A"); !ok {
		t.Error("presence not updated")
	}
}

func TestRouter_TripMessageIncludesSender(t *testing.T) {
	rec := &fakeRecorder{}
	f := newRouterFixture(t, rec)
	a1, a2, b := f.connect("A"), f.connect("A"), f.connect("B")
	outsider := f.connect("C")
	f.join("A", a1, "T1")
	f.join("B", b, "T1")
	for _, c := range []*fakeConn{a1, a2, b} {
		c.reset()
	}

	f.send("A", a1, msg(TypeTripMessage, map[string]interface{}{"trip_id": "T1", "message": "hello"}))

	for name, c := range map[string]*fakeConn{"A#1": a1, "A#2": a2, "B": b} {
		got := c.ofType(t, TypeTripMessage)
		if len(got) != 1 {
			t.Errorf("%s received %d trip_message, want 1", name, len(got))
			continue
		}
		var ev ChatEvent
		decodeData(t, got[0], &ev)
		if ev.UserID != "A" || ev.Message != "hello" {
			t.Errorf("%s got %+v", name, ev)
		}
	}
	if len(outsider.envelopes(t)) != 0 {
		t.Error("non-member received trip traffic")
	}
	if len(rec.calls) != 1 || rec.calls[0].text != "hello" {
		t.Errorf("recorder calls = %+v", rec.calls)
	}
}

func TestRouter_ChatFromNonMember(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, b := f.connect("A"), f.connect("B")
	f.join("B", b, "T1")
	b.reset()

	f.send("A", a, msg(TypeTripMessage, map[string]interface{}{"trip_id": "T1", "message": "hi"}))

	if len(b.ofType(t, TypeTripMessage)) != 1 {
		t.Error("members should receive chat from a non-member")
	}
	if len(a.envelopes(t)) != 0 {
		t.Error("non-member sender should not receive its own chat")
	}
}

func TestRouter_EmergencyAlert(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]interface{}
		wantType   string
		wantCoords *Coordinates
	}{
		{
			name:     "default type without coordinates",
			data:     map[string]interface{}{"trip_id": "T1"},
			wantType: DefaultAlertType,
		},
		{
			name: "explicit type with coordinates",
			data: map[string]interface{}{
				"trip_id":     "T1",
				"alert_type":  "medical",
				"coordinates": map[string]float64{"lat": -33.9, "lng": 18.4},
			},
			wantType:   "medical",
			wantCoords: &Coordinates{Lat: -33.9, Lng: 18.4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			f := newRouterFixture(t, rec)
			a, b := f.connect("A"), f.connect("B")
			f.join("A", a, "T1")
			f.join("B", b, "T1")
			a.reset()
			b.reset()

			f.send("A", a, msg(TypeEmergencyAlert, tt.data))

			for name, c := range map[string]*fakeConn{"A": a, "B": b} {
				got := c.ofType(t, TypeEmergencyAlert)
				if len(got) != 1 {
					t.Fatalf("%s received %d emergency_alert, want 1", name, len(got))
				}
				var ev AlertEvent
				decodeData(t, got[0], &ev)
				if ev.AlertType != tt.wantType {
					t.Errorf("%s alert_type = %q, want %q", name, ev.AlertType, tt.wantType)
				}
				if !reflect.DeepEqual(ev.Coordinates, tt.wantCoords) {
					t.Errorf("%s coordinates = %v, want %v", name, ev.Coordinates, tt.wantCoords)
				}
			}
			if len(rec.calls) != 1 || rec.calls[0].text != tt.wantType {
				t.Errorf("recorder calls = %+v", rec.calls)
			}
		})
	}
}

func TestRouter_LeaveTrip(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, b := f.connect("A"), f.connect("B")
	f.join("A", a, "T1")
	f.join("B", b, "T1")
	b.reset()

	f.send("A", a, msg(TypeLeaveTrip, map[string]interface{}{"trip_id": "T1"}))

	left := b.ofType(t, TypeUserLeft)
	if len(left) != 1 {
		t.Fatalf("B received %d user_left, want 1", len(left))
	}
	var ev MembershipEvent
	decodeData(t, left[0], &ev)
	if ev.UserID != "A" || ev.TripID != "T1" {
		t.Errorf("user_left = %+v", ev)
	}
	if f.membership.IsMember("T1", "A") {
		t.Error("A still a member")
	}
}

func TestRouter_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"not json", `{"type":`, msgInvalidFormat},
		{"not an object", `["join_trip"]`, msgInvalidFormat},
		{"unknown type", `{"type":"teleport","data":{}}`, msgUnknownType},
		{"missing type", `{"data":{"trip_id":"T1"}}`, msgUnknownType},
		{"data wrong shape", `{"type":"join_trip","data":"T1"}`, msgInvalidPayload},
		{"missing trip id", `{"type":"join_trip","data":{}}`, "trip_id"},
		{"missing data", `{"type":"leave_trip"}`, "trip_id"},
		{"missing coordinates", `{"type":"location_update","data":{"trip_id":"T1"}}`, "coordinates"},
		{"latitude out of range", `{"type":"location_update","data":{"trip_id":"T1","coordinates":{"lat":91,"lng":0}}}`, "lat"},
		{"empty chat", `{"type":"trip_message","data":{"trip_id":"T1","message":""}}`, "message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, nil)
			a, b := f.connect("A"), f.connect("B")
			f.join("B", b, "T1")
			b.reset()

			f.send("A", a, tt.raw)

			envs := a.envelopes(t)
			if len(envs) != 1 || envs[0].Type != TypeError {
				t.Fatalf("origin received %+v, want exactly one error", envs)
			}
			if !strings.Contains(envs[0].Message, tt.wantMsg) {
				t.Errorf("error message = %q, want it to mention %q", envs[0].Message, tt.wantMsg)
			}
			if envs[0].Timestamp == "" {
				t.Error("error envelope missing timestamp")
			}
			if len(b.envelopes(t)) != 0 {
				t.Error("bad input leaked to other members")
			}
			if f.membership.IsMember("T1", "A") || f.presence.Len() != 0 {
				t.Error("bad input changed hub state")
			}
		})
	}
}

func TestRouter_RepliesOnlyToOrigin(t *testing.T) {
	f := newRouterFixture(t, nil)
	a1, a2 := f.connect("A"), f.connect("A")

	f.send("A", a1, msg(TypePing, nil))
	f.send("A", a1, `nonsense`)
	f.join("A", a1, "T1")

	if n := len(a2.envelopes(t)); n != 0 {
		t.Errorf("sibling connection received %d replies, want 0", n)
	}
	if len(a1.ofType(t, TypePong)) != 1 {
		t.Error("ping should be answered with pong")
	}
	if len(a1.ofType(t, TypeError)) != 1 {
		t.Error("malformed frame should be answered with error")
	}
	if len(a1.ofType(t, TypeTripParticipants)) != 1 {
		t.Error("join should be answered with trip_participants")
	}
}

func TestRouter_RecorderFailureNotSurfaced(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("queue full")}
	f := newRouterFixture(t, rec)
	a, b := f.connect("A"), f.connect("B")
	f.join("A", a, "T1")
	f.join("B", b, "T1")
	a.reset()
	b.reset()

	f.send("A", a, msg(TypeTripMessage, map[string]interface{}{"trip_id": "T1", "message": "still here"}))

	if len(a.ofType(t, TypeError)) != 0 {
		t.Error("recorder errors must not reach the client")
	}
	if len(b.ofType(t, TypeTripMessage)) != 1 {
		t.Error("relay must not depend on the recorder")
	}
}

func TestRouter_NotifyLeftUnknownTrip(t *testing.T) {
	f := newRouterFixture(t, nil)
	if n := f.router.NotifyLeft("A", "nowhere"); n != 0 {
		t.Errorf("NotifyLeft on empty trip sent %d, want 0", n)
	}
}
