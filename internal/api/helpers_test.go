// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/wayfarer/internal/config"
	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testOrigin = "https://app.wayfarer.test"

type testServer struct {
	*httptest.Server
	hub *hub.Hub
}

// newTestServer serves a fresh hub. Zero opts get an allow-all origin list.
func newTestServer(t *testing.T, opts HandlerOptions) *testServer {
	t.Helper()
	h := hub.New(hub.Options{})
	if opts.Hub == nil {
		opts.Hub = h
	}
	if opts.Security.WSAllowedOrigins == nil && opts.Security.CORSOrigins == nil {
		opts.Security.WSAllowedOrigins = []string{"*"}
	}
	mw := NewChiMiddleware(&ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{testOrigin},
		CORSAllowedMethods: []string{"GET", "OPTIONS"},
		RateLimitDisabled:  true,
	})
	srv := httptest.NewServer(NewRouter(NewHandler(opts), mw))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return &testServer{Server: srv, hub: h}
}

func (s *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

// dial connects userID and consumes connection_established.
func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL("/ws/connect/"+userID), header)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	if env := expect(t, conn, hub.TypeConnectionEstablished); env.Message == "" {
		t.Errorf("connection_established without message")
	}
	return conn
}

type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return env
}

func expect(t *testing.T, conn *websocket.Conn, msgType string) envelope {
	t.Helper()
	env := read(t, conn)
	if env.Type != msgType {
		t.Fatalf("got %q envelope (data %s, message %q), want %q", env.Type, env.Data, env.Message, msgType)
	}
	if env.Timestamp == "" {
		t.Errorf("%s envelope has no timestamp", msgType)
	}
	return env
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(map[string]interface{}{"type": msgType, "data": data}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func decode(t *testing.T, raw json.RawMessage, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

// join has userID's conn join tripID and consumes its trip_participants reply.
func join(t *testing.T, conn *websocket.Conn, tripID string) hub.ParticipantsEvent {
	t.Helper()
	send(t, conn, hub.TypeJoinTrip, map[string]string{"trip_id": tripID})
	var ev hub.ParticipantsEvent
	decode(t, expect(t, conn, hub.TypeTripParticipants).Data, &ev)
	return ev
}

func securityFixture() config.SecurityConfig {
	return config.SecurityConfig{
		CORSOrigins:     []string{testOrigin},
		RateLimitReqs:   50,
		RateLimitWindow: 30 * time.Second,
	}
}
