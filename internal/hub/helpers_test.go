// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wayfarer/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeConn is an in-memory Peer. Sent payloads are recorded; inbound frames
// are pushed with deliver.
type fakeConn struct {
	id    uint64
	inbox chan []byte

	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	closed   bool
	closedCh chan struct{}
	closes   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:       NextConnID(),
		inbox:    make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) ID() uint64 { return c.id }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case raw := <-c.inbox:
		return raw, nil
	case <-c.closedCh:
		return nil, io.EOF
	}
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) deliver(t *testing.T, v interface{}) {
	t.Helper()
	var raw []byte
	switch m := v.(type) {
	case string:
		raw = []byte(m)
	case []byte:
		raw = m
	default:
		var err error
		if raw, err = json.Marshal(m); err != nil {
			t.Fatalf("marshal inbound: %v", err)
		}
	}
	c.inbox <- raw
}

// envelopes decodes everything sent so far.
func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.sent))
	for _, raw := range c.sent {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode outbound %s: %v", raw, err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, msgType string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range c.envelopes(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeData(t *testing.T, env Envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode %s data %s: %v", env.Type, env.Data, err)
	}
}

func msg(msgType string, data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": msgType, "data": data}
}

var errBrokenPipe = errors.New("broken pipe")

// fixedClock returns a clock frozen at a known instant.
func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}
