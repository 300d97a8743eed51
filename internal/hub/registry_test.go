// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"sync"
	"testing"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a1, a2 := newFakeConn(), newFakeConn()

	r.Register("alice", a1)
	r.Register("alice", a2)
	r.Register("alice", a2) // duplicate is ignored

	if got := r.ConnectionCount(); got != 2 {
		t.Fatalf("ConnectionCount() = %d, want 2", got)
	}
	if got := r.UserCount(); got != 1 {
		t.Fatalf("UserCount() = %d, want 1", got)
	}

	if !r.Unregister("alice", a1) {
		t.Error("first Unregister should report true")
	}
	if r.Unregister("alice", a1) {
		t.Error("second Unregister should be a silent no-op")
	}
	if conns := r.Connections("alice"); len(conns) != 1 || conns[0].ID() != a2.ID() {
		t.Errorf("remaining connections = %v, want only a2", conns)
	}

	r.Unregister("alice", a2)
	if r.UserCount() != 0 {
		t.Error("user entry should be dropped once its last connection is removed")
	}
	if r.Unregister("bob", a2) {
		t.Error("Unregister of an unknown user should return false")
	}
}

func TestRegistry_SendToUser_AllLiveConnections(t *testing.T) {
	r := NewRegistry()
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		r.Register("alice", c)
	}
	gone := newFakeConn()
	r.Register("alice", gone)
	r.Unregister("alice", gone)

	if n := r.SendToUser("alice", []byte(`{"type":"x"}`)); n != 3 {
		t.Fatalf("SendToUser() = %d, want 3", n)
	}
	for i, c := range conns {
		if len(c.envelopes(t)) != 1 {
			t.Errorf("conn %d received %d messages, want 1", i, len(c.envelopes(t)))
		}
	}
	if len(gone.envelopes(t)) != 0 {
		t.Error("unregistered connection must not receive")
	}
	if n := r.SendToUser("nobody", []byte(`{}`)); n != 0 {
		t.Errorf("SendToUser(nobody) = %d, want 0", n)
	}
}

func TestRegistry_SendFailureIsolatedAndEvicted(t *testing.T) {
	r := NewRegistry()
	good, bad, other := newFakeConn(), newFakeConn(), newFakeConn()
	bad.failWith(ErrSendBufferFull)
	r.Register("alice", good)
	r.Register("alice", bad)
	r.Register("alice", other)

	if n := r.SendToUser("alice", []byte(`{"type":"x"}`)); n != 2 {
		t.Fatalf("SendToUser() = %d, want 2", n)
	}
	if len(good.envelopes(t)) != 1 || len(other.envelopes(t)) != 1 {
		t.Error("healthy connections must still receive")
	}

	waitFor(t, "broken connection eviction", func() bool {
		return bad.isClosed() && r.ConnectionCount() == 2
	})
	for _, c := range r.Connections("alice") {
		if c.ID() == bad.ID() {
			t.Error("broken connection should be unregistered")
		}
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	r := NewRegistry()
	a, b1, b2 := newFakeConn(), newFakeConn(), newFakeConn()
	broken := newFakeConn()
	broken.failWith(errBrokenPipe)
	r.Register("alice", a)
	r.Register("bob", b1)
	r.Register("bob", b2)
	r.Register("carol", broken)

	if n := r.Broadcast([]byte(`{"type":"notice"}`)); n != 3 {
		t.Fatalf("Broadcast() = %d, want 3", n)
	}
	waitFor(t, "carol eviction", func() bool { return r.UserCount() == 2 })
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn(), newFakeConn()
	r.Register("alice", a)
	r.Register("bob", b)

	if n := r.CloseAll(); n != 2 {
		t.Fatalf("CloseAll() = %d, want 2", n)
	}
	if !a.isClosed() || !b.isClosed() {
		t.Error("CloseAll should close every connection")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newFakeConn()
			r.Register("alice", c)
			r.SendToUser("alice", []byte(`{}`))
			r.Unregister("alice", c)
		}()
	}
	wg.Wait()

	if r.ConnectionCount() != 0 || r.UserCount() != 0 {
		t.Errorf("registry not empty: %d connections, %d users", r.ConnectionCount(), r.UserCount())
	}
}
