// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package hub

import (
	"sort"
	"sync"
)

// Membership maps trip IDs to the users currently joined. A trip exists only
// while it has members.
type Membership struct {
	mu    sync.RWMutex
	trips map[string]map[string]struct{}
}

// NewMembership creates an empty Membership table.
func NewMembership() *Membership {
	return &Membership{trips: make(map[string]map[string]struct{})}
}

// Join adds userID to tripID and reports whether it was newly added.
func (m *Membership) Join(tripID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.trips[tripID]
	if !ok {
		members = make(map[string]struct{})
		m.trips[tripID] = members
	}
	if _, ok := members[userID]; ok {
		return false
	}
	members[userID] = struct{}{}
	return true
}

// Leave removes userID from tripID, dropping the trip once empty.
func (m *Membership) Leave(tripID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(tripID, userID)
}

func (m *Membership) leaveLocked(tripID, userID string) bool {
	members, ok := m.trips[tripID]
	if !ok {
		return false
	}
	if _, ok := members[userID]; !ok {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(m.trips, tripID)
	}
	return true
}

// Members returns a sorted copy of tripID's members; nil for unknown trips.
func (m *Membership) Members(tripID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.trips[tripID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for userID := range members {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// IsMember reports whether userID is joined to tripID.
func (m *Membership) IsMember(tripID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trips[tripID][userID]
	return ok
}

// LeaveAll removes userID from every trip and returns the affected trip IDs, sorted.
func (m *Membership) LeaveAll(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []string
	for tripID, members := range m.trips {
		if _, ok := members[userID]; ok {
			affected = append(affected, tripID)
		}
	}
	for _, tripID := range affected {
		m.leaveLocked(tripID, userID)
	}
	sort.Strings(affected)
	return affected
}

// TripsOf returns the trips userID belongs to, sorted.
func (m *Membership) TripsOf(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var trips []string
	for tripID, members := range m.trips {
		if _, ok := members[userID]; ok {
			trips = append(trips, tripID)
		}
	}
	sort.Strings(trips)
	return trips
}

// TripCount returns the number of trips with at least one member.
func (m *Membership) TripCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trips)
}
