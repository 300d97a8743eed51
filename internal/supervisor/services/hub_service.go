// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package services

import (
	"context"
)

// Runner is anything with a blocking, context-bound main loop, such as
// *hub.Hub or *storage.Writer.
type Runner interface {
	Run(ctx context.Context) error
}

// HubService supervises the hub's Run loop. Canceling its context closes
// every live session.
type HubService struct {
	hub  Runner
	name string
}

func NewHubService(hub Runner) *HubService {
	return &HubService{hub: hub, name: "hub"}
}

func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

func (s *HubService) String() string {
	return s.name
}
