// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// blockingRunner runs until its context is canceled.
type blockingRunner struct {
	runs    atomic.Int32
	started chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 4)}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.runs.Add(1)
	r.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

var (
	_ suture.Service = (*HubService)(nil)
	_ suture.Service = (*StorageWriterService)(nil)
	_ suture.Service = (*StorageGCService)(nil)
)

func TestRunnerServices(t *testing.T) {
	tests := []struct {
		name string
		wrap func(Runner) suture.Service
	}{
		{"hub", func(r Runner) suture.Service { return NewHubService(r) }},
		{"storage-writer", func(r Runner) suture.Service { return NewStorageWriterService(r) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newBlockingRunner()
			svc := tt.wrap(r)
			if s, ok := svc.(interface{ String() string }); !ok || s.String() != tt.name {
				t.Errorf("String() = %v, want %q", svc, tt.name)
			}

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()
			<-r.started
			cancel()

			select {
			case err := <-errCh:
				if !errors.Is(err, context.Canceled) {
					t.Errorf("Serve() = %v, want context.Canceled", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Serve did not return")
			}
		})
	}
}
