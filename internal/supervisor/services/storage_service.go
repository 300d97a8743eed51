// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package services

import (
	"context"
	"time"

	"github.com/tomtom215/wayfarer/internal/logging"
)

// StorageWriterService supervises the storage writer's worker. On cancel the
// writer drains its queue before Serve returns.
type StorageWriterService struct {
	writer Runner
	name   string
}

func NewStorageWriterService(writer Runner) *StorageWriterService {
	return &StorageWriterService{writer: writer, name: "storage-writer"}
}

func (s *StorageWriterService) Serve(ctx context.Context) error {
	return s.writer.Run(ctx)
}

func (s *StorageWriterService) String() string {
	return s.name
}

// GarbageCollector is implemented by backends that need periodic compaction.
type GarbageCollector interface {
	RunGC() error
}

// StorageGCService calls RunGC on a fixed interval. A failed pass is logged
// and retried on the next tick rather than restarting the service.
type StorageGCService struct {
	gc       GarbageCollector
	interval time.Duration
	name     string
}

// NewStorageGCService defaults interval to 10 minutes.
func NewStorageGCService(gc GarbageCollector, interval time.Duration) *StorageGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StorageGCService{gc: gc, interval: interval, name: "storage-gc"}
}

func (s *StorageGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.gc.RunGC(); err != nil {
				logging.Warn().Err(err).Str("component", "storage").Msg("storage GC failed")
			}
		}
	}
}

func (s *StorageGCService) String() string {
	return s.name
}
