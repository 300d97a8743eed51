// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/wayfarer/internal/config"
	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/storage"
	"github.com/tomtom215/wayfarer/internal/storage/badgerstore"
	"github.com/tomtom215/wayfarer/internal/storage/natsstore"
	"github.com/tomtom215/wayfarer/internal/storage/pgstore"
	"github.com/tomtom215/wayfarer/internal/storage/sqlitestore"
	"github.com/tomtom215/wayfarer/internal/supervisor/services"
)

// openBackend opens the configured storage backend.
func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "", config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageBadger:
		return badgerstore.Open(cfg.Path, badgerstore.Options{EventTTL: cfg.EventTTL})
	case config.StorageSQLite:
		return sqlitestore.Open(ctx, cfg.Path)
	case config.StoragePostgres:
		return pgstore.Open(ctx, cfg.DSN)
	case config.StorageNATS:
		return natsstore.Open(cfg.NATSURL, cfg.NATSSubjectPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func writerConfig(cfg config.StorageConfig) storage.WriterConfig {
	return storage.WriterConfig{
		QueueSize:       cfg.QueueSize,
		WriteTimeout:    cfg.WriteTimeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}
}

// restorePresence warms h from backend when enabled and supported.
func restorePresence(ctx context.Context, h *hub.Hub, backend storage.Backend, enabled bool) (int, error) {
	if !enabled {
		return 0, nil
	}
	loader, ok := backend.(hub.PresenceLoader)
	if !ok {
		return 0, nil
	}
	return h.RestorePresence(ctx, loader)
}

// gcService returns a periodic GC service for backends that need one, or nil.
func gcService(backend storage.Backend) *services.StorageGCService {
	gc, ok := backend.(services.GarbageCollector)
	if !ok {
		return nil
	}
	return services.NewStorageGCService(gc, 0)
}
