// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/wayfarer/internal/api"
	"github.com/tomtom215/wayfarer/internal/config"
	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
	"github.com/tomtom215/wayfarer/internal/storage"
	"github.com/tomtom215/wayfarer/internal/supervisor"
	"github.com/tomtom215/wayfarer/internal/supervisor/services"
)

const restoreTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("storage_backend", cfg.Storage.Backend).
		Msg("Starting Wayfarer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Failed to open storage")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()

	writer := storage.NewWriter(backend, writerConfig(cfg.Storage))

	wsHub := hub.New(hub.Options{
		Recorder:       writer,
		PresenceWriter: writer,
		InboundRate:    cfg.Hub.InboundRate,
		InboundBurst:   cfg.Hub.InboundBurst,
	})

	restoreCtx, restoreCancel := context.WithTimeout(ctx, restoreTimeout)
	restored, err := restorePresence(restoreCtx, wsHub, backend, cfg.Storage.RestorePresence)
	restoreCancel()
	if err != nil {
		logging.Warn().Err(err).Msg("Presence restore failed, starting with empty presence")
	} else if restored > 0 {
		logging.Info().Int("records", restored).Msg("Presence restored from storage")
	}

	var pinger storage.Pinger
	if p, ok := backend.(storage.Pinger); ok {
		pinger = p
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("HTTP rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}
	for _, origin := range cfg.Security.WSAllowedOrigins {
		if origin == "*" {
			logging.Warn().Msg("WebSocket origin check disabled (WS_ALLOWED_ORIGINS=*)")
			break
		}
	}

	handler := api.NewHandler(api.HandlerOptions{
		Hub:      wsHub,
		Writer:   writer,
		Storage:  pinger,
		HubConf:  cfg.Hub,
		Security: cfg.Security,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security)))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewStorageWriterService(writer))
	if gc := gcService(backend); gc != nil {
		tree.AddDataService(gc)
	}
	tree.AddMessagingService(services.NewHubService(wsHub))
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	stats := writer.Stats()
	logging.Info().
		Uint64("written", stats.Written).
		Uint64("failed", stats.Failed).
		Uint64("dropped", stats.Dropped).
		Msg("Wayfarer stopped")
}
