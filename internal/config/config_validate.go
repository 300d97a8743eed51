// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/wayfarer/internal/logging"
)

// Validate checks that configuration values are present and within bounds.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateHub(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateHub() error {
	h := c.Hub
	if h.WriteWait <= 0 {
		return fmt.Errorf("WS_WRITE_WAIT must be positive")
	}
	// PingPeriod must come out non-zero.
	if h.PongWait < 10*time.Millisecond {
		return fmt.Errorf("WS_PONG_WAIT must be at least 10ms, got %v", h.PongWait)
	}
	if h.MaxMessageSize < 256 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be at least 256 bytes, got %d", h.MaxMessageSize)
	}
	if h.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1, got %d", h.SendBuffer)
	}
	if h.InboundRate < 0 {
		return fmt.Errorf("WS_INBOUND_RATE must not be negative")
	}
	if h.InboundRate > 0 && h.InboundBurst < 1 {
		return fmt.Errorf("WS_INBOUND_BURST must be at least 1 when WS_INBOUND_RATE is set")
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := c.Storage
	switch s.Backend {
	case StorageMemory:
	case StorageBadger, StorageSQLite:
		if s.Path == "" {
			return fmt.Errorf("STORAGE_PATH is required when STORAGE_BACKEND=%s", s.Backend)
		}
	case StoragePostgres:
		if s.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	case StorageNATS:
		if !strings.HasPrefix(s.NATSURL, "nats://") && !strings.HasPrefix(s.NATSURL, "tls://") {
			return fmt.Errorf("NATS_URL must use nats:// or tls:// scheme, got %q", s.NATSURL)
		}
		if s.NATSSubjectPrefix == "" || strings.ContainsAny(s.NATSSubjectPrefix, "*> ") {
			return fmt.Errorf("NATS_SUBJECT_PREFIX must be a literal subject, got %q", s.NATSSubjectPrefix)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, badger, sqlite, postgres, nats; got %q", s.Backend)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("STORAGE_QUEUE_SIZE must be at least 1, got %d", s.QueueSize)
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("STORAGE_WRITE_TIMEOUT must be positive")
	}
	if s.BreakerFailures < 1 {
		return fmt.Errorf("STORAGE_BREAKER_FAILURES must be at least 1")
	}
	if s.BreakerTimeout <= 0 {
		return fmt.Errorf("STORAGE_BREAKER_TIMEOUT must be positive")
	}
	if s.EventTTL < 0 {
		return fmt.Errorf("STORAGE_EVENT_TTL must not be negative")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must not be empty (use * to allow all)")
	}
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < 1 || c.Security.RateLimitReqs > 100000 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between 1 and 100000, got %d", c.Security.RateLimitReqs)
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	if c.Supervisor.FailureThreshold <= 0 {
		return fmt.Errorf("SUPERVISOR_FAILURE_THRESHOLD must be positive")
	}
	if c.Supervisor.FailureDecay <= 0 {
		return fmt.Errorf("SUPERVISOR_FAILURE_DECAY must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}
