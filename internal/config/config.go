// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

/*
Package config loads Wayfarer configuration.

Configuration is layered with Koanf v2 (highest priority wins):

 1. Environment variables (HTTP_PORT, STORAGE_BACKEND, WS_PONG_WAIT, ...)
 2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/wayfarer/config.yaml)
 3. Built-in defaults (see defaultConfig)

Example YAML:

	server:
	  port: 8000
	hub:
	  send_buffer: 256
	  inbound_rate: 20
	storage:
	  backend: badger
	  path: /data/wayfarer
*/
package config

import (
	"fmt"
	"time"
)

// Storage backend names accepted by StorageConfig.Backend.
const (
	StorageMemory   = "memory"
	StorageBadger   = "badger"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageNATS     = "nats"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Hub        HubConfig        `koanf:"hub"`
	Storage    StorageConfig    `koanf:"storage"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HubConfig holds websocket and fan-out tunables.
type HubConfig struct {
	// WriteWait is the time allowed to write a single frame to a peer.
	WriteWait time.Duration `koanf:"write_wait"`

	// PongWait is the time allowed between pongs before the peer is considered dead.
	// Pings are sent every PongWait*9/10.
	PongWait time.Duration `koanf:"pong_wait"`

	// MaxMessageSize is the largest inbound text frame accepted, in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`

	// SendBuffer is the per-connection outbound queue length. A connection whose
	// queue is full when a message is routed to it is torn down.
	SendBuffer int `koanf:"send_buffer"`

	// InboundRate is the sustained number of inbound envelopes per second allowed
	// per connection; InboundBurst is the bucket size. Zero rate disables limiting.
	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`
}

// StorageConfig selects and tunes the storage collaborator.
type StorageConfig struct {
	Backend string `koanf:"backend"`

	// Path is the badger directory or sqlite file.
	Path string `koanf:"path"`

	// DSN is the Postgres connection string.
	DSN string `koanf:"dsn"`

	// NATSURL and NATSSubjectPrefix configure the nats event publisher.
	NATSURL           string `koanf:"nats_url"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`

	// EventTTL expires badger event keys; zero keeps them forever.
	EventTTL time.Duration `koanf:"event_ttl"`

	// QueueSize bounds the asynchronous writer queue; writes beyond it are dropped.
	QueueSize int `koanf:"queue_size"`

	// WriteTimeout bounds a single backend write.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`

	// RestorePresence warms the presence cache from the backend at startup.
	RestorePresence bool `koanf:"restore_presence"`
}

// SecurityConfig holds HTTP hardening settings. Authentication happens upstream.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	WSAllowedOrigins  []string      `koanf:"ws_allowed_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// PingPeriod returns the keep-alive ping interval derived from PongWait.
func (h HubConfig) PingPeriod() time.Duration {
	return (h.PongWait * 9) / 10
}
