// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package metrics holds the Prometheus collectors for Wayfarer.
//
// Collectors are registered on the default registry at init through promauto
// and exposed by the API layer at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons used with WSSendFailures.
const (
	SendFailureBufferFull = "buffer_full"
	SendFailureClosed     = "closed"
	SendFailureWrite      = "write"
)

// Reasons used with WSMalformed.
const (
	MalformedJSON         = "invalid_json"
	MalformedUnknownType  = "unknown_type"
	MalformedMissingField = "missing_field"
	MalformedRateLimited  = "rate_limited"
)

var (
	// Hub Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wayfarer_ws_connections",
			Help: "Current number of registered websocket connections",
		},
	)

	WSUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wayfarer_ws_users",
			Help: "Current number of users with at least one connection",
		},
	)

	TripsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wayfarer_trips_active",
			Help: "Current number of trips with at least one member",
		},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_ws_messages_received_total",
			Help: "Total number of inbound envelopes routed, by type",
		},
		[]string{"type"},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_ws_messages_sent_total",
			Help: "Total number of outbound envelopes enqueued, by type",
		},
		[]string{"type"},
	)

	WSSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_ws_send_failures_total",
			Help: "Total number of failed sends that tore down a connection",
		},
		[]string{"reason"},
	)

	WSMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_ws_malformed_total",
			Help: "Total number of rejected inbound envelopes",
		},
		[]string{"reason"},
	)

	// Storage Metrics
	StorageWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_storage_writes_total",
			Help: "Total number of storage writes by operation and result",
		},
		[]string{"op", "result"}, // result: ok, error, dropped, rejected
	)

	StorageQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wayfarer_storage_queue_depth",
			Help: "Current number of writes waiting in the storage queue",
		},
	)

	StorageWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wayfarer_storage_write_duration_seconds",
			Help:    "Duration of backend writes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wayfarer_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records an API request with its duration and status code.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordStorageWrite records the outcome of a single storage job.
func RecordStorageWrite(op, result string, duration time.Duration) {
	StorageWrites.WithLabelValues(op, result).Inc()
	if duration > 0 {
		StorageWriteDuration.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// RecordBreakerTransition updates the breaker gauge and transition counter.
// States follow gobreaker: 0 closed, 1 half-open, 2 open.
func RecordBreakerTransition(name, from, to string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// SetHubGauges publishes the hub's table sizes.
func SetHubGauges(connections, users, trips int) {
	WSConnections.Set(float64(connections))
	WSUsers.Set(float64(users))
	TripsActive.Set(float64(trips))
}
