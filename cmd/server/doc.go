// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

/*
Package main is the entry point for the Wayfarer server.

Wayfarer keeps travelling companions in sync: clients hold a websocket open,
join trips, and exchange locations, chat and emergency alerts with the other
members of each trip in real time.

# Application Architecture

Long-lived components run under a Suture v4 tree:

	RootSupervisor ("wayfarer")
	├── DataSupervisor ("data-layer")
	│   ├── storage-writer (async recorder, circuit breaker)
	│   └── storage-gc (badger only)
	├── MessagingSupervisor ("messaging-layer")
	│   └── hub (sessions, gauges)
	└── APISupervisor ("api-layer")
	    └── http-server (chi router, websocket upgrades)

Startup order:

 1. Configuration: koanf v2, defaults then config file then environment
 2. Logging: zerolog, also feeding the supervisor's slog handler
 3. Storage: memory, badger, sqlite, postgres or nats (STORAGE_BACKEND)
 4. Writer and hub; presence warm start when STORAGE_RESTORE_PRESENCE=true
 5. Supervisor tree, then block until SIGINT or SIGTERM

# Signal Handling

SIGINT and SIGTERM cancel the tree. The HTTP server stops accepting requests,
the hub closes every session (each announcing user_left once), and the writer
drains its queue before the backend is closed.

# Example Usage

	export STORAGE_BACKEND=sqlite
	export STORAGE_PATH=/var/lib/wayfarer/wayfarer.db
	export WS_ALLOWED_ORIGINS=https://app.example.com
	./wayfarer
*/
package main
