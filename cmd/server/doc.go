// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

/*
Package main is the entry point for the backupbots server.

Backupbots backs up MySQL/MariaDB, PostgreSQL and SQL Server databases on
per-tenant schedules, compresses the artifacts and delivers them to download
links, FTP, SFTP, SMTP, S3-compatible object storage and Azure Blob Storage.
Status changes stream to WebSocket subscribers and, optionally, to NATS
JetStream.

# Application Architecture

Every component runs under a Suture v4 supervisor tree:

	RootSupervisor ("backupbots")
	├── DataSupervisor ("data-layer")
	│   └── store-gc (BadgerDB value log GC)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── status-notifier
	│   ├── websocket-hub
	│   ├── dashboard-refresher
	│   └── eventbus (nats.enabled only)
	├── EngineSupervisor ("engine-layer")
	│   ├── scheduler
	│   ├── worker_pool
	│   ├── compression
	│   ├── delivery_scheduler
	│   ├── dispatcher
	│   └── reaper
	└── APISupervisor ("api-layer")
	    └── http-server

Initialization order:

 1. Configuration: Koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog, bridged to slog for the supervisor
 3. State store: BadgerDB
 4. Status fan-out: notifier, WebSocket hub, event bus
 5. Pipeline: providers, delivery channels, stages
 6. HTTP surface: chi router
 7. Supervisor tree

# Signal Handling

SIGINT and SIGTERM cancel the root context. Stages stop claiming work and
give in-flight backups and deliveries engine.shutdown_grace to finish; the
HTTP server drains within server.shutdown_timeout. The state store is closed
after the tree has stopped.

# Example Usage

	export PUBLIC_BASE_URL=https://backups.example.com
	export STORE_PATH=/data/state
	export BACKUP_ROOT=/data/backups
	export NATS_ENABLED=true NATS_EMBEDDED=true NATS_STORE_DIR=/data/nats
	./backupbots
*/
package main
