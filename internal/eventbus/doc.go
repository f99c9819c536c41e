// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package eventbus publishes status notifications to NATS JetStream through
// Watermill so that other systems can follow backup and delivery progress.
//
// Publisher is a notify.Sink. Each subscriber group maps to a topic built
// from the configured prefix and the group kind:
//
//	job:<id>       -> <prefix>.job
//	database:<id>  -> <prefix>.database
//	dashboard:<id> -> <prefix>.dashboard
//
// The full group is carried in the "group" metadata header and in the JSON
// envelope. An embedded NATS server is available for single-node setups.
package eventbus
