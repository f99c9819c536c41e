// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package models defines the persisted entities of the backup orchestration
// engine and the closed status enumerations that drive their lifecycle.
//
// Entities:
//   - ResourceGroup: a tenant with its own database server, concurrency cap
//     ("bots") and notification preferences
//   - BackupDatabaseInfo: a database registered for backup inside a group
//   - BackupSchedule: a recurring FULL or DIFFERENTIAL schedule for a database
//   - BackupRecord: one backup run moving QUEUED -> EXECUTING -> COMPLETED ->
//     COMPRESSING -> READY (or ERROR)
//   - ContentDeliveryConfiguration: a destination for finished artifacts
//   - ContentDeliveryRecord: one delivery of one artifact to one destination
//
// Status values are validated at the boundary with ParseBackupStatus and
// ParseDeliveryStatus; allowed edges are exposed through CanTransitionBackup
// and CanTransitionDelivery. Every conditional update in the store consults
// these tables before writing.
package models
