// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package models

import "time"

// EventKind distinguishes backup and delivery status events.
type EventKind string

const (
	EventKindBackup   EventKind = "backup"
	EventKindDelivery EventKind = "delivery"
)

// StatusEvent is published whenever a record is created or changes status.
type StatusEvent struct {
	Kind            EventKind `json:"kind"`
	EntityID        string    `json:"entity_id"`
	ResourceGroupID string    `json:"resource_group_id"`
	DatabaseID      string    `json:"database_id,omitempty"`
	BackupRecordID  string    `json:"backup_record_id,omitempty"`
	Status          string    `json:"status"`
	Message         string    `json:"message,omitempty"`
	IsNew           bool      `json:"is_new"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// BackupEvent builds a StatusEvent for a backup record.
func BackupEvent(r *BackupRecord, isNew bool) StatusEvent {
	return StatusEvent{
		Kind:            EventKindBackup,
		EntityID:        r.ID,
		ResourceGroupID: r.ResourceGroupID,
		DatabaseID:      r.BackupDatabaseInfoID,
		BackupRecordID:  r.ID,
		Status:          string(r.BackupStatus),
		Message:         r.ExecutionMessage,
		IsNew:           isNew,
		OccurredAt:      r.StatusUpdateDateUTC,
	}
}

// DeliveryEvent builds a StatusEvent for a delivery record.
// An empty databaseID falls back to the one recorded on r.
func DeliveryEvent(r *ContentDeliveryRecord, databaseID string, isNew bool) StatusEvent {
	if databaseID == "" {
		databaseID = r.BackupDatabaseInfoID
	}
	return StatusEvent{
		Kind:            EventKindDelivery,
		EntityID:        r.ID,
		ResourceGroupID: r.ResourceGroupID,
		DatabaseID:      databaseID,
		BackupRecordID:  r.BackupRecordID,
		Status:          string(r.CurrentStatus),
		Message:         r.ExecutionMessage,
		IsNew:           isNew,
		OccurredAt:      r.StatusUpdateDateUTC,
	}
}

// HourlyBucket is one hour of dashboard activity.
type HourlyBucket struct {
	Hour      string    `json:"hour"`
	StartsAt  time.Time `json:"starts_at"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// DashboardMetrics is the trailing 24h summary of a resource group.
type DashboardMetrics struct {
	ResourceGroupID     string         `json:"resource_group_id"`
	TimeZone            string         `json:"time_zone"`
	GeneratedAt         time.Time      `json:"generated_at"`
	Buckets             []HourlyBucket `json:"buckets"`
	BackupsSucceeded    int            `json:"backups_succeeded"`
	BackupsFailed       int            `json:"backups_failed"`
	DeliveriesSucceeded int            `json:"deliveries_succeeded"`
	DeliveriesFailed    int            `json:"deliveries_failed"`
	Running             int            `json:"running"`
	Queued              int            `json:"queued"`
}
