// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package store persists tenant configuration and backup/delivery records.
//
// Every status change is a conditional update: the current status is read
// inside a BadgerDB transaction, compared with the expected one and written
// back in the same transaction. A transaction that loses an optimistic
// conflict at commit is reported as a lost claim (false, nil), never as an
// error, so two pollers can never both hold a claim on the same record.
//
// Key layout:
//
//	group:<id>                         ResourceGroup
//	database:<id>                      BackupDatabaseInfo
//	schedule:<id>                      BackupSchedule
//	config:<id>                        ContentDeliveryConfiguration
//	backup:<id>                        BackupRecord
//	delivery:<id>                      ContentDeliveryRecord
//	idx:bs:<status>:<group>:<id>       backup status index
//	idx:ds:<status>:<id>               delivery status index
//	idx:dref:<reference>               delivery reference -> delivery id
//	fence:group:<id>                   per-group claim fence
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/backupbots/internal/models"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for a status edge outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyExists is returned when inserting a record whose id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// BackupChange describes a conditional backup status change and the fields
// written with it.
type BackupChange struct {
	From    models.BackupStatus
	To      models.BackupStatus
	At      time.Time
	Message string

	// ElapsedMs is written when > 0 or when RecordElapsed is set.
	ElapsedMs     int64
	RecordElapsed bool

	// Path is written when non-empty.
	Path string

	// ResetDeliveryRun clears ExecutedDeliveryRun (manual re-run).
	ResetDeliveryRun bool
}

// Apply writes the change onto r. The store calls it inside the claim
// transaction; callers use it to mirror a successful change on a local copy.
func (c BackupChange) Apply(r *models.BackupRecord) {
	r.BackupStatus = c.To
	r.StatusUpdateDateUTC = c.At.UTC()
	r.ExecutionMessage = c.Message
	if c.ElapsedMs > 0 || c.RecordElapsed {
		r.ExecutionMilliseconds = c.ElapsedMs
	}
	if c.Path != "" {
		r.Path = c.Path
	}
	if c.ResetDeliveryRun {
		r.ExecutedDeliveryRun = false
	}
}

// DeliveryChange describes a conditional delivery status change.
type DeliveryChange struct {
	From      models.DeliveryStatus
	To        models.DeliveryStatus
	At        time.Time
	Message   string
	Reference string

	// ElapsedMs is written when > 0 or when RecordElapsed is set.
	ElapsedMs     int64
	RecordElapsed bool
}

// Apply writes the change onto r.
func (c DeliveryChange) Apply(r *models.ContentDeliveryRecord) {
	r.CurrentStatus = c.To
	r.StatusUpdateDateUTC = c.At.UTC()
	r.ExecutionMessage = c.Message
	if c.ElapsedMs > 0 || c.RecordElapsed {
		r.ExecutionMilliseconds = c.ElapsedMs
	}
	if c.Reference != "" {
		r.DeliveryReference = c.Reference
	}
}

// Store is the persistence contract of the engine.
// Conditional methods return (false, nil) when the condition did not hold.
type Store interface {
	// Tenant configuration
	PutResourceGroup(ctx context.Context, g *models.ResourceGroup) error
	GetResourceGroup(ctx context.Context, id string) (*models.ResourceGroup, error)
	ListResourceGroups(ctx context.Context) ([]*models.ResourceGroup, error)
	RemoveResourceGroup(ctx context.Context, id string) error

	PutDatabase(ctx context.Context, d *models.BackupDatabaseInfo) error
	GetDatabase(ctx context.Context, id string) (*models.BackupDatabaseInfo, error)
	ListDatabases(ctx context.Context, groupID string) ([]*models.BackupDatabaseInfo, error)
	RemoveDatabase(ctx context.Context, id string) error

	PutSchedule(ctx context.Context, s *models.BackupSchedule) error
	GetSchedule(ctx context.Context, id string) (*models.BackupSchedule, error)
	ListSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
	RemoveSchedule(ctx context.Context, id string) error
	DueSchedules(ctx context.Context, now time.Time) ([]*models.BackupSchedule, error)

	PutDeliveryConfig(ctx context.Context, c *models.ContentDeliveryConfiguration) error
	GetDeliveryConfig(ctx context.Context, id string) (*models.ContentDeliveryConfiguration, error)
	ListDeliveryConfigs(ctx context.Context, groupID string, enabledOnly bool) ([]*models.ContentDeliveryConfiguration, error)
	RemoveDeliveryConfig(ctx context.Context, id string) error

	// Backup records
	InsertBackup(ctx context.Context, r *models.BackupRecord) error
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
	RemoveBackup(ctx context.Context, id string) error
	ListBackupsByStatus(ctx context.Context, status models.BackupStatus) ([]*models.BackupRecord, error)
	ListQueuedBackups(ctx context.Context, groupID string, limit int) ([]*models.BackupRecord, error)
	ListBackupsByDatabase(ctx context.Context, databaseID string) ([]*models.BackupRecord, error)
	ListBackupsSince(ctx context.Context, groupID string, since time.Time) ([]*models.BackupRecord, error)
	ListStaleBackups(ctx context.Context, statuses []models.BackupStatus, before time.Time) ([]*models.BackupRecord, error)
	ListDeliveryRunPending(ctx context.Context) ([]*models.BackupRecord, error)
	CountBackupsByStatus(ctx context.Context, groupID string, status models.BackupStatus) (int, error)
	ClaimBackup(ctx context.Context, id string, from, to models.BackupStatus, at time.Time, message string) (bool, error)
	ClaimBackupWithinCap(ctx context.Context, id, groupID string, limit int, at time.Time, message string) (bool, error)
	TransitionBackup(ctx context.Context, id string, change BackupChange) (bool, error)
	CompleteCompression(ctx context.Context, id, path string, at time.Time, elapsedMs int64) (bool, error)
	EnqueueScheduledBackup(ctx context.Context, scheduleID string, r *models.BackupRecord, at time.Time) (bool, error)
	ScheduleDeliveries(ctx context.Context, backupID string, records []*models.ContentDeliveryRecord) (bool, error)

	// Delivery records
	InsertDelivery(ctx context.Context, r *models.ContentDeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (*models.ContentDeliveryRecord, error)
	ListDeliveriesByStatus(ctx context.Context, status models.DeliveryStatus) ([]*models.ContentDeliveryRecord, error)
	ListDeliveriesByBackup(ctx context.Context, backupID string) ([]*models.ContentDeliveryRecord, error)
	ListDeliveriesSince(ctx context.Context, groupID string, since time.Time) ([]*models.ContentDeliveryRecord, error)
	ListStaleDeliveries(ctx context.Context, status models.DeliveryStatus, before time.Time) ([]*models.ContentDeliveryRecord, error)
	FindDeliveryByReference(ctx context.Context, reference string) (*models.ContentDeliveryRecord, error)
	ClaimDelivery(ctx context.Context, id string, at time.Time, message string) (bool, error)
	TransitionDelivery(ctx context.Context, id string, change DeliveryChange) (bool, error)

	Close() error
}
