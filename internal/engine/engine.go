// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package engine runs the backup pipeline.
//
// Each stage is a periodic poller over the store:
//
//	Scheduler          due schedules      -> BackupRecord QUEUED
//	WorkerPool         QUEUED             -> EXECUTING -> COMPLETED | ERROR
//	CompressionStage   COMPLETED          -> COMPRESSING -> READY | ERROR
//	DeliveryScheduler  READY              -> one ContentDeliveryRecord per configuration
//	Dispatcher         delivery QUEUED    -> EXECUTING -> READY | ERROR
//	Reaper             stale EXECUTING    -> ERROR
//
// Stages only communicate through record status. Every status change is a
// conditional store update, so several instances of a stage (or several
// processes sharing a store) never act twice on one record. A lost claim is
// a normal skip.
package engine

import (
	"context"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/provider"
)

// Stage is the lifecycle every pipeline stage exposes to the supervisor.
type Stage interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context)
}

// Publisher receives status events. *notify.Notifier implements it.
type Publisher interface {
	Publish(event models.StatusEvent)
}

// FailureReporter is told about records that ended in ERROR for groups that
// asked to be notified. Implementations must not block.
type FailureReporter interface {
	BackupFailed(group *models.ResourceGroup, db *models.BackupDatabaseInfo, rec *models.BackupRecord)
	DeliveryFailed(group *models.ResourceGroup, rec *models.ContentDeliveryRecord, backup *models.BackupRecord)
}

// ProviderRegistry resolves database providers. *provider.Registry implements it.
type ProviderRegistry interface {
	Get(t models.DatabaseType) (provider.Provider, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.StatusEvent) {}

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// deliveryDatabaseID returns the database whose backup rec delivers, or ""
// when it cannot be resolved.
func deliveryDatabaseID(ctx context.Context, st interface {
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
}, rec *models.ContentDeliveryRecord) string {
	if rec.BackupDatabaseInfoID != "" {
		return rec.BackupDatabaseInfoID
	}
	b, err := st.GetBackup(ctx, rec.BackupRecordID)
	if err != nil {
		return ""
	}
	return b.BackupDatabaseInfoID
}

func groupKey(g *models.ResourceGroup) string {
	if g.Key != "" {
		return g.Key
	}
	if key := models.GroupKey(g.Name); key != "" {
		return key
	}
	return g.ID
}
