// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/periodic"
	"github.com/tomtom215/backupbots/internal/store"
)

// ReaperStore is the store surface the reaper needs.
type ReaperStore interface {
	ListStaleBackups(ctx context.Context, statuses []models.BackupStatus, before time.Time) ([]*models.BackupRecord, error)
	ListStaleDeliveries(ctx context.Context, status models.DeliveryStatus, before time.Time) ([]*models.ContentDeliveryRecord, error)
	TransitionBackup(ctx context.Context, id string, change store.BackupChange) (bool, error)
	TransitionDelivery(ctx context.Context, id string, change store.DeliveryChange) (bool, error)
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
}

// ReaperConfig configures the reaper.
type ReaperConfig struct {
	Interval time.Duration

	// Timeout is how long a record may sit in an in-flight status.
	Timeout time.Duration
}

// Reaper moves records stuck in an in-flight status to ERROR. Work whose
// process died (or that was abandoned at shutdown) ends up here.
type Reaper struct {
	*periodic.Loop

	store     ReaperStore
	publisher Publisher
	clock     clock.Clock
	cfg       ReaperConfig
	logger    zerolog.Logger
}

var staleBackupStatuses = []models.BackupStatus{
	models.BackupStatusExecuting,
	models.BackupStatusCompressing,
}

// NewReaper creates the reaper.
func NewReaper(st ReaperStore, pub Publisher, cfg ReaperConfig, clk clock.Clock, logger zerolog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if clk == nil {
		clk = clock.WallClock
	}
	r := &Reaper{
		store:     st,
		publisher: publisherOrNop(pub),
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("component", "reaper").Logger(),
	}
	r.Loop = periodic.New("reaper", cfg.Interval, r.tick, r.logger)
	return r
}

// TimeoutMessage is the execution message of a reaped record.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("execution timed out after %s: job was not responsive", timeout)
}

func (r *Reaper) tick(ctx context.Context) {
	now := r.clock.Now().UTC()
	cutoff := now.Add(-r.cfg.Timeout)
	msg := TimeoutMessage(r.cfg.Timeout)

	backups, err := r.store.ListStaleBackups(ctx, staleBackupStatuses, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list stale backups")
	}
	for _, rec := range backups {
		if ctx.Err() != nil {
			return
		}
		change := store.BackupChange{
			From:    rec.BackupStatus,
			To:      models.BackupStatusError,
			At:      now,
			Message: msg,
		}
		ok, err := r.store.TransitionBackup(ctx, rec.ID, change)
		if err != nil {
			r.logger.Error().Err(err).Str("backup_id", rec.ID).Msg("Failed to reap backup")
			continue
		}
		if !ok {
			continue
		}
		metrics.ReapedJobs.WithLabelValues(string(models.EventKindBackup)).Inc()
		r.logger.Warn().
			Str("backup_id", rec.ID).
			Str("from", string(change.From)).
			Time("status_update", rec.StatusUpdateDateUTC).
			Msg("Reaped stale backup")
		change.Apply(rec)
		r.publisher.Publish(models.BackupEvent(rec, false))
	}

	deliveries, err := r.store.ListStaleDeliveries(ctx, models.DeliveryStatusExecuting, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list stale deliveries")
		return
	}
	for _, rec := range deliveries {
		if ctx.Err() != nil {
			return
		}
		change := store.DeliveryChange{
			From:    models.DeliveryStatusExecuting,
			To:      models.DeliveryStatusError,
			At:      now,
			Message: msg,
		}
		ok, err := r.store.TransitionDelivery(ctx, rec.ID, change)
		if err != nil {
			r.logger.Error().Err(err).Str("delivery_id", rec.ID).Msg("Failed to reap delivery")
			continue
		}
		if !ok {
			continue
		}
		metrics.ReapedJobs.WithLabelValues(string(models.EventKindDelivery)).Inc()
		r.logger.Warn().
			Str("delivery_id", rec.ID).
			Time("status_update", rec.StatusUpdateDateUTC).
			Msg("Reaped stale delivery")
		change.Apply(rec)
		r.publisher.Publish(models.DeliveryEvent(rec, deliveryDatabaseID(ctx, r.store, rec), false))
	}
}
