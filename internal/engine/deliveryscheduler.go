// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/periodic"
)

// DeliverySchedulerStore is the store surface the delivery scheduler needs.
type DeliverySchedulerStore interface {
	ListDeliveryRunPending(ctx context.Context) ([]*models.BackupRecord, error)
	ListDeliveryConfigs(ctx context.Context, groupID string, enabledOnly bool) ([]*models.ContentDeliveryConfiguration, error)
	ScheduleDeliveries(ctx context.Context, backupID string, records []*models.ContentDeliveryRecord) (bool, error)
}

// DeliveryScheduler creates one QUEUED delivery record per enabled delivery
// configuration for every READY backup that has not had its delivery run.
type DeliveryScheduler struct {
	*periodic.Loop

	store     DeliverySchedulerStore
	publisher Publisher
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewDeliveryScheduler creates the delivery scheduler.
func NewDeliveryScheduler(st DeliverySchedulerStore, pub Publisher, interval time.Duration, clk clock.Clock, logger zerolog.Logger) *DeliveryScheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	d := &DeliveryScheduler{
		store:     st,
		publisher: publisherOrNop(pub),
		clock:     clk,
		logger:    logger.With().Str("component", "delivery_scheduler").Logger(),
	}
	d.Loop = periodic.New("delivery_scheduler", interval, d.tick, d.logger)
	return d
}

func (d *DeliveryScheduler) tick(ctx context.Context) {
	pending, err := d.store.ListDeliveryRunPending(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list backups awaiting delivery")
		return
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return
		}
		d.schedule(ctx, rec)
	}
}

func (d *DeliveryScheduler) schedule(ctx context.Context, backup *models.BackupRecord) {
	logger := d.logger.With().
		Str("backup_id", backup.ID).
		Str("resource_group_id", backup.ResourceGroupID).
		Logger()

	configs, err := d.store.ListDeliveryConfigs(ctx, backup.ResourceGroupID, true)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list delivery configurations")
		return
	}

	now := d.clock.Now().UTC()
	records := make([]*models.ContentDeliveryRecord, 0, len(configs))
	for _, cfg := range configs {
		records = append(records, &models.ContentDeliveryRecord{
			ID:                             uuid.NewString(),
			ResourceGroupID:                backup.ResourceGroupID,
			BackupRecordID:                 backup.ID,
			BackupDatabaseInfoID:           backup.BackupDatabaseInfoID,
			ContentDeliveryConfigurationID: cfg.ID,
			DeliveryType:                   cfg.DeliveryType,
			CurrentStatus:                  models.DeliveryStatusQueued,
			StatusUpdateDateUTC:            now,
			RegisteredDateUTC:              now,
			ExecutionMessage:               "Queued for delivery",
		})
	}

	ok, err := d.store.ScheduleDeliveries(ctx, backup.ID, records)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to schedule deliveries")
		return
	}
	if !ok {
		logger.Debug().Msg("Deliveries already scheduled elsewhere")
		return
	}

	metrics.DeliveriesScheduled.Add(float64(len(records)))
	for _, r := range records {
		d.publisher.Publish(models.DeliveryEvent(r, backup.BackupDatabaseInfoID, true))
	}
	if len(records) == 0 {
		logger.Debug().Msg("No enabled delivery configurations")
		return
	}
	logger.Info().Int("count", len(records)).Msg("Deliveries scheduled")
}
