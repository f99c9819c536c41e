// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/store"
)

// ErrNotRerunnable is returned when a record is not in ERROR.
var ErrNotRerunnable = errors.New("record is not in ERROR")

// RerunStore is the store surface manual re-runs need.
type RerunStore interface {
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
	GetDelivery(ctx context.Context, id string) (*models.ContentDeliveryRecord, error)
	TransitionBackup(ctx context.Context, id string, change store.BackupChange) (bool, error)
	TransitionDelivery(ctx context.Context, id string, change store.DeliveryChange) (bool, error)
}

// Rerun puts failed records back on the queue.
type Rerun struct {
	store     RerunStore
	publisher Publisher
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewRerun creates a Rerun.
func NewRerun(st RerunStore, pub Publisher, clk clock.Clock, logger zerolog.Logger) *Rerun {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Rerun{
		store:     st,
		publisher: publisherOrNop(pub),
		clock:     clk,
		logger:    logger.With().Str("component", "rerun").Logger(),
	}
}

// RerunBackup moves an ERROR backup back to QUEUED. Its delivery run is
// reset so a successful re-run delivers again.
func (r *Rerun) RerunBackup(ctx context.Context, id string) (*models.BackupRecord, error) {
	change := store.BackupChange{
		From:             models.BackupStatusError,
		To:               models.BackupStatusQueued,
		At:               r.clock.Now().UTC(),
		ResetDeliveryRun: true,
	}
	ok, err := r.store.TransitionBackup(ctx, id, change)
	if err != nil {
		return nil, fmt.Errorf("rerun backup %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("rerun backup %s: %w", id, ErrNotRerunnable)
	}

	rec, err := r.store.GetBackup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rerun backup %s: %w", id, err)
	}
	r.logger.Info().Str("backup_id", id).Msg("Backup queued for re-run")
	r.publisher.Publish(models.BackupEvent(rec, false))
	return rec, nil
}

// RerunDelivery moves an ERROR delivery back to QUEUED.
func (r *Rerun) RerunDelivery(ctx context.Context, id string) (*models.ContentDeliveryRecord, error) {
	change := store.DeliveryChange{
		From: models.DeliveryStatusError,
		To:   models.DeliveryStatusQueued,
		At:   r.clock.Now().UTC(),
	}
	ok, err := r.store.TransitionDelivery(ctx, id, change)
	if err != nil {
		return nil, fmt.Errorf("rerun delivery %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("rerun delivery %s: %w", id, ErrNotRerunnable)
	}

	rec, err := r.store.GetDelivery(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rerun delivery %s: %w", id, err)
	}
	r.logger.Info().Str("delivery_id", id).Msg("Delivery queued for re-run")
	r.publisher.Publish(models.DeliveryEvent(rec, deliveryDatabaseID(ctx, r.store, rec), false))
	return rec, nil
}
