// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/periodic"
	"github.com/tomtom215/backupbots/internal/retry"
	"github.com/tomtom215/backupbots/internal/store"
)

// DispatcherStore is the store surface the dispatcher needs.
type DispatcherStore interface {
	ListDeliveriesByStatus(ctx context.Context, status models.DeliveryStatus) ([]*models.ContentDeliveryRecord, error)
	ClaimDelivery(ctx context.Context, id string, at time.Time, message string) (bool, error)
	TransitionDelivery(ctx context.Context, id string, change store.DeliveryChange) (bool, error)
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
	GetDeliveryConfig(ctx context.Context, id string) (*models.ContentDeliveryConfiguration, error)
	GetResourceGroup(ctx context.Context, id string) (*models.ResourceGroup, error)
	GetDatabase(ctx context.Context, id string) (*models.BackupDatabaseInfo, error)
}

// ChannelRegistry resolves delivery channels. *delivery.Registry implements it.
type ChannelRegistry interface {
	Get(t models.DeliveryType) (delivery.Channel, error)
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	Interval      time.Duration
	Parallelism   int
	Retry         retry.Policy
	ShutdownGrace time.Duration
}

// Dispatcher executes QUEUED deliveries through their channels.
type Dispatcher struct {
	*periodic.Loop

	store     DispatcherStore
	channels  ChannelRegistry
	guard     *delivery.Guard
	publisher Publisher
	failures  FailureReporter
	clock     clock.Clock
	cfg       DispatcherConfig
	logger    zerolog.Logger

	slots *semaphore.Weighted
	tasks *taskSet
}

// NewDispatcher creates the dispatcher. guard and failures may be nil.
func NewDispatcher(st DispatcherStore, channels ChannelRegistry, guard *delivery.Guard, pub Publisher, failures FailureReporter, cfg DispatcherConfig, clk clock.Clock, logger zerolog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 8
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	d := &Dispatcher{
		store:     st,
		channels:  channels,
		guard:     guard,
		publisher: publisherOrNop(pub),
		failures:  failures,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		slots:     semaphore.NewWeighted(int64(cfg.Parallelism)),
		tasks:     newTaskSet("delivery_task"),
	}
	d.Loop = periodic.New("dispatcher", cfg.Interval, d.tick, d.logger)
	return d
}

// Start begins polling.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.tasks.reset(ctx)
	return d.Loop.Start(ctx)
}

// Stop stops polling and gives running deliveries the shutdown grace.
func (d *Dispatcher) Stop() error {
	err := d.Loop.Stop()
	if n := d.tasks.drain(d.cfg.ShutdownGrace); n > 0 {
		d.logger.Warn().
			Int("in_flight", n).
			Dur("grace", d.cfg.ShutdownGrace).
			Msg("Shutdown grace expired, abandoning running deliveries")
	}
	return err
}

// Wait blocks until every delivery started so far has finished.
func (d *Dispatcher) Wait() {
	d.tasks.wait()
}

// InFlight returns the number of deliveries running.
func (d *Dispatcher) InFlight() int {
	return d.tasks.inFlight()
}

func (d *Dispatcher) tick(ctx context.Context) {
	queued, err := d.store.ListDeliveriesByStatus(ctx, models.DeliveryStatusQueued)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list queued deliveries")
		return
	}

	for _, rec := range queued {
		if ctx.Err() != nil {
			return
		}
		if d.tasks.has(rec.ID) {
			continue
		}
		if !d.slots.TryAcquire(1) {
			d.logger.Debug().Int("parallelism", d.cfg.Parallelism).Msg("All dispatcher slots busy")
			return
		}

		now := d.clock.Now().UTC()
		const msg = "Delivering backup"
		ok, err := d.store.ClaimDelivery(ctx, rec.ID, now, msg)
		if err != nil || !ok {
			d.slots.Release(1)
			if err != nil {
				d.logger.Error().Err(err).Str("delivery_id", rec.ID).Msg("Failed to claim delivery")
			}
			continue
		}

		claimed := *rec
		store.DeliveryChange{From: models.DeliveryStatusQueued, To: models.DeliveryStatusExecuting, At: now, Message: msg}.Apply(&claimed)
		d.publisher.Publish(models.DeliveryEvent(&claimed, deliveryDatabaseID(ctx, d.store, &claimed), false))

		d.tasks.launch(claimed.ID, d.logger, func(ctx context.Context) {
			d.execute(ctx, &claimed)
		}, func() { d.slots.Release(1) })
	}
}

// execute runs one claimed delivery and records the outcome.
func (d *Dispatcher) execute(ctx context.Context, rec *models.ContentDeliveryRecord) {
	logger := d.logger.With().
		Str("delivery_id", rec.ID).
		Str("backup_id", rec.BackupRecordID).
		Str("delivery_type", string(rec.DeliveryType)).
		Logger()

	started := d.clock.Now()
	run, err := d.runDelivery(ctx, rec, logger)
	elapsed := d.clock.Now().Sub(started)

	if d.tasks.wasAbandoned(ctx) {
		logger.Warn().Msg("Delivery abandoned at shutdown, leaving it EXECUTING")
		return
	}

	metrics.RecordDeliveryExecution(string(rec.DeliveryType), elapsed, err)

	change := store.DeliveryChange{
		From:          models.DeliveryStatusExecuting,
		To:            models.DeliveryStatusReady,
		At:            d.clock.Now().UTC(),
		Message:       "Delivered",
		ElapsedMs:     elapsed.Milliseconds(),
		RecordElapsed: true,
	}
	if err != nil {
		change.To = models.DeliveryStatusError
		change.Message = err.Error()
	} else if run.result != nil {
		change.Reference = run.result.Reference
		if run.result.Message != "" {
			change.Message = run.result.Message
		}
	}

	ok, terr := d.store.TransitionDelivery(ctx, rec.ID, change)
	if terr != nil {
		logger.Error().Err(terr).Str("status", string(change.To)).Msg("Failed to record delivery result")
		return
	}
	if !ok {
		logger.Warn().Str("status", string(change.To)).Msg("Delivery changed status while executing, result dropped")
		return
	}

	change.Apply(rec)
	d.publisher.Publish(models.DeliveryEvent(rec, run.databaseID(), false))

	if err != nil {
		logger.Warn().Err(err).Int64("duration_ms", change.ElapsedMs).Msg("Delivery failed")
		if d.failures != nil && run.group != nil && run.group.NotifyOnErrorBackupDelivery {
			d.failures.DeliveryFailed(run.group, rec, run.backup)
		}
		return
	}
	logger.Info().Int64("duration_ms", change.ElapsedMs).Msg("Delivery completed")
}

// deliveryRun carries what runDelivery could resolve, for result reporting.
type deliveryRun struct {
	backup *models.BackupRecord
	group  *models.ResourceGroup
	result *delivery.DeliveryResult
}

func (r *deliveryRun) databaseID() string {
	if r.backup == nil {
		return ""
	}
	return r.backup.BackupDatabaseInfoID
}

// runDelivery resolves the delivery's backup, configuration and channel and
// runs the channel under the retry policy and circuit breaker. Resolution
// failures are never retried.
func (d *Dispatcher) runDelivery(ctx context.Context, rec *models.ContentDeliveryRecord, logger zerolog.Logger) (*deliveryRun, error) {
	run := &deliveryRun{}

	group, err := d.store.GetResourceGroup(ctx, rec.ResourceGroupID)
	if err != nil {
		return run, fmt.Errorf("load resource group: %w", err)
	}
	run.group = group

	backup, err := d.store.GetBackup(ctx, rec.BackupRecordID)
	if err != nil {
		return run, fmt.Errorf("load backup record: %w", err)
	}
	run.backup = backup
	if backup.BackupStatus != models.BackupStatusReady {
		return run, fmt.Errorf("backup %s is %s, not %s", backup.ID, backup.BackupStatus, models.BackupStatusReady)
	}

	cfg, err := d.store.GetDeliveryConfig(ctx, rec.ContentDeliveryConfigurationID)
	if err != nil {
		return run, fmt.Errorf("load delivery configuration: %w", err)
	}

	db, err := d.store.GetDatabase(ctx, backup.BackupDatabaseInfoID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return run, fmt.Errorf("load database: %w", err)
	}

	ch, err := d.channels.Get(rec.DeliveryType)
	if err != nil {
		return run, err
	}
	if err := ch.Validate(cfg.Configuration); err != nil {
		return run, err
	}

	req := &delivery.DeliveryRequest{
		DeliveryID:    rec.ID,
		Configuration: cfg.Configuration,
		ArtifactPath:  backup.Path,
		Backup:        backup,
		Group:         group,
		Database:      db,
	}

	policy := d.cfg.Retry
	policy.OnRetry = func(err error, attempt int) {
		logger.Warn().Err(err).Int("attempt", attempt).Msg("Delivery attempt failed, retrying")
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		deliver := func() (*delivery.DeliveryResult, error) {
			return ch.Deliver(ctx, req)
		}
		var (
			res *delivery.DeliveryResult
			err error
		)
		if d.guard != nil {
			res, err = d.guard.Do(ctx, rec.DeliveryType, cfg.ID, deliver)
		} else {
			res, err = deliver()
		}
		if err != nil {
			return err
		}
		run.result = res
		return nil
	})
	return run, err
}
