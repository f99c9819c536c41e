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
	"github.com/tomtom215/backupbots/internal/provider"
	"github.com/tomtom215/backupbots/internal/retry"
	"github.com/tomtom215/backupbots/internal/store"
)

// WorkerStore is the store surface the worker pool needs.
type WorkerStore interface {
	ListResourceGroups(ctx context.Context) ([]*models.ResourceGroup, error)
	GetResourceGroup(ctx context.Context, id string) (*models.ResourceGroup, error)
	GetDatabase(ctx context.Context, id string) (*models.BackupDatabaseInfo, error)
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
	CountBackupsByStatus(ctx context.Context, groupID string, status models.BackupStatus) (int, error)
	ListQueuedBackups(ctx context.Context, groupID string, limit int) ([]*models.BackupRecord, error)
	ClaimBackupWithinCap(ctx context.Context, id, groupID string, limit int, at time.Time, message string) (bool, error)
	TransitionBackup(ctx context.Context, id string, change store.BackupChange) (bool, error)
}

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	Interval      time.Duration
	Retry         retry.Policy
	ShutdownGrace time.Duration
}

// WorkerPool claims QUEUED backups up to each resource group's cap and runs
// them through their provider.
type WorkerPool struct {
	*periodic.Loop

	store     WorkerStore
	providers ProviderRegistry
	publisher Publisher
	failures  FailureReporter
	clock     clock.Clock
	cfg       WorkerPoolConfig
	logger    zerolog.Logger

	tasks *taskSet
}

// NewWorkerPool creates a worker pool. failures may be nil.
func NewWorkerPool(st WorkerStore, providers ProviderRegistry, pub Publisher, failures FailureReporter, cfg WorkerPoolConfig, clk clock.Clock, logger zerolog.Logger) *WorkerPool {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	p := &WorkerPool{
		store:     st,
		providers: providers,
		publisher: publisherOrNop(pub),
		failures:  failures,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("component", "worker_pool").Logger(),
		tasks:     newTaskSet("backup_task"),
	}
	p.Loop = periodic.New("worker_pool", cfg.Interval, p.tick, p.logger)
	return p
}

// Start begins polling. Backups run under a context that outlives ctx so
// that Stop can give them a grace period.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.tasks.reset(ctx)
	return p.Loop.Start(ctx)
}

// Stop stops polling and waits up to the shutdown grace for running
// backups. Backups still running afterwards are canceled and left
// EXECUTING for the reaper.
func (p *WorkerPool) Stop() error {
	err := p.Loop.Stop()
	if n := p.tasks.drain(p.cfg.ShutdownGrace); n > 0 {
		p.logger.Warn().
			Int("in_flight", n).
			Dur("grace", p.cfg.ShutdownGrace).
			Msg("Shutdown grace expired, abandoning running backups")
	}
	return err
}

// Wait blocks until every backup started so far has finished.
func (p *WorkerPool) Wait() {
	p.tasks.wait()
}

// InFlight returns the number of backups this pool is running.
func (p *WorkerPool) InFlight() int {
	return p.tasks.inFlight()
}

func (p *WorkerPool) tick(ctx context.Context) {
	groups, err := p.store.ListResourceGroups(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to list resource groups")
		return
	}
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		p.fillGroup(ctx, g)
	}
}

// fillGroup claims as many QUEUED backups of g as its cap allows.
func (p *WorkerPool) fillGroup(ctx context.Context, g *models.ResourceGroup) {
	logger := p.logger.With().Str("resource_group_id", g.ID).Logger()

	running, err := p.store.CountBackupsByStatus(ctx, g.ID, models.BackupStatusExecuting)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to count running backups")
		return
	}
	metrics.RunningBots.WithLabelValues(g.ID).Set(float64(running))

	limit := g.BotCap()
	free := limit - running
	if free <= 0 {
		return
	}

	queued, err := p.store.ListQueuedBackups(ctx, g.ID, free)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list queued backups")
		return
	}

	for _, rec := range queued {
		if p.tasks.has(rec.ID) {
			continue
		}
		now := p.clock.Now().UTC()
		const msg = "Executing backup"
		ok, err := p.store.ClaimBackupWithinCap(ctx, rec.ID, g.ID, limit, now, msg)
		if err != nil {
			metrics.BackupClaims.WithLabelValues(metrics.ResultFailure).Inc()
			logger.Error().Err(err).Str("backup_id", rec.ID).Msg("Failed to claim backup")
			continue
		}
		if !ok {
			metrics.BackupClaims.WithLabelValues(metrics.ResultSkipped).Inc()
			logger.Debug().Str("backup_id", rec.ID).Msg("Backup claimed elsewhere or cap reached")
			continue
		}
		metrics.BackupClaims.WithLabelValues(metrics.ResultSuccess).Inc()

		claimed := *rec
		store.BackupChange{From: models.BackupStatusQueued, To: models.BackupStatusExecuting, At: now, Message: msg}.Apply(&claimed)
		p.publisher.Publish(models.BackupEvent(&claimed, false))
		p.launch(&claimed)
	}
}

func (p *WorkerPool) launch(rec *models.BackupRecord) {
	p.tasks.launch(rec.ID, p.logger, func(ctx context.Context) {
		p.execute(ctx, rec)
	}, nil)
}

// execute runs one claimed backup and records the outcome.
func (p *WorkerPool) execute(ctx context.Context, rec *models.BackupRecord) {
	logger := p.logger.With().
		Str("backup_id", rec.ID).
		Str("resource_group_id", rec.ResourceGroupID).
		Str("database_id", rec.BackupDatabaseInfoID).
		Logger()

	started := p.clock.Now()
	group, db, err := p.runBackup(ctx, rec, logger)
	elapsed := p.clock.Now().Sub(started)

	if p.tasks.wasAbandoned(ctx) {
		logger.Warn().Msg("Backup abandoned at shutdown, leaving it EXECUTING")
		return
	}

	metrics.RecordBackupExecution(elapsed, err)

	change := store.BackupChange{
		From:          models.BackupStatusExecuting,
		To:            models.BackupStatusCompleted,
		At:            p.clock.Now().UTC(),
		Message:       "Backup completed",
		ElapsedMs:     elapsed.Milliseconds(),
		RecordElapsed: true,
	}
	if err != nil {
		change.To = models.BackupStatusError
		change.Message = err.Error()
	}

	ok, terr := p.store.TransitionBackup(ctx, rec.ID, change)
	if terr != nil {
		logger.Error().Err(terr).Str("status", string(change.To)).Msg("Failed to record backup result")
		return
	}
	if !ok {
		logger.Warn().Str("status", string(change.To)).Msg("Backup changed status while executing, result dropped")
		return
	}

	change.Apply(rec)
	p.publisher.Publish(models.BackupEvent(rec, false))

	if err != nil {
		logger.Warn().Err(err).Int64("duration_ms", change.ElapsedMs).Msg("Backup failed")
		if p.failures != nil && group != nil && group.NotifyOnErrorBackups {
			p.failures.BackupFailed(group, db, rec)
		}
		return
	}
	logger.Info().Int64("duration_ms", change.ElapsedMs).Str("path", rec.Path).Msg("Backup completed")
}

// runBackup resolves everything the backup needs and runs it under the
// retry policy. group and db are returned when they could be resolved.
func (p *WorkerPool) runBackup(ctx context.Context, rec *models.BackupRecord, logger zerolog.Logger) (*models.ResourceGroup, *models.BackupDatabaseInfo, error) {
	current, err := p.store.GetBackup(ctx, rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load backup record: %w", err)
	}
	group, err := p.store.GetResourceGroup(ctx, current.ResourceGroupID)
	if err != nil {
		return nil, nil, fmt.Errorf("load resource group: %w", err)
	}
	db, err := p.store.GetDatabase(ctx, current.BackupDatabaseInfoID)
	if err != nil {
		return group, nil, fmt.Errorf("load database: %w", err)
	}

	dbType := db.EffectiveType(group)
	prov, err := p.providers.Get(dbType)
	if err != nil {
		return group, db, err
	}

	conn := provider.ConnectionFor(group, db)
	policy := p.cfg.Retry
	policy.OnRetry = func(err error, attempt int) {
		logger.Warn().Err(err).Int("attempt", attempt).Msg("Backup attempt failed, retrying")
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		if err := prov.TestConnectivity(ctx, conn); err != nil {
			return err
		}
		return prov.Backup(ctx, conn, db.DatabaseName, current.Path)
	})
	return group, db, err
}
