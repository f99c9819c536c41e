// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/config"
	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/retry"
	"github.com/tomtom215/backupbots/internal/store"
)

// Deps are the collaborators shared by every stage.
type Deps struct {
	Store     store.Store
	Providers ProviderRegistry
	Channels  ChannelRegistry
	Publisher Publisher

	// Failures may be nil when failure notifications are disabled.
	Failures FailureReporter

	// Clock defaults to the wall clock.
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Pipeline holds every stage of one engine instance.
type Pipeline struct {
	Scheduler         *Scheduler
	Workers           *WorkerPool
	Compression       *CompressionStage
	DeliveryScheduler *DeliveryScheduler
	Dispatcher        *Dispatcher
	Reaper            *Reaper
	Rerun             *Rerun
	Guard             *delivery.Guard
}

// New builds the pipeline described by cfg.
func New(cfg config.EngineConfig, deps Deps) *Pipeline {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := deps.Logger

	policy := func(retries int) retry.Policy {
		p := retry.FromRetries(retries, cfg.BackupRetryDelay)
		p.Backoff = cfg.RetryBackoff
		p.MaxDelay = cfg.RetryMaxDelay
		p.Clock = clk
		return p
	}
	backupRetry := policy(cfg.BackupRetries)
	deliveryRetry := policy(cfg.DeliveryRetries)
	if cfg.DeliveryRetryDelay > 0 {
		deliveryRetry.Delay = cfg.DeliveryRetryDelay
	}

	guard := delivery.NewGuard(delivery.GuardConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerTimeout,
		RatePerSecond:    cfg.DispatcherRatePerSecond,
	}, logger)

	return &Pipeline{
		Scheduler: NewScheduler(deps.Store, deps.Publisher, SchedulerConfig{
			Interval:     cfg.SchedulerInterval,
			BackupRoot:   cfg.BackupRoot,
			PathTemplate: cfg.BackupPathTemplate,
		}, clk, logger),
		Workers: NewWorkerPool(deps.Store, deps.Providers, deps.Publisher, deps.Failures, WorkerPoolConfig{
			Interval:      cfg.WorkerInterval,
			Retry:         backupRetry,
			ShutdownGrace: cfg.ShutdownGrace,
		}, clk, logger),
		Compression: NewCompressionStage(deps.Store, deps.Publisher, CompressionConfig{
			Interval:           cfg.CompressionInterval,
			Level:              cfg.CompressionLevel,
			Parallelism:        cfg.CompressionParallelism,
			RemoveUncompressed: cfg.RemoveUncompressed,
		}, clk, logger),
		DeliveryScheduler: NewDeliveryScheduler(deps.Store, deps.Publisher, cfg.DeliverySchedulerInterval, clk, logger),
		Dispatcher: NewDispatcher(deps.Store, deps.Channels, guard, deps.Publisher, deps.Failures, DispatcherConfig{
			Interval:      cfg.DispatcherInterval,
			Parallelism:   cfg.DispatcherParallelism,
			Retry:         deliveryRetry,
			ShutdownGrace: cfg.ShutdownGrace,
		}, clk, logger),
		Reaper: NewReaper(deps.Store, deps.Publisher, ReaperConfig{
			Interval: cfg.ReaperInterval,
			Timeout:  cfg.EffectiveExecutionTimeout(),
		}, clk, logger),
		Rerun: NewRerun(deps.Store, deps.Publisher, clk, logger),
		Guard: guard,
	}
}

// Stages returns the polling stages in pipeline order.
func (p *Pipeline) Stages() []Stage {
	return []Stage{
		p.Scheduler,
		p.Workers,
		p.Compression,
		p.DeliveryScheduler,
		p.Dispatcher,
		p.Reaper,
	}
}
