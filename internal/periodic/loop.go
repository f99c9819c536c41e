// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package periodic runs a function on a fixed interval with a
// Start/Stop lifecycle suitable for the supervisor tree.
//
// The first tick runs immediately on Start. A tick that panics is recovered,
// logged and counted in backupbots_stage_panics_total; the loop keeps going.
// Ticks never overlap: a slow tick delays the next one.
package periodic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
)

// TickFunc is one polling pass.
type TickFunc func(ctx context.Context)

// Loop calls a TickFunc every interval until stopped.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a loop. interval must be positive.
func New(name string, interval time.Duration, tick TickFunc, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
	}
}

// Name returns the loop name used in logs and metrics.
func (l *Loop) Name() string { return l.name }

// Interval returns the tick interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// Start launches the loop goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("%s already running", l.name)
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	l.logger.Info().Dur("interval", l.interval).Msg("Starting " + l.name)

	go l.run(ctx)
	return nil
}

// Stop signals the loop and waits for the current tick to return.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	close(stopCh)
	<-doneCh

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	l.logger.Info().Msg(l.name + " stopped")
	return nil
}

// IsRunning reports whether the loop is started.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Run immediately on start
	l.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			l.RunOnce(ctx)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one tick synchronously, recovering a panic.
func (l *Loop) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.StagePanics.WithLabelValues(l.name).Inc()
			l.logger.Error().
				Interface("panic", r).
				Msg("Recovered panic in " + l.name + " tick")
		}
		metrics.ObserveStageTick(l.name, started)
	}()
	l.tick(ctx)
}
