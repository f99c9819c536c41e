// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
)

// taskSet tracks the claimed records a stage is working on. Tasks run under
// a context detached from the stage's own so that shutdown can grant them a
// grace period instead of killing them mid-transfer.
type taskSet struct {
	name string

	wg        sync.WaitGroup
	mu        sync.Mutex
	running   map[string]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	abandoned atomic.Bool
}

func newTaskSet(name string) *taskSet {
	t := &taskSet{
		name:    name,
		running: make(map[string]struct{}),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// reset prepares a fresh task context carrying parent's values.
func (t *taskSet) reset(parent context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(parent))
	t.abandoned.Store(false)
}

func (t *taskSet) has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.running[id]
	return ok
}

func (t *taskSet) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

// launch runs fn for id in its own goroutine. done is called after fn
// returns, even when fn panics.
func (t *taskSet) launch(id string, logger zerolog.Logger, fn func(ctx context.Context), done func()) {
	t.mu.Lock()
	t.running[id] = struct{}{}
	ctx := t.ctx
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.running, id)
			t.mu.Unlock()
			if done != nil {
				done()
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				metrics.StagePanics.WithLabelValues(t.name).Inc()
				logger.Error().Interface("panic", r).Str("id", id).Msg("Recovered panic in task")
			}
		}()
		fn(ctx)
	}()
}

// drain waits up to grace for running tasks. Tasks still running afterwards
// are canceled and the number abandoned is returned.
func (t *taskSet) drain(grace time.Duration) int {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return 0
	case <-timer.C:
		t.abandoned.Store(true)
		t.mu.Lock()
		n := len(t.running)
		t.cancel()
		t.mu.Unlock()
		return n
	}
}

func (t *taskSet) wait() {
	t.wg.Wait()
}

// wasAbandoned reports whether a task that ran under ctx was canceled by drain.
// Its record must then be left for the reaper.
func (t *taskSet) wasAbandoned(ctx context.Context) bool {
	return t.abandoned.Load() && ctx.Err() != nil
}
