// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package periodic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestLoop_Lifecycle(t *testing.T) {
	var ticks atomic.Int32
	l := New("test_loop", 10*time.Millisecond, func(context.Context) { ticks.Add(1) }, zerolog.Nop())

	if l.IsRunning() {
		t.Fatal("new loop should not be running")
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if !l.IsRunning() {
		t.Error("IsRunning should be true after Start")
	}

	waitFor(t, func() bool { return ticks.Load() >= 3 })

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.IsRunning() {
		t.Error("IsRunning should be false after Stop")
	}
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if ticks.Load() != after {
		t.Error("loop ticked after Stop")
	}
	if err := l.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	// Restart works after Stop.
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = l.Stop()
}

func TestLoop_FirstTickIsImmediate(t *testing.T) {
	var ticks atomic.Int32
	l := New("immediate_loop", time.Hour, func(context.Context) { ticks.Add(1) }, zerolog.Nop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Stop() }()
	waitFor(t, func() bool { return ticks.Load() == 1 })
}

func TestLoop_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New("ctx_loop", 5*time.Millisecond, func(context.Context) {}, zerolog.Nop())
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after context cancellation")
	}
}

func TestLoop_RecoversPanics(t *testing.T) {
	before := testutil.ToFloat64(metrics.StagePanics.WithLabelValues("panicky_loop"))

	var ticks atomic.Int32
	l := New("panicky_loop", time.Hour, func(context.Context) {
		ticks.Add(1)
		panic("boom")
	}, zerolog.Nop())

	l.RunOnce(context.Background())
	l.RunOnce(context.Background())

	if ticks.Load() != 2 {
		t.Errorf("ticks = %d", ticks.Load())
	}
	if got := testutil.ToFloat64(metrics.StagePanics.WithLabelValues("panicky_loop")) - before; got != 2 {
		t.Errorf("panic counter delta = %v, want 2", got)
	}
}

func TestLoop_RunOnceSkipsCanceledContext(t *testing.T) {
	called := false
	l := New("skip_loop", time.Hour, func(context.Context) { called = true }, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.RunOnce(ctx)
	if called {
		t.Error("tick ran with a canceled context")
	}
}
