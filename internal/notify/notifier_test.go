// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
)

type published struct {
	group string
	msg   Message
}

// recordingSink stores everything it receives. block, when set, stalls
// Publish until closed.
type recordingSink struct {
	mu    sync.Mutex
	got   []published
	err   error
	block chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(group string, msg Message) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, published{group, msg})
	return s.err
}

func (s *recordingSink) received() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.got...)
}

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

func event(id string) models.StatusEvent {
	return models.StatusEvent{
		Kind:            models.EventKindBackup,
		EntityID:        id,
		ResourceGroupID: "g1",
		DatabaseID:      "db1",
		Status:          string(models.BackupStatusQueued),
		IsNew:           true,
	}
}

func TestGroupsFor(t *testing.T) {
	e := event("b1")
	got := GroupsFor(&e)
	want := []string{"job:b1", "database:db1", "dashboard:g1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("GroupsFor = %v, want %v", got, want)
	}

	partial := models.StatusEvent{EntityID: "d1", ResourceGroupID: "g1"}
	if got := GroupsFor(&partial); len(got) != 2 {
		t.Errorf("empty database id should be skipped: %v", got)
	}
}

func TestNotifier_DispatchesToAllGroups(t *testing.T) {
	n := New(Config{QueueSize: 16}, zerolog.Nop())
	sink := &recordingSink{}
	n.AddSink(sink)

	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = n.Stop() }()

	n.Publish(event("b1"))
	waitFor(t, func() bool { return len(sink.received()) == 3 })

	got := sink.received()
	for i, group := range []string{"job:b1", "database:db1", "dashboard:g1"} {
		if got[i].group != group {
			t.Errorf("message %d group = %q, want %q", i, got[i].group, group)
		}
		if got[i].msg.Type != MessageTypeStatus || got[i].msg.Group != group {
			t.Errorf("message %d = %+v", i, got[i].msg)
		}
		if ev, ok := got[i].msg.Data.(*models.StatusEvent); !ok || ev.EntityID != "b1" {
			t.Errorf("message %d data = %#v", i, got[i].msg.Data)
		}
	}
}

func TestNotifier_PublishNeverBlocksAndDropsOldest(t *testing.T) {
	dropsBefore := testutil.ToFloat64(metrics.NotifyDropped)

	n := New(Config{QueueSize: 3}, zerolog.Nop())
	// Not started: nothing drains the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Publish(event(fmt.Sprintf("b%d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	if n.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", n.Pending())
	}
	if got := testutil.ToFloat64(metrics.NotifyDropped) - dropsBefore; got != 7 {
		t.Errorf("dropped delta = %v, want 7", got)
	}

	remaining := n.drain()
	for i, want := range []string{"b7", "b8", "b9"} {
		if remaining[i].EntityID != want {
			t.Errorf("remaining[%d] = %s, want %s (oldest must be evicted first)", i, remaining[i].EntityID, want)
		}
	}
	if n.Pending() != 0 {
		t.Errorf("Pending after drain = %d", n.Pending())
	}
}

func TestNotifier_SlowSinkDoesNotBlockPublish(t *testing.T) {
	n := New(Config{QueueSize: 4}, zerolog.Nop())
	sink := &recordingSink{block: make(chan struct{})}
	n.AddSink(sink)
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(event(fmt.Sprintf("b%d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked behind a stalled sink")
	}

	close(sink.block)
	_ = n.Stop()

	// The newest event always survives eviction.
	got := sink.received()
	if len(got) == 0 || got[len(got)-1].msg.Data.(*models.StatusEvent).EntityID != "b99" {
		t.Errorf("last delivered event should be b99, got %d messages", len(got))
	}
}

func TestNotifier_SinkErrorsAreIgnored(t *testing.T) {
	n := New(Config{}, zerolog.Nop())
	failing := &recordingSink{err: errors.New("client gone")}
	healthy := &recordingSink{}
	n.AddSink(failing)
	n.AddSink(healthy)

	e := event("b1")
	n.Dispatch(&e)

	if len(failing.received()) != 3 || len(healthy.received()) != 3 {
		t.Errorf("failing=%d healthy=%d, want 3 each", len(failing.received()), len(healthy.received()))
	}
}

func TestNotifier_StopFlushesQueue(t *testing.T) {
	n := New(Config{QueueSize: 8}, zerolog.Nop())
	sink := &recordingSink{}
	n.AddSink(sink)
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := n.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	n.Publish(event("b1"))
	n.Publish(event("b2"))
	if err := n.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := len(sink.received()); got != 6 {
		t.Errorf("received %d messages after Stop, want 6", got)
	}
	if n.IsRunning() {
		t.Error("IsRunning after Stop")
	}
}
