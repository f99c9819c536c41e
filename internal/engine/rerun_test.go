// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/store"
)

func TestRerunBackup(t *testing.T) {
	tests := []struct {
		name    string
		status  models.BackupStatus
		id      string
		wantErr error
	}{
		{"error is re-queued", models.BackupStatusError, "b-1", nil},
		{"ready is not rerunnable", models.BackupStatusReady, "b-1", ErrNotRerunnable},
		{"executing is not rerunnable", models.BackupStatusExecuting, "b-1", ErrNotRerunnable},
		{"unknown record", models.BackupStatusError, "missing", store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			seedGroup(t, s, nil)
			rec := insertBackup(t, s, "b-1", tt.status, testNow)

			pub := &recordingPublisher{}
			later := testNow.Add(time.Hour)
			rr := NewRerun(s, pub, testclock.NewClock(later), nopLogger())
			got, err := rr.RerunBackup(ctx, tt.id)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if stored := mustGetBackup(t, s, "b-1"); stored.BackupStatus != tt.status {
					t.Errorf("status changed to %s", stored.BackupStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("RerunBackup: %v", err)
			}
			if got.BackupStatus != models.BackupStatusQueued {
				t.Errorf("status = %s, want QUEUED", got.BackupStatus)
			}
			if got.ExecutionMessage != "" {
				t.Errorf("message = %q, want cleared", got.ExecutionMessage)
			}
			if got.ExecutedDeliveryRun {
				t.Error("ExecutedDeliveryRun should be reset")
			}
			if !got.StatusUpdateDateUTC.Equal(later) {
				t.Errorf("status update = %s, want %s", got.StatusUpdateDateUTC, later)
			}
			if got.Path != rec.Path {
				t.Errorf("path changed to %q", got.Path)
			}
			if events := pub.statuses("b-1"); len(events) != 1 || events[0] != "QUEUED" {
				t.Errorf("events = %v", events)
			}
		})
	}
}

func TestRerunBackup_ResetsDeliveryRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, s, nil)
	insertBackup(t, s, "b-1", models.BackupStatusReady, testNow)
	if ok, err := s.ScheduleDeliveries(ctx, "b-1", nil); err != nil || !ok {
		t.Fatalf("schedule deliveries: ok=%v err=%v", ok, err)
	}

	// READY is terminal, so copy the flagged record into ERROR.
	r := mustGetBackup(t, s, "b-1")
	r.ID = "b-2"
	r.BackupStatus = models.BackupStatusError
	if err := s.InsertBackup(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !mustGetBackup(t, s, "b-2").ExecutedDeliveryRun {
		t.Fatal("setup: flag should be set")
	}

	got, err := NewRerun(s, nil, nil, nopLogger()).RerunBackup(ctx, "b-2")
	if err != nil {
		t.Fatalf("RerunBackup: %v", err)
	}
	if got.ExecutedDeliveryRun {
		t.Error("ExecutedDeliveryRun should be reset by a re-run")
	}
}

func TestRerunDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, s, nil)
	insertBackup(t, s, "b-1", models.BackupStatusReady, testNow)
	insertDelivery(t, s, "d-err", "b-1", "cfg-1", models.DeliveryTypeFTP, testNow)
	insertDelivery(t, s, "d-queued", "b-1", "cfg-1", models.DeliveryTypeFTP, testNow)

	if ok, err := s.ClaimDelivery(ctx, "d-err", testNow, "Delivering backup"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if ok, err := s.TransitionDelivery(ctx, "d-err", store.DeliveryChange{
		From: models.DeliveryStatusExecuting, To: models.DeliveryStatusError, At: testNow, Message: "550 denied",
	}); err != nil || !ok {
		t.Fatalf("fail: ok=%v err=%v", ok, err)
	}

	pub := &recordingPublisher{}
	rr := NewRerun(s, pub, testclock.NewClock(testNow), nopLogger())

	got, err := rr.RerunDelivery(ctx, "d-err")
	if err != nil {
		t.Fatalf("RerunDelivery: %v", err)
	}
	if got.CurrentStatus != models.DeliveryStatusQueued || got.ExecutionMessage != "" {
		t.Errorf("delivery = %s (%q), want QUEUED with cleared message", got.CurrentStatus, got.ExecutionMessage)
	}
	if pub.count(models.EventKindDelivery, false) != 1 {
		t.Errorf("published %d events, want 1", pub.count(models.EventKindDelivery, false))
	}

	if _, err := rr.RerunDelivery(ctx, "d-queued"); !errors.Is(err, ErrNotRerunnable) {
		t.Errorf("queued delivery: err = %v, want ErrNotRerunnable", err)
	}
	if _, err := rr.RerunDelivery(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing delivery: err = %v, want ErrNotFound", err)
	}
}
