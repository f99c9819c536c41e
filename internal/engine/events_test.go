// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/notify"
)

// event returns the first event published for entityID with status.
func (p *recordingPublisher) event(entityID, status string) (models.StatusEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EntityID == entityID && e.Status == status {
			return e, true
		}
	}
	return models.StatusEvent{}, false
}

// TestDeliveryEventsReachDatabaseGroup checks that every delivery status
// event is routed to the subscribers of the backup's database.
func TestDeliveryEventsReachDatabaseGroup(t *testing.T) {
	tests := []struct {
		name       string
		wantStatus string
		run        func(t *testing.T, pub *recordingPublisher)
	}{
		{
			name:       "dispatcher claim",
			wantStatus: "EXECUTING",
			run: func(t *testing.T, pub *recordingPublisher) {
				s := newTestStore(t)
				seedGroup(t, s, nil)
				insertBackup(t, s, "b-1", models.BackupStatusReady, testNow)
				putDeliveryConfig(t, s, "cfg-1", models.DeliveryTypeFTP, 1, true)
				insertDelivery(t, s, "d-1", "b-1", "cfg-1", models.DeliveryTypeFTP, testNow)

				ch := &fakeChannel{typ: models.DeliveryTypeFTP, gate: make(chan struct{})}
				d := newTestDispatcher(s, channelsWith(ch), nil, pub, nil, 0, 1)
				d.RunOnce(context.Background())
				close(ch.gate)
				d.Wait()
			},
		},
		{
			name:       "reaped delivery",
			wantStatus: "ERROR",
			run: func(t *testing.T, pub *recordingPublisher) {
				s := newTestStore(t)
				ctx := context.Background()
				seedGroup(t, s, nil)
				insertBackup(t, s, "b-1", models.BackupStatusReady, testNow.Add(-3*time.Hour))
				insertDelivery(t, s, "d-1", "b-1", "cfg-1", models.DeliveryTypeFTP, testNow.Add(-2*time.Hour))
				if ok, err := s.ClaimDelivery(ctx, "d-1", testNow.Add(-2*time.Hour), "Delivering backup"); err != nil || !ok {
					t.Fatalf("claim: ok=%v err=%v", ok, err)
				}

				NewReaper(s, pub, ReaperConfig{Timeout: 30 * time.Minute}, testclock.NewClock(testNow), nopLogger()).RunOnce(ctx)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			tt.run(t, pub)

			e, ok := pub.event("d-1", tt.wantStatus)
			if !ok {
				t.Fatalf("no %s event for d-1, got %v", tt.wantStatus, pub.statuses("d-1"))
			}
			groups := notify.GroupsFor(&e)
			if !slices.Contains(groups, notify.DatabaseGroup("db-1")) {
				t.Errorf("groups = %v, want %s", groups, notify.DatabaseGroup("db-1"))
			}
		})
	}
}

func TestDeliverySchedulerRecordsDatabase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, s, nil)
	insertBackup(t, s, "b-1", models.BackupStatusReady, testNow)
	putDeliveryConfig(t, s, "cfg-1", models.DeliveryTypeFTP, 1, true)

	NewDeliveryScheduler(s, nil, time.Minute, testclock.NewClock(testNow), nopLogger()).RunOnce(ctx)

	recs, err := s.ListDeliveriesByBackup(ctx, "b-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("%d deliveries, want 1", len(recs))
	}
	if recs[0].BackupDatabaseInfoID != "db-1" {
		t.Errorf("database id = %q, want db-1", recs[0].BackupDatabaseInfoID)
	}
}
