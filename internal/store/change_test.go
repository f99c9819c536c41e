// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package store

import (
	"context"
	"testing"

	"github.com/tomtom215/backupbots/internal/models"
)

func TestChangeApply_ElapsedMs(t *testing.T) {
	tests := []struct {
		name          string
		elapsedMs     int64
		recordElapsed bool
		want          int64
	}{
		{name: "positive duration", elapsedMs: 250, want: 250},
		{name: "zero kept when not recorded", elapsedMs: 0, want: 42},
		{name: "zero recorded", elapsedMs: 0, recordElapsed: true, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &models.BackupRecord{ExecutionMilliseconds: 42}
			BackupChange{To: models.BackupStatusCompleted, At: baseTime, ElapsedMs: tt.elapsedMs, RecordElapsed: tt.recordElapsed}.Apply(b)
			if b.ExecutionMilliseconds != tt.want {
				t.Errorf("backup ExecutionMilliseconds = %d, want %d", b.ExecutionMilliseconds, tt.want)
			}

			d := &models.ContentDeliveryRecord{ExecutionMilliseconds: 42}
			DeliveryChange{To: models.DeliveryStatusReady, At: baseTime, ElapsedMs: tt.elapsedMs, RecordElapsed: tt.recordElapsed}.Apply(d)
			if d.ExecutionMilliseconds != tt.want {
				t.Errorf("delivery ExecutionMilliseconds = %d, want %d", d.ExecutionMilliseconds, tt.want)
			}
		})
	}
}

// A sub-millisecond backup must persist 0, not a stale duration from an
// earlier attempt.
func TestTransitionBackup_RecordsZeroElapsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := queuedBackup("b-1", "rg-1", baseTime)
	r.BackupStatus = models.BackupStatusExecuting
	r.ExecutionMilliseconds = 1500
	mustInsertBackup(t, s, r)

	ok, err := s.TransitionBackup(ctx, "b-1", BackupChange{
		From:          models.BackupStatusExecuting,
		To:            models.BackupStatusCompleted,
		At:            baseTime,
		Message:       "Backup completed",
		RecordElapsed: true,
	})
	if err != nil || !ok {
		t.Fatalf("TransitionBackup = %v, %v", ok, err)
	}
	got, err := s.GetBackup(ctx, "b-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExecutionMilliseconds != 0 {
		t.Errorf("ExecutionMilliseconds = %d, want 0", got.ExecutionMilliseconds)
	}
}
