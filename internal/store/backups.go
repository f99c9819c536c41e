// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
)

func backupIndexKey(status models.BackupStatus, groupID, id string) string {
	return prefixBackupStatus + string(status) + ":" + groupID + ":" + id
}

func backupIndexPrefix(status models.BackupStatus, groupID string) string {
	if groupID == "" {
		return prefixBackupStatus + string(status) + ":"
	}
	return prefixBackupStatus + string(status) + ":" + groupID + ":"
}

func getBackup(txn *badger.Txn, id string) (*models.BackupRecord, error) {
	var r models.BackupRecord
	if err := getJSON(txn, prefixBackup+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// putBackup writes r and moves its status index entry away from prev's status.
func putBackup(txn *badger.Txn, r, prev *models.BackupRecord) error {
	if prev != nil && (prev.BackupStatus != r.BackupStatus || prev.ResourceGroupID != r.ResourceGroupID) {
		if err := deleteKey(txn, backupIndexKey(prev.BackupStatus, prev.ResourceGroupID, prev.ID)); err != nil {
			return err
		}
	}
	if err := setJSON(txn, prefixBackup+r.ID, r); err != nil {
		return err
	}
	if err := txn.Set([]byte(backupIndexKey(r.BackupStatus, r.ResourceGroupID, r.ID)), nil); err != nil {
		return fmt.Errorf("set backup index: %w", err)
	}
	return nil
}

func insertBackup(txn *badger.Txn, r *models.BackupRecord) error {
	if r == nil || r.ID == "" {
		return errors.New("backup record id is required")
	}
	if !r.BackupStatus.IsValid() {
		return fmt.Errorf("backup record %s: unknown status %q", r.ID, r.BackupStatus)
	}
	found, err := exists(txn, prefixBackup+r.ID)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("backup record %s: %w", r.ID, ErrAlreadyExists)
	}
	return putBackup(txn, r, nil)
}

// loadBackups resolves ids to records, skipping ids whose record is gone.
func loadBackups(txn *badger.Txn, ids []string) ([]*models.BackupRecord, error) {
	records := make([]*models.BackupRecord, 0, len(ids))
	for _, id := range ids {
		r, err := getBackup(txn, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// indexedBackupIDs returns the record ids under a status index prefix.
// Keys are <group>:<id>; the id is the part after the last colon.
func indexedBackupIDs(txn *badger.Txn, prefix string) []string {
	keys := scanKeys(txn, prefix)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[strings.LastIndex(k, ":")+1:])
	}
	return ids
}

func sortBackupsByRegistration(records []*models.BackupRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].RegisteredDateUTC.Equal(records[j].RegisteredDateUTC) {
			return records[i].RegisteredDateUTC.Before(records[j].RegisteredDateUTC)
		}
		return records[i].ID < records[j].ID
	})
}

// InsertBackup inserts a new record. Used for manual backups.
func (s *BadgerStore) InsertBackup(ctx context.Context, r *models.BackupRecord) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		return insertBackup(txn, r)
	})
}

// GetBackup returns a backup record or ErrNotFound.
func (s *BadgerStore) GetBackup(ctx context.Context, id string) (*models.BackupRecord, error) {
	var r *models.BackupRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		r, err = getBackup(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RemoveBackup deletes a backup record together with its delivery records.
// Artifacts on disk are not touched.
func (s *BadgerStore) RemoveBackup(ctx context.Context, id string) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		r, err := getBackup(txn, id)
		if err != nil {
			return err
		}
		deliveries := deliveriesOfBackup(txn, id)
		for _, d := range deliveries {
			if err := removeDelivery(txn, d); err != nil {
				return err
			}
		}
		if err := deleteKey(txn, backupIndexKey(r.BackupStatus, r.ResourceGroupID, r.ID)); err != nil {
			return err
		}
		return deleteKey(txn, prefixBackup+id)
	})
}

// ListBackupsByStatus returns all records in status across groups, oldest registration first.
func (s *BadgerStore) ListBackupsByStatus(ctx context.Context, status models.BackupStatus) ([]*models.BackupRecord, error) {
	var records []*models.BackupRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		records, err = loadBackups(txn, indexedBackupIDs(txn, backupIndexPrefix(status, "")))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s backups: %w", status, err)
	}
	sortBackupsByRegistration(records)
	return records, nil
}

// ListQueuedBackups returns up to limit QUEUED records of a group, oldest first.
// limit <= 0 means no limit.
func (s *BadgerStore) ListQueuedBackups(ctx context.Context, groupID string, limit int) ([]*models.BackupRecord, error) {
	var records []*models.BackupRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		records, err = loadBackups(txn, indexedBackupIDs(txn, backupIndexPrefix(models.BackupStatusQueued, groupID)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list queued backups: %w", err)
	}
	sortBackupsByRegistration(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// scanBackups returns every record accepted by keep.
func (s *BadgerStore) scanBackups(ctx context.Context, keep func(*models.BackupRecord) bool) ([]*models.BackupRecord, error) {
	var records []*models.BackupRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		scanJSON(txn, prefixBackup, func(val []byte) error {
			var r models.BackupRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			if keep(&r) {
				records = append(records, &r)
			}
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBackupsByRegistration(records)
	return records, nil
}

// ListBackupsByDatabase returns every record of a database, oldest first.
func (s *BadgerStore) ListBackupsByDatabase(ctx context.Context, databaseID string) ([]*models.BackupRecord, error) {
	records, err := s.scanBackups(ctx, func(r *models.BackupRecord) bool {
		return r.BackupDatabaseInfoID == databaseID
	})
	if err != nil {
		return nil, fmt.Errorf("list backups by database: %w", err)
	}
	return records, nil
}

// ListBackupsSince returns a group's records whose status changed at or after since.
func (s *BadgerStore) ListBackupsSince(ctx context.Context, groupID string, since time.Time) ([]*models.BackupRecord, error) {
	records, err := s.scanBackups(ctx, func(r *models.BackupRecord) bool {
		return r.ResourceGroupID == groupID && !r.StatusUpdateDateUTC.Before(since)
	})
	if err != nil {
		return nil, fmt.Errorf("list backups since: %w", err)
	}
	return records, nil
}

// ListStaleBackups returns records in any of statuses whose last status change is before before.
func (s *BadgerStore) ListStaleBackups(ctx context.Context, statuses []models.BackupStatus, before time.Time) ([]*models.BackupRecord, error) {
	var stale []*models.BackupRecord
	for _, status := range statuses {
		records, err := s.ListBackupsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.StatusUpdateDateUTC.Before(before) {
				stale = append(stale, r)
			}
		}
	}
	return stale, nil
}

// ListDeliveryRunPending returns READY records whose deliveries are not scheduled yet.
func (s *BadgerStore) ListDeliveryRunPending(ctx context.Context) ([]*models.BackupRecord, error) {
	records, err := s.ListBackupsByStatus(ctx, models.BackupStatusReady)
	if err != nil {
		return nil, err
	}
	pending := records[:0]
	for _, r := range records {
		if !r.ExecutedDeliveryRun {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// CountBackupsByStatus counts a group's records in status.
func (s *BadgerStore) CountBackupsByStatus(ctx context.Context, groupID string, status models.BackupStatus) (int, error) {
	var n int
	err := s.view(ctx, func(txn *badger.Txn) error {
		n = countKeys(txn, backupIndexPrefix(status, groupID))
		return nil
	})
	return n, err
}

// ClaimBackup moves a record from one status to another if it is still in from.
func (s *BadgerStore) ClaimBackup(ctx context.Context, id string, from, to models.BackupStatus, at time.Time, message string) (bool, error) {
	return s.TransitionBackup(ctx, id, BackupChange{From: from, To: to, At: at, Message: message})
}

// ClaimBackupWithinCap moves a QUEUED record of groupID to EXECUTING unless
// the group already has limit EXECUTING records. The group fence key is read
// and written by every such claim, so two concurrent claims in one group
// conflict at commit and at most one of them wins.
func (s *BadgerStore) ClaimBackupWithinCap(ctx context.Context, id, groupID string, limit int, at time.Time, message string) (bool, error) {
	if limit < 1 {
		limit = 1
	}
	change := BackupChange{
		From:    models.BackupStatusQueued,
		To:      models.BackupStatusExecuting,
		At:      at,
		Message: message,
	}
	return s.conditional(ctx, func(txn *badger.Txn) (bool, error) {
		fence := prefixGroupFence + groupID
		if _, err := txn.Get([]byte(fence)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return false, fmt.Errorf("read group fence: %w", err)
		}

		r, err := getBackup(txn, id)
		if err != nil {
			return false, err
		}
		if r.BackupStatus != models.BackupStatusQueued || r.ResourceGroupID != groupID {
			return false, nil
		}
		if countKeys(txn, backupIndexPrefix(models.BackupStatusExecuting, groupID)) >= limit {
			return false, nil
		}

		next := *r
		change.Apply(&next)
		if err := putBackup(txn, &next, r); err != nil {
			return false, err
		}
		if err := txn.Set([]byte(fence), []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
			return false, fmt.Errorf("write group fence: %w", err)
		}
		return true, nil
	})
}

// TransitionBackup applies change if the record is still in change.From.
func (s *BadgerStore) TransitionBackup(ctx context.Context, id string, change BackupChange) (bool, error) {
	if !models.CanTransitionBackup(change.From, change.To) {
		return false, fmt.Errorf("backup %s: %s -> %s: %w", id, change.From, change.To, ErrInvalidTransition)
	}
	return s.conditional(ctx, func(txn *badger.Txn) (bool, error) {
		r, err := getBackup(txn, id)
		if err != nil {
			return false, err
		}
		if r.BackupStatus != change.From {
			return false, nil
		}
		next := *r
		change.Apply(&next)
		if err := putBackup(txn, &next, r); err != nil {
			return false, err
		}
		return true, nil
	})
}

// CompleteCompression records the archive path and moves COMPRESSING to READY.
func (s *BadgerStore) CompleteCompression(ctx context.Context, id, path string, at time.Time, elapsedMs int64) (bool, error) {
	return s.TransitionBackup(ctx, id, BackupChange{
		From:      models.BackupStatusCompressing,
		To:        models.BackupStatusReady,
		At:        at,
		Path:      path,
		ElapsedMs: elapsedMs,
	})
}

// EnqueueScheduledBackup inserts r and advances the schedule's LastRunUTC to
// at in one transaction. It returns false when the schedule is no longer due
// (another scheduler fired it first).
func (s *BadgerStore) EnqueueScheduledBackup(ctx context.Context, scheduleID string, r *models.BackupRecord, at time.Time) (bool, error) {
	return s.conditional(ctx, func(txn *badger.Txn) (bool, error) {
		var sch models.BackupSchedule
		if err := getJSON(txn, prefixSchedule+scheduleID, &sch); err != nil {
			return false, err
		}
		if !sch.IsDue(at) {
			return false, nil
		}
		if err := insertBackup(txn, r); err != nil {
			return false, err
		}
		sch.LastRunUTC = at.UTC()
		if err := setJSON(txn, prefixSchedule+sch.ID, &sch); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ScheduleDeliveries inserts records and flips ExecutedDeliveryRun on the
// backup in one transaction, provided the backup is READY and not yet
// scheduled. An empty records slice still flips the flag.
func (s *BadgerStore) ScheduleDeliveries(ctx context.Context, backupID string, records []*models.ContentDeliveryRecord) (bool, error) {
	return s.conditional(ctx, func(txn *badger.Txn) (bool, error) {
		r, err := getBackup(txn, backupID)
		if err != nil {
			return false, err
		}
		if r.BackupStatus != models.BackupStatusReady || r.ExecutedDeliveryRun {
			return false, nil
		}
		for _, d := range records {
			if d.BackupRecordID != backupID {
				return false, fmt.Errorf("delivery %s belongs to backup %s, not %s", d.ID, d.BackupRecordID, backupID)
			}
			if err := insertDelivery(txn, d); err != nil {
				return false, err
			}
		}
		next := *r
		next.ExecutedDeliveryRun = true
		if err := putBackup(txn, &next, r); err != nil {
			return false, err
		}
		return true, nil
	})
}
