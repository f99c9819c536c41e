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
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
)

func deliveryIndexKey(status models.DeliveryStatus, id string) string {
	return prefixDeliveryStatus + string(status) + ":" + id
}

func getDelivery(txn *badger.Txn, id string) (*models.ContentDeliveryRecord, error) {
	var r models.ContentDeliveryRecord
	if err := getJSON(txn, prefixDelivery+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// putDelivery writes r and keeps the status and reference indexes in step with prev.
func putDelivery(txn *badger.Txn, r, prev *models.ContentDeliveryRecord) error {
	if prev != nil {
		if prev.CurrentStatus != r.CurrentStatus {
			if err := deleteKey(txn, deliveryIndexKey(prev.CurrentStatus, prev.ID)); err != nil {
				return err
			}
		}
		if prev.DeliveryReference != "" && prev.DeliveryReference != r.DeliveryReference {
			if err := deleteKey(txn, prefixDeliveryRef+prev.DeliveryReference); err != nil {
				return err
			}
		}
	}
	if err := setJSON(txn, prefixDelivery+r.ID, r); err != nil {
		return err
	}
	if err := txn.Set([]byte(deliveryIndexKey(r.CurrentStatus, r.ID)), nil); err != nil {
		return fmt.Errorf("set delivery index: %w", err)
	}
	if r.DeliveryReference != "" {
		if err := txn.Set([]byte(prefixDeliveryRef+r.DeliveryReference), []byte(r.ID)); err != nil {
			return fmt.Errorf("set delivery reference: %w", err)
		}
	}
	return nil
}

func insertDelivery(txn *badger.Txn, r *models.ContentDeliveryRecord) error {
	if r == nil || r.ID == "" {
		return errors.New("delivery record id is required")
	}
	if !r.CurrentStatus.IsValid() {
		return fmt.Errorf("delivery record %s: unknown status %q", r.ID, r.CurrentStatus)
	}
	found, err := exists(txn, prefixDelivery+r.ID)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("delivery record %s: %w", r.ID, ErrAlreadyExists)
	}
	return putDelivery(txn, r, nil)
}

func removeDelivery(txn *badger.Txn, r *models.ContentDeliveryRecord) error {
	if err := deleteKey(txn, deliveryIndexKey(r.CurrentStatus, r.ID)); err != nil {
		return err
	}
	if r.DeliveryReference != "" {
		if err := deleteKey(txn, prefixDeliveryRef+r.DeliveryReference); err != nil {
			return err
		}
	}
	return deleteKey(txn, prefixDelivery+r.ID)
}

func collectDeliveries(txn *badger.Txn, keep func(*models.ContentDeliveryRecord) bool) []*models.ContentDeliveryRecord {
	var records []*models.ContentDeliveryRecord
	scanJSON(txn, prefixDelivery, func(val []byte) error {
		var r models.ContentDeliveryRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		if keep(&r) {
			records = append(records, &r)
		}
		return nil
	})
	return records
}

func deliveriesOfBackup(txn *badger.Txn, backupID string) []*models.ContentDeliveryRecord {
	return collectDeliveries(txn, func(r *models.ContentDeliveryRecord) bool {
		return r.BackupRecordID == backupID
	})
}

func sortDeliveriesByRegistration(records []*models.ContentDeliveryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].RegisteredDateUTC.Equal(records[j].RegisteredDateUTC) {
			return records[i].RegisteredDateUTC.Before(records[j].RegisteredDateUTC)
		}
		return records[i].ID < records[j].ID
	})
}

// InsertDelivery inserts a new delivery record.
func (s *BadgerStore) InsertDelivery(ctx context.Context, r *models.ContentDeliveryRecord) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		return insertDelivery(txn, r)
	})
}

// GetDelivery returns a delivery record or ErrNotFound.
func (s *BadgerStore) GetDelivery(ctx context.Context, id string) (*models.ContentDeliveryRecord, error) {
	var r *models.ContentDeliveryRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		r, err = getDelivery(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListDeliveriesByStatus returns all delivery records in status, oldest first.
func (s *BadgerStore) ListDeliveriesByStatus(ctx context.Context, status models.DeliveryStatus) ([]*models.ContentDeliveryRecord, error) {
	var records []*models.ContentDeliveryRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range scanKeys(txn, prefixDeliveryStatus+string(status)+":") {
			r, err := getDelivery(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s deliveries: %w", status, err)
	}
	sortDeliveriesByRegistration(records)
	return records, nil
}

// ListDeliveriesByBackup returns the delivery records of one backup.
func (s *BadgerStore) ListDeliveriesByBackup(ctx context.Context, backupID string) ([]*models.ContentDeliveryRecord, error) {
	var records []*models.ContentDeliveryRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		records = deliveriesOfBackup(txn, backupID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list deliveries by backup: %w", err)
	}
	sortDeliveriesByRegistration(records)
	return records, nil
}

// ListDeliveriesSince returns a group's delivery records whose status changed at or after since.
func (s *BadgerStore) ListDeliveriesSince(ctx context.Context, groupID string, since time.Time) ([]*models.ContentDeliveryRecord, error) {
	var records []*models.ContentDeliveryRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		records = collectDeliveries(txn, func(r *models.ContentDeliveryRecord) bool {
			return r.ResourceGroupID == groupID && !r.StatusUpdateDateUTC.Before(since)
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list deliveries since: %w", err)
	}
	sortDeliveriesByRegistration(records)
	return records, nil
}

// ListStaleDeliveries returns delivery records in status whose last status change is before before.
func (s *BadgerStore) ListStaleDeliveries(ctx context.Context, status models.DeliveryStatus, before time.Time) ([]*models.ContentDeliveryRecord, error) {
	records, err := s.ListDeliveriesByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	stale := records[:0]
	for _, r := range records {
		if r.StatusUpdateDateUTC.Before(before) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}

// FindDeliveryByReference resolves a channel reference (such as a download URL) to its record.
func (s *BadgerStore) FindDeliveryByReference(ctx context.Context, reference string) (*models.ContentDeliveryRecord, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	var r *models.ContentDeliveryRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixDeliveryRef + reference))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get delivery reference: %w", err)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read delivery reference: %w", err)
		}
		r, err = getDelivery(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ClaimDelivery moves a QUEUED delivery to EXECUTING.
func (s *BadgerStore) ClaimDelivery(ctx context.Context, id string, at time.Time, message string) (bool, error) {
	return s.TransitionDelivery(ctx, id, DeliveryChange{
		From:    models.DeliveryStatusQueued,
		To:      models.DeliveryStatusExecuting,
		At:      at,
		Message: message,
	})
}

// TransitionDelivery applies change if the record is still in change.From.
func (s *BadgerStore) TransitionDelivery(ctx context.Context, id string, change DeliveryChange) (bool, error) {
	if !models.CanTransitionDelivery(change.From, change.To) {
		return false, fmt.Errorf("delivery %s: %s -> %s: %w", id, change.From, change.To, ErrInvalidTransition)
	}
	return s.conditional(ctx, func(txn *badger.Txn) (bool, error) {
		r, err := getDelivery(txn, id)
		if err != nil {
			return false, err
		}
		if r.CurrentStatus != change.From {
			return false, nil
		}
		next := *r
		change.Apply(&next)
		if err := putDelivery(txn, &next, r); err != nil {
			return false, err
		}
		return true, nil
	})
}
