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

// Tenant configuration is owned by the management layer; the engine only reads it.

// PutResourceGroup creates or replaces a resource group.
func (s *BadgerStore) PutResourceGroup(ctx context.Context, g *models.ResourceGroup) error {
	if g == nil || g.ID == "" {
		return errors.New("resource group id is required")
	}
	if g.Key == "" {
		g.Key = models.GroupKey(g.Name)
	}
	return s.write(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixGroup+g.ID, g)
	})
}

// GetResourceGroup returns a resource group or ErrNotFound.
func (s *BadgerStore) GetResourceGroup(ctx context.Context, id string) (*models.ResourceGroup, error) {
	var g models.ResourceGroup
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixGroup+id, &g)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListResourceGroups returns all resource groups ordered by name.
func (s *BadgerStore) ListResourceGroups(ctx context.Context) ([]*models.ResourceGroup, error) {
	var groups []*models.ResourceGroup
	err := s.view(ctx, func(txn *badger.Txn) error {
		scanJSON(txn, prefixGroup, func(val []byte) error {
			var g models.ResourceGroup
			if err := json.Unmarshal(val, &g); err != nil {
				return err
			}
			groups = append(groups, &g)
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list resource groups: %w", err)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// RemoveResourceGroup deletes a resource group. Records referencing it are kept.
func (s *BadgerStore) RemoveResourceGroup(ctx context.Context, id string) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, prefixGroup+id)
	})
}

// PutDatabase creates or replaces a database registration.
func (s *BadgerStore) PutDatabase(ctx context.Context, d *models.BackupDatabaseInfo) error {
	if d == nil || d.ID == "" {
		return errors.New("database id is required")
	}
	return s.write(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixDatabase+d.ID, d)
	})
}

// GetDatabase returns a database registration or ErrNotFound.
func (s *BadgerStore) GetDatabase(ctx context.Context, id string) (*models.BackupDatabaseInfo, error) {
	var d models.BackupDatabaseInfo
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixDatabase+id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDatabases returns the databases of a group, or of every group when groupID is empty.
func (s *BadgerStore) ListDatabases(ctx context.Context, groupID string) ([]*models.BackupDatabaseInfo, error) {
	var dbs []*models.BackupDatabaseInfo
	err := s.view(ctx, func(txn *badger.Txn) error {
		scanJSON(txn, prefixDatabase, func(val []byte) error {
			var d models.BackupDatabaseInfo
			if err := json.Unmarshal(val, &d); err != nil {
				return err
			}
			if groupID == "" || d.ResourceGroupID == groupID {
				dbs = append(dbs, &d)
			}
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].DatabaseName < dbs[j].DatabaseName })
	return dbs, nil
}

// RemoveDatabase deletes a database registration. Its schedules become orphaned.
func (s *BadgerStore) RemoveDatabase(ctx context.Context, id string) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, prefixDatabase+id)
	})
}

// PutSchedule creates or replaces a schedule.
func (s *BadgerStore) PutSchedule(ctx context.Context, sch *models.BackupSchedule) error {
	if sch == nil || sch.ID == "" {
		return errors.New("schedule id is required")
	}
	return s.write(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixSchedule+sch.ID, sch)
	})
}

// GetSchedule returns a schedule or ErrNotFound.
func (s *BadgerStore) GetSchedule(ctx context.Context, id string) (*models.BackupSchedule, error) {
	var sch models.BackupSchedule
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixSchedule+id, &sch)
	})
	if err != nil {
		return nil, err
	}
	return &sch, nil
}

// ListSchedules returns every schedule.
func (s *BadgerStore) ListSchedules(ctx context.Context) ([]*models.BackupSchedule, error) {
	var schedules []*models.BackupSchedule
	err := s.view(ctx, func(txn *badger.Txn) error {
		scanJSON(txn, prefixSchedule, func(val []byte) error {
			var sch models.BackupSchedule
			if err := json.Unmarshal(val, &sch); err != nil {
				return err
			}
			schedules = append(schedules, &sch)
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// RemoveSchedule deletes a schedule.
func (s *BadgerStore) RemoveSchedule(ctx context.Context, id string) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, prefixSchedule+id)
	})
}

// DueSchedules returns schedules whose next run is at or before now, earliest first.
func (s *BadgerStore) DueSchedules(ctx context.Context, now time.Time) ([]*models.BackupSchedule, error) {
	all, err := s.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, sch := range all {
		if sch.IsDue(now) {
			due = append(due, sch)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRunUTC(now).Before(due[j].NextRunUTC(now))
	})
	return due, nil
}

// PutDeliveryConfig creates or replaces a delivery configuration.
func (s *BadgerStore) PutDeliveryConfig(ctx context.Context, c *models.ContentDeliveryConfiguration) error {
	if c == nil || c.ID == "" {
		return errors.New("delivery configuration id is required")
	}
	return s.write(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixConfig+c.ID, c)
	})
}

// GetDeliveryConfig returns a delivery configuration or ErrNotFound.
func (s *BadgerStore) GetDeliveryConfig(ctx context.Context, id string) (*models.ContentDeliveryConfiguration, error) {
	var c models.ContentDeliveryConfiguration
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixConfig+id, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListDeliveryConfigs returns a group's delivery configurations ordered by PriorityIndex.
func (s *BadgerStore) ListDeliveryConfigs(ctx context.Context, groupID string, enabledOnly bool) ([]*models.ContentDeliveryConfiguration, error) {
	var configs []*models.ContentDeliveryConfiguration
	err := s.view(ctx, func(txn *badger.Txn) error {
		scanJSON(txn, prefixConfig, func(val []byte) error {
			var c models.ContentDeliveryConfiguration
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if c.ResourceGroupID != groupID || (enabledOnly && !c.IsEnabled) {
				return nil
			}
			configs = append(configs, &c)
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list delivery configurations: %w", err)
	}
	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].PriorityIndex != configs[j].PriorityIndex {
			return configs[i].PriorityIndex < configs[j].PriorityIndex
		}
		return configs[i].ID < configs[j].ID
	})
	return configs, nil
}

// RemoveDeliveryConfig deletes a delivery configuration.
func (s *BadgerStore) RemoveDeliveryConfig(ctx context.Context, id string) error {
	return s.write(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, prefixConfig+id)
	})
}
