// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/periodic"
	"github.com/tomtom215/backupbots/internal/store"
)

// SchedulerStore is the store surface the scheduler needs.
type SchedulerStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]*models.BackupSchedule, error)
	GetDatabase(ctx context.Context, id string) (*models.BackupDatabaseInfo, error)
	GetResourceGroup(ctx context.Context, id string) (*models.ResourceGroup, error)
	EnqueueScheduledBackup(ctx context.Context, scheduleID string, r *models.BackupRecord, at time.Time) (bool, error)
	InsertBackup(ctx context.Context, r *models.BackupRecord) error
}

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	Interval     time.Duration
	BackupRoot   string
	PathTemplate string
}

// Scheduler turns due backup schedules into QUEUED backup records.
type Scheduler struct {
	*periodic.Loop

	store     SchedulerStore
	publisher Publisher
	clock     clock.Clock
	cfg       SchedulerConfig
	logger    zerolog.Logger
}

// NewScheduler creates a scheduler. A nil clock uses the wall clock.
func NewScheduler(st SchedulerStore, pub Publisher, cfg SchedulerConfig, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	s := &Scheduler{
		store:     st,
		publisher: publisherOrNop(pub),
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
	s.Loop = periodic.New("scheduler", cfg.Interval, s.tick, s.logger)
	return s
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now().UTC()

	schedules, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get due schedules")
		return
	}
	if len(schedules) == 0 {
		s.logger.Debug().Msg("No schedules due")
		return
	}

	s.logger.Debug().Int("count", len(schedules)).Msg("Found due schedules")
	for _, sch := range schedules {
		if ctx.Err() != nil {
			return
		}
		s.enqueueScheduled(ctx, sch, now)
	}
}

func (s *Scheduler) enqueueScheduled(ctx context.Context, sch *models.BackupSchedule, now time.Time) {
	logger := s.logger.With().
		Str("schedule_id", sch.ID).
		Str("database_id", sch.BackupDatabaseInfoID).
		Logger()

	db, group, err := s.resolve(ctx, sch.BackupDatabaseInfoID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.SchedulesOrphaned.Inc()
		logger.Warn().Err(err).Msg("Skipping schedule whose database or resource group no longer exists")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve schedule")
		return
	}

	rec, err := s.newRecord(group, db, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build backup record")
		return
	}
	rec.ScheduleID = sch.ID
	rec.ScheduleType = sch.ScheduleType
	rec.Name = fmt.Sprintf("%s %s backup %s", db.DatabaseName, sch.ScheduleType, now.Format("2006-01-02 15:04"))

	ok, err := s.store.EnqueueScheduledBackup(ctx, sch.ID, rec, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to enqueue scheduled backup")
		return
	}
	if !ok {
		logger.Debug().Msg("Schedule already fired elsewhere")
		return
	}

	metrics.BackupsEnqueued.Inc()
	logger.Info().
		Str("backup_id", rec.ID).
		Str("resource_group_id", group.ID).
		Str("path", rec.Path).
		Msg("Backup queued")
	s.publisher.Publish(models.BackupEvent(rec, true))
}

// Enqueue queues an immediate FULL backup of a database outside any schedule.
func (s *Scheduler) Enqueue(ctx context.Context, databaseID string) (*models.BackupRecord, error) {
	db, group, err := s.resolve(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	rec, err := s.newRecord(group, db, now)
	if err != nil {
		return nil, err
	}
	rec.ScheduleType = models.ScheduleTypeFull
	rec.Name = fmt.Sprintf("%s manual backup %s", db.DatabaseName, now.Format("2006-01-02 15:04"))

	if err := s.store.InsertBackup(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}

	metrics.BackupsEnqueued.Inc()
	s.logger.Info().
		Str("backup_id", rec.ID).
		Str("database_id", db.ID).
		Msg("Manual backup queued")
	s.publisher.Publish(models.BackupEvent(rec, true))
	return rec, nil
}

func (s *Scheduler) resolve(ctx context.Context, databaseID string) (*models.BackupDatabaseInfo, *models.ResourceGroup, error) {
	db, err := s.store.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, nil, fmt.Errorf("database %s: %w", databaseID, err)
	}
	group, err := s.store.GetResourceGroup(ctx, db.ResourceGroupID)
	if err != nil {
		return nil, nil, fmt.Errorf("resource group %s: %w", db.ResourceGroupID, err)
	}
	return db, group, nil
}

func (s *Scheduler) newRecord(group *models.ResourceGroup, db *models.BackupDatabaseInfo, now time.Time) (*models.BackupRecord, error) {
	template := s.cfg.PathTemplate
	if group.BackupSavePathTemplate != "" {
		template = group.BackupSavePathTemplate
	}
	path, err := ArtifactPath(s.cfg.BackupRoot, groupKey(group), template, db.DatabaseName, db.EffectiveType(group), now)
	if err != nil {
		return nil, err
	}

	return &models.BackupRecord{
		ID:                   uuid.NewString(),
		ResourceGroupID:      group.ID,
		BackupDatabaseInfoID: db.ID,
		Path:                 path,
		BackupStatus:         models.BackupStatusQueued,
		StatusUpdateDateUTC:  now,
		RegisteredDateUTC:    now,
		ExpiryDateUTC:        now.AddDate(0, 0, db.ExpiryDays(group)),
		ExecutionMessage:     "Queued for execution",
	}, nil
}
