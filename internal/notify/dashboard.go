// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package notify

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/periodic"
)

const dashboardWindow = 24 * time.Hour

// DashboardStore is the read access the refresher needs.
type DashboardStore interface {
	ListResourceGroups(ctx context.Context) ([]*models.ResourceGroup, error)
	ListBackupsSince(ctx context.Context, groupID string, since time.Time) ([]*models.BackupRecord, error)
	ListDeliveriesSince(ctx context.Context, groupID string, since time.Time) ([]*models.ContentDeliveryRecord, error)
	CountBackupsByStatus(ctx context.Context, groupID string, status models.BackupStatus) (int, error)
}

// DashboardRefresher periodically publishes trailing-24h activity per
// resource group to its dashboard group.
type DashboardRefresher struct {
	*periodic.Loop

	store    DashboardStore
	notifier *Notifier
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewDashboardRefresher creates the refresher. A nil clk uses the wall clock.
func NewDashboardRefresher(store DashboardStore, notifier *Notifier, interval time.Duration, clk clock.Clock, logger zerolog.Logger) *DashboardRefresher {
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	d := &DashboardRefresher{
		store:    store,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With().Str("component", "dashboard").Logger(),
	}
	d.Loop = periodic.New("dashboard", interval, d.refresh, d.logger)
	return d
}

func (d *DashboardRefresher) refresh(ctx context.Context) {
	groups, err := d.store.ListResourceGroups(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list resource groups")
		return
	}
	now := d.clock.Now().UTC()
	for _, g := range groups {
		m, err := d.metricsFor(ctx, g, now)
		if err != nil {
			d.logger.Warn().Err(err).Str("resource_group_id", g.ID).Msg("Failed to compute dashboard metrics")
			continue
		}
		group := DashboardGroup(g.ID)
		d.notifier.Broadcast(group, Message{Type: MessageTypeDashboard, Group: group, Data: m})
	}
}

func (d *DashboardRefresher) metricsFor(ctx context.Context, g *models.ResourceGroup, now time.Time) (*models.DashboardMetrics, error) {
	since := now.Add(-dashboardWindow)
	backups, err := d.store.ListBackupsSince(ctx, g.ID, since)
	if err != nil {
		return nil, err
	}
	deliveries, err := d.store.ListDeliveriesSince(ctx, g.ID, since)
	if err != nil {
		return nil, err
	}
	m := ComputeDashboard(g, backups, deliveries, now)

	for _, st := range []models.BackupStatus{models.BackupStatusExecuting, models.BackupStatusCompressing} {
		n, err := d.store.CountBackupsByStatus(ctx, g.ID, st)
		if err != nil {
			return nil, err
		}
		m.Running += n
	}
	queued, err := d.store.CountBackupsByStatus(ctx, g.ID, models.BackupStatusQueued)
	if err != nil {
		return nil, err
	}
	m.Queued = queued
	return m, nil
}

// ComputeDashboard buckets the last 24 hours of finished records by hour in
// the group's time zone. The last bucket is the hour containing now.
func ComputeDashboard(g *models.ResourceGroup, backups []*models.BackupRecord, deliveries []*models.ContentDeliveryRecord, now time.Time) *models.DashboardMetrics {
	loc := g.Location()
	local := now.In(loc)
	currentHour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	first := currentHour.Add(-(dashboardWindow - time.Hour))

	m := &models.DashboardMetrics{
		ResourceGroupID: g.ID,
		TimeZone:        loc.String(),
		GeneratedAt:     now.UTC(),
		Buckets:         make([]models.HourlyBucket, 24),
	}
	for i := range m.Buckets {
		start := first.Add(time.Duration(i) * time.Hour)
		m.Buckets[i] = models.HourlyBucket{
			Hour:     start.Format("15:00"),
			StartsAt: start,
		}
	}

	bucketOf := func(t time.Time) int {
		t = t.In(loc)
		if t.Before(first) || !t.Before(currentHour.Add(time.Hour)) {
			return -1
		}
		return int(t.Sub(first) / time.Hour)
	}

	for _, b := range backups {
		var ok bool
		switch b.BackupStatus {
		case models.BackupStatusReady, models.BackupStatusCompleted:
			ok = true
			m.BackupsSucceeded++
		case models.BackupStatusError:
			m.BackupsFailed++
		default:
			continue
		}
		if i := bucketOf(b.StatusUpdateDateUTC); i >= 0 {
			if ok {
				m.Buckets[i].Succeeded++
			} else {
				m.Buckets[i].Failed++
			}
		}
	}
	for _, d := range deliveries {
		switch d.CurrentStatus {
		case models.DeliveryStatusReady:
			m.DeliveriesSucceeded++
		case models.DeliveryStatusError:
			m.DeliveriesFailed++
		}
	}
	return m
}
