// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/periodic"
	"github.com/tomtom215/backupbots/internal/store"
)

// CompressionStore is the store surface the compression stage needs.
type CompressionStore interface {
	ListBackupsByStatus(ctx context.Context, status models.BackupStatus) ([]*models.BackupRecord, error)
	GetResourceGroup(ctx context.Context, id string) (*models.ResourceGroup, error)
	ClaimBackup(ctx context.Context, id string, from, to models.BackupStatus, at time.Time, message string) (bool, error)
	TransitionBackup(ctx context.Context, id string, change store.BackupChange) (bool, error)
	CompleteCompression(ctx context.Context, id, path string, at time.Time, elapsedMs int64) (bool, error)
}

// CompressionConfig configures the compression stage.
type CompressionConfig struct {
	Interval           time.Duration
	Level              int
	Parallelism        int
	RemoveUncompressed bool
}

// CompressionStage gzips COMPLETED artifacts of groups that want compressed
// backups and marks every COMPLETED record READY.
type CompressionStage struct {
	*periodic.Loop

	store     CompressionStore
	publisher Publisher
	clock     clock.Clock
	cfg       CompressionConfig
	logger    zerolog.Logger
}

// NewCompressionStage creates the compression stage.
func NewCompressionStage(st CompressionStore, pub Publisher, cfg CompressionConfig, clk clock.Clock, logger zerolog.Logger) *CompressionStage {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 2
	}
	if cfg.Level < gzip.HuffmanOnly || cfg.Level > gzip.BestCompression {
		cfg.Level = gzip.DefaultCompression
	}
	if clk == nil {
		clk = clock.WallClock
	}
	c := &CompressionStage{
		store:     st,
		publisher: publisherOrNop(pub),
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("component", "compression").Logger(),
	}
	c.Loop = periodic.New("compression", cfg.Interval, c.tick, c.logger)
	return c
}

func (c *CompressionStage) tick(ctx context.Context) {
	records, err := c.store.ListBackupsByStatus(ctx, models.BackupStatusCompleted)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to list completed backups")
		return
	}
	if len(records) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for _, rec := range records {
		g.Go(func() error {
			c.process(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *CompressionStage) process(ctx context.Context, rec *models.BackupRecord) {
	if ctx.Err() != nil {
		return
	}
	logger := c.logger.With().
		Str("backup_id", rec.ID).
		Str("resource_group_id", rec.ResourceGroupID).
		Logger()

	group, err := c.store.GetResourceGroup(ctx, rec.ResourceGroupID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Warn().Msg("Resource group no longer exists, marking backup ready uncompressed")
		group = &models.ResourceGroup{ID: rec.ResourceGroupID}
	case err != nil:
		logger.Error().Err(err).Msg("Failed to load resource group")
		return
	}

	if !group.CompressBackupFiles {
		c.transition(ctx, rec, store.BackupChange{
			From:    models.BackupStatusCompleted,
			To:      models.BackupStatusReady,
			At:      c.clock.Now().UTC(),
			Message: "Backup ready",
		}, logger)
		return
	}

	started := c.clock.Now().UTC()
	const claimMsg = "Compressing backup"
	ok, err := c.store.ClaimBackup(ctx, rec.ID, models.BackupStatusCompleted, models.BackupStatusCompressing, started, claimMsg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to claim backup for compression")
		return
	}
	if !ok {
		return
	}
	working := *rec
	store.BackupChange{From: models.BackupStatusCompleted, To: models.BackupStatusCompressing, At: started, Message: claimMsg}.Apply(&working)
	c.publisher.Publish(models.BackupEvent(&working, false))

	archive, err := CompressFile(ctx, working.Path, c.cfg.Level)
	if err != nil {
		metrics.Compressions.WithLabelValues(metrics.ResultFailure).Inc()
		logger.Warn().Err(err).Str("path", working.Path).Msg("Compression failed")
		c.transition(ctx, &working, store.BackupChange{
			From:    models.BackupStatusCompressing,
			To:      models.BackupStatusError,
			At:      c.clock.Now().UTC(),
			Message: fmt.Sprintf("compression failed: %v", err),
		}, logger)
		return
	}

	now := c.clock.Now().UTC()
	elapsed := now.Sub(started)
	// ExecutionMilliseconds keeps the backup duration; compression time is only logged.
	ok, err = c.store.CompleteCompression(ctx, rec.ID, archive, now, 0)
	if err != nil || !ok {
		// The original artifact is still in place; drop the orphan archive.
		_ = os.Remove(archive)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record compression result")
		} else {
			logger.Warn().Msg("Backup changed status while compressing, archive discarded")
		}
		return
	}
	metrics.Compressions.WithLabelValues(metrics.ResultSuccess).Inc()

	if c.cfg.RemoveUncompressed {
		if err := os.Remove(working.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", working.Path).Msg("Failed to remove uncompressed artifact")
		}
	}

	store.BackupChange{
		From: models.BackupStatusCompressing,
		To:   models.BackupStatusReady,
		At:   now,
		Path: archive,
	}.Apply(&working)
	c.publisher.Publish(models.BackupEvent(&working, false))
	logger.Info().Str("path", archive).Int64("duration_ms", elapsed.Milliseconds()).Msg("Backup compressed")
}

func (c *CompressionStage) transition(ctx context.Context, rec *models.BackupRecord, change store.BackupChange, logger zerolog.Logger) {
	ok, err := c.store.TransitionBackup(ctx, rec.ID, change)
	if err != nil {
		logger.Error().Err(err).Str("status", string(change.To)).Msg("Failed to update backup status")
		return
	}
	if !ok {
		return
	}
	next := *rec
	change.Apply(&next)
	c.publisher.Publish(models.BackupEvent(&next, false))
}

// CompressFile gzips src into src+".gz" and returns the archive path. The
// archive is written to a temporary file and renamed into place, so a failed
// or canceled compression leaves no partial archive behind. src is never
// modified.
func CompressFile(ctx context.Context, src string, level int) (archive string, err error) {
	//nolint:gosec // G304: src is an artifact path produced by the scheduler
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	archive = src + ".gz"
	tmp, err := os.CreateTemp(filepath.Dir(src), filepath.Base(archive)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close() //nolint:errcheck // Best effort cleanup on error
			_ = os.Remove(tmp.Name())
		}
	}()

	zw, err := gzip.NewWriterLevel(tmp, level)
	if err != nil {
		return "", fmt.Errorf("create gzip writer: %w", err)
	}
	zw.Name = filepath.Base(src)

	if _, err = io.Copy(zw, &ctxReader{ctx: ctx, r: in}); err != nil {
		return "", fmt.Errorf("compress artifact: %w", err)
	}
	if err = zw.Close(); err != nil {
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmp.Name(), archive); err != nil {
		return "", fmt.Errorf("move archive into place: %w", err)
	}
	return archive, nil
}

// ctxReader stops a copy when its context is canceled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
