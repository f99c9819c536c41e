// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/periodic"
)

const defaultGCInterval = 10 * time.Minute

// GarbageCollector matches *store.BadgerStore.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService reclaims BadgerDB value log space on an interval.
type StoreGCService struct {
	*LifecycleService
}

// NewStoreGCService creates the GC service. A non-positive interval uses 10m.
func NewStoreGCService(gc GarbageCollector, interval time.Duration, logger zerolog.Logger) *StoreGCService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	logger = logger.With().Str("component", "store_gc").Logger()
	loop := periodic.New("store_gc", interval, func(context.Context) {
		started := time.Now()
		if err := gc.RunGC(); err != nil {
			logger.Warn().Err(err).Msg("Value log GC failed")
			return
		}
		logger.Debug().Dur("duration", time.Since(started)).Msg("Value log GC finished")
	}, logger)
	return &StoreGCService{LifecycleService: NewLifecycleService("store-gc", loop)}
}
