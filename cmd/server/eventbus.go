// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/config"
	"github.com/tomtom215/backupbots/internal/eventbus"
	"github.com/tomtom215/backupbots/internal/supervisor/services"
)

// eventBus holds the optional NATS components. Both fields are nil when
// nats.enabled is false; server is nil when connecting to an external URL.
type eventBus struct {
	publisher *eventbus.Publisher
	server    *eventbus.EmbeddedServer
}

// initEventBus starts the embedded server when configured and opens the
// status publisher.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func initEventBus(ctx context.Context, cfg config.NATSConfig, logger zerolog.Logger) (*eventBus, error) {
	if !cfg.Enabled {
		logger.Info().Msg("Event bus disabled (nats.enabled=false)")
		return &eventBus{}, nil
	}

	bus := &eventBus{}
	url := cfg.URL
	if cfg.Embedded {
		srv, err := eventbus.NewEmbeddedServer(eventbus.ServerConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			StoreDir: cfg.StoreDir,
		})
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		bus.server = srv
		url = srv.ClientURL()
		logger.Info().Str("url", url).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server started")
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pub, err := eventbus.Open(openCtx, eventbus.Config{
		URL:         url,
		StreamName:  cfg.StreamName,
		TopicPrefix: cfg.TopicPrefix,
	}, logger)
	if err != nil {
		if bus.server != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			_ = bus.server.Shutdown(shutdownCtx)
		}
		return nil, err
	}
	bus.publisher = pub
	logger.Info().
		Str("url", url).
		Str("stream", cfg.StreamName).
		Str("topic_prefix", cfg.TopicPrefix).
		Msg("Event bus publisher connected")
	return bus, nil
}

// service returns the supervisor service owning the bus, or nil when disabled.
func (b *eventBus) service(shutdownTimeout time.Duration) *services.EventBusService {
	if b.publisher == nil {
		return nil
	}
	// A nil *EmbeddedServer must stay a nil interface.
	var srv services.EmbeddedServer
	if b.server != nil {
		srv = b.server
	}
	return services.NewEventBusService(b.publisher, srv, shutdownTimeout)
}
