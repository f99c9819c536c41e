// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	_ "time/tzdata" // schedules resolve IANA zones on hosts without zoneinfo

	"github.com/tomtom215/backupbots/internal/api"
	"github.com/tomtom215/backupbots/internal/config"
	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/engine"
	"github.com/tomtom215/backupbots/internal/logging"
	"github.com/tomtom215/backupbots/internal/notify"
	"github.com/tomtom215/backupbots/internal/provider"
	"github.com/tomtom215/backupbots/internal/store"
	"github.com/tomtom215/backupbots/internal/supervisor"
	"github.com/tomtom215/backupbots/internal/supervisor/services"
	"github.com/tomtom215/backupbots/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Str("backup_root", cfg.Engine.BackupRoot).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("smtp_enabled", cfg.Notify.SMTP.Enabled).
		Msg("Starting backupbots with supervisor tree")

	st, err := store.Open(storeConfig(cfg.Store))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open state store")
	}
	fatal := func(err error, msg string) {
		if closeErr := st.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing state store")
		}
		logging.Fatal().Err(err).Msg(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Status fan-out: the notifier queue feeds the WebSocket hub and, when
	// enabled, the NATS event bus.
	hub := websocket.NewHub()
	notifier := notify.New(notify.Config{QueueSize: cfg.Notify.QueueSize}, logger)
	notifier.AddSink(hub)

	bus, err := initEventBus(ctx, cfg.NATS, logger)
	if err != nil {
		fatal(err, "Failed to initialize event bus")
	}
	if bus.publisher != nil {
		notifier.AddSink(bus.publisher)
	}

	deps := engine.Deps{
		Store:     st,
		Providers: provider.NewDefaultRegistry(cfg.Providers),
		Channels:  delivery.NewDefaultRegistry(delivery.Options{PublicBaseURL: cfg.Server.PublicBaseURL}),
		Publisher: notifier,
		Logger:    logger,
	}
	var errorNotifier *engine.ErrorNotifier
	if cfg.Notify.SMTP.Enabled {
		errorNotifier = engine.NewErrorNotifier(delivery.NewMailer(mailServer(cfg.Notify.SMTP)), cfg.Notify.SMTP.Timeout, logger)
		deps.Failures = errorNotifier
		logging.Info().Str("relay", cfg.Notify.SMTP.Host).Msg("Failure emails enabled")
	}

	pipeline := engine.New(cfg.Engine, deps)
	dashboard := notify.NewDashboardRefresher(st, notifier, cfg.Notify.DashboardInterval, nil, logger)

	healthChecks := map[string]api.HealthCheck{"store": storeCheck(st)}
	if bus.publisher != nil {
		healthChecks["eventbus"] = bus.publisher.Healthy
	}
	if bus.server != nil {
		healthChecks["nats_server"] = embeddedServerCheck(bus.server)
	}

	server := newHTTPServer(cfg.Server, nil)
	apiService := services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout, logger)
	healthChecks["http_server"] = apiService.Ready

	server.Handler = api.NewRouter(api.Deps{
		Store:         st,
		Rerun:         pipeline.Rerun,
		Scheduler:     pipeline.Scheduler,
		WebSocket:     websocket.Handler(hub, cfg.Server.CORSOrigins),
		HealthChecks:  healthChecks,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Middleware:    middlewareConfig(cfg.Server),
		Logger:        logger,
	})

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeConfig(cfg.Supervisor))
	if err != nil {
		fatal(err, "Failed to create supervisor tree")
	}

	// Data layer
	tree.AddDataService(services.NewStoreGCService(st, cfg.Store.GCInterval, logger))

	// Messaging layer
	tree.AddMessagingService(services.NewLifecycleService("status-notifier", notifier))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewLifecycleService("dashboard-refresher", dashboard))
	if svc := bus.service(cfg.Supervisor.ShutdownTimeout); svc != nil {
		tree.AddMessagingService(svc)
	}

	// Engine layer
	for _, stage := range pipeline.Stages() {
		tree.AddEngineService(services.NewLifecycleService(stage.Name(), stage))
	}

	// API layer
	tree.AddAPIService(apiService)

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	if errorNotifier != nil {
		errorNotifier.Wait()
	}
	if err := st.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing state store")
	}
	logging.Info().Msg("Application stopped gracefully")
}
