// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

/*
Package supervisor provides process supervision for backupbots using suture v4.

Every long-running component runs as a supervised service in a four-layer
tree with Erlang/OTP-style restart and graceful shutdown:

	RootSupervisor ("backupbots")
	├── DataSupervisor ("data-layer")
	│   └── StoreGCService
	├── MessagingSupervisor ("messaging-layer")
	│   ├── LifecycleService (status notifier)
	│   ├── WebSocketHubService
	│   ├── LifecycleService (dashboard refresher)
	│   └── EventBusService (if nats.enabled)
	├── EngineSupervisor ("engine-layer")
	│   ├── LifecycleService (scheduler)
	│   ├── LifecycleService (worker pool)
	│   ├── LifecycleService (compression)
	│   ├── LifecycleService (delivery scheduler)
	│   ├── LifecycleService (dispatcher)
	│   └── LifecycleService (reaper)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	for _, stage := range pipeline.Stages() {
	    tree.AddEngineService(services.NewLifecycleService(stage.Name(), stage))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, 10*time.Second, logger))

	errCh := tree.ServeBackground(ctx)
	<-errCh

# Failure Handling

suture keeps a failure counter per supervisor that decays over FailureDecay
seconds. Past FailureThreshold the supervisor waits FailureBackoff before
the next restart.

Return behavior of a service's Serve:
  - nil: stopped cleanly, not restarted
  - error: crashed, restarted
  - ctx.Err(): shutdown requested

# Shutdown

Canceling the context stops every layer. A stage's Stop gives in-flight
backups and deliveries the engine's shutdown grace; work still running after
that stays EXECUTING for the reaper to fail on the next start.

If services don't stop within ShutdownTimeout:

	report, err := tree.UnstoppedServiceReport()
*/
package supervisor
