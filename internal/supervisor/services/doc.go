// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

/*
Package services adapts backupbots components to suture's Serve pattern.

Each wrapper implements suture.Service and fmt.Stringer:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

LifecycleService wraps anything with Start(ctx) and Stop(): the engine
stages, the status notifier and the dashboard refresher.

HTTPServerService wraps *http.Server. It binds the listener itself, reports
readiness to /healthz, and on cancellation drains for the shutdown grace
before closing whatever downloads are still running.

HubService runs the WebSocket hub's RunWithContext.

StoreGCService runs BadgerDB value log GC on an interval.

EventBusService owns the NATS resources: it closes the Watermill publisher
and shuts the embedded server down when the tree stops.

# Return Values

  - ctx.Err() on a requested shutdown
  - a wrapped error when the component fails to start or crashes, so that
    suture restarts it
*/
package services
