// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

/*
Package api provides the HTTP surface of backupbots using the Chi router.

Routes:

	GET  /healthz                         dependency checks (200 or 503)
	GET  /metrics                         Prometheus exposition
	GET  /ws                              WebSocket status subscriptions
	GET  /api/v1/backups/{id}             backup record
	GET  /api/v1/backups/{id}/deliveries  delivery records of a backup
	POST /api/v1/backups/{id}/rerun       ERROR -> QUEUED (409 otherwise)
	GET  /api/v1/deliveries/{id}          delivery record
	POST /api/v1/deliveries/{id}/rerun    ERROR -> QUEUED (409 otherwise)
	POST /api/v1/databases/{id}/backups   queue a manual FULL backup
	GET  /download/{token}                serve the artifact behind a download link

JSON endpoints answer with the APIResponse envelope. The /api/v1 and
/download routes are rate limited per client IP with go-chi/httprate; CORS
(go-chi/cors) applies to every route.
*/
package api
