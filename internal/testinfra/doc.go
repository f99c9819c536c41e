// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package testinfra starts database servers in Docker for integration tests.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/provider/...
//
// Tests call SkipIfNoDocker first so they are skipped, not failed, on
// machines without a Docker daemon. The first run pulls the images.
//
//	func TestMySQLBackup(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    server, err := testinfra.NewMySQLContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, server)
//	    // server.Host, server.Port, server.RootPassword
//	}
package testinfra
