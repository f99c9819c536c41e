// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

//go:build integration

package provider

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/testinfra"
)

func TestMySQL_Integration(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	server, err := testinfra.NewMySQLContainer(ctx, testinfra.WithMySQLDatabase("orders"))
	if err != nil {
		t.Fatalf("start mysql: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, server)

	conn := Connection{
		Host:           server.Host,
		Port:           server.Port,
		Username:       "root",
		Password:       server.RootPassword,
		Type:           models.DatabaseTypeMySQL,
		ConnectTimeout: 10 * time.Second,
	}
	p := NewMySQL("", "")

	if err := p.TestConnectivity(ctx, conn); err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}

	databases, err := p.ListAvailableDatabases(ctx, conn)
	if err != nil {
		t.Fatalf("ListAvailableDatabases: %v", err)
	}
	if !slices.Contains(databases, "orders") {
		t.Errorf("expected orders in %v", databases)
	}
	if slices.Contains(databases, "mysql") {
		t.Errorf("system schema listed: %v", databases)
	}

	if _, err := exec.LookPath("mysqldump"); err != nil {
		t.Skip("mysqldump not installed; skipping dump round trip")
	}
	target := filepath.Join(t.TempDir(), "orders", "orders.sql")
	if err := p.Backup(ctx, conn, "orders", target); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("artifact is empty")
	}

	bad := conn
	bad.Password = "wrong"
	if err := p.TestConnectivity(ctx, bad); err == nil {
		t.Error("expected a connectivity error with a wrong password")
	}
}
