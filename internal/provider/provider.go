// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package provider implements database engine families behind one contract.
//
// A Provider knows how to reach a server, dump one database to a file,
// restore it, and list the databases it hosts. Providers are looked up in a
// Registry by models.DatabaseType; the engine never imports a concrete
// provider.
//
// MySQL and MariaDB dump through mysqldump, PostgreSQL through pg_dump
// (custom format). SQL Server runs BACKUP DATABASE on the server itself, so
// the target path is a path on the database host.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/backupbots/internal/config"
	"github.com/tomtom215/backupbots/internal/models"
)

// ErrUnsupportedDatabaseType is returned when no provider is registered for a type.
var ErrUnsupportedDatabaseType = errors.New("unsupported database type")

// Connection holds what a provider needs to reach a server.
type Connection struct {
	Host           string
	Port           int
	Username       string
	Password       string //nolint:gosec // never logged
	Type           models.DatabaseType
	ConnectTimeout time.Duration
}

// ConnectionFor builds the connection of a database from its resource group.
func ConnectionFor(group *models.ResourceGroup, db *models.BackupDatabaseInfo) Connection {
	return Connection{
		Host:     group.DbServer,
		Port:     group.DbPort,
		Username: group.DbUsername,
		Password: group.DbPassword,
		Type:     db.EffectiveType(group),
	}
}

// String returns the connection without credentials.
func (c Connection) String() string {
	return fmt.Sprintf("%s://%s@%s:%d", c.Type, c.Username, c.Host, c.Port)
}

func (c Connection) portOr(def int) int {
	if c.Port > 0 {
		return c.Port
	}
	return def
}

func (c Connection) timeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 15 * time.Second
}

// Provider is one database engine family.
type Provider interface {
	// TestConnectivity verifies the server is reachable with the given credentials.
	TestConnectivity(ctx context.Context, conn Connection) error

	// Backup writes a full backup of database to targetPath.
	Backup(ctx context.Context, conn Connection, database, targetPath string) error

	// Restore loads the backup at sourcePath into database.
	Restore(ctx context.Context, conn Connection, database, sourcePath string) error

	// ListAvailableDatabases returns the user databases on the server.
	ListAvailableDatabases(ctx context.Context, conn Connection) ([]string, error)
}

// Registry maps database types to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.DatabaseType]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[models.DatabaseType]Provider)}
}

// NewDefaultRegistry registers the built-in providers for every supported type.
func NewDefaultRegistry(cfg config.ProvidersConfig) *Registry {
	r := NewRegistry()

	mysql := NewMySQL(cfg.MySQLDumpPath, cfg.MySQLPath)
	r.Register(models.DatabaseTypeMySQL, mysql)
	r.Register(models.DatabaseTypeMariaDB, mysql)
	r.Register(models.DatabaseTypePostgreSQL, NewPostgres(cfg.PgDumpPath, cfg.PgRestorePath))
	r.Register(models.DatabaseTypeSQLServer, NewSQLServer())

	if cfg.ConnectTimeout > 0 {
		for t, p := range r.providers {
			r.providers[t] = withConnectTimeout{Provider: p, timeout: cfg.ConnectTimeout}
		}
	}
	return r
}

// Register adds or replaces the provider for t.
func (r *Registry) Register(t models.DatabaseType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[t] = p
}

// Get returns the provider for t or ErrUnsupportedDatabaseType.
func (r *Registry) Get(t models.DatabaseType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabaseType, t)
	}
	return p, nil
}

// Types lists the registered database types.
func (r *Registry) Types() []models.DatabaseType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]models.DatabaseType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// withConnectTimeout fills in a default connect timeout.
type withConnectTimeout struct {
	Provider
	timeout time.Duration
}

func (w withConnectTimeout) fill(conn Connection) Connection {
	if conn.ConnectTimeout <= 0 {
		conn.ConnectTimeout = w.timeout
	}
	return conn
}

func (w withConnectTimeout) TestConnectivity(ctx context.Context, conn Connection) error {
	return w.Provider.TestConnectivity(ctx, w.fill(conn))
}

func (w withConnectTimeout) Backup(ctx context.Context, conn Connection, database, targetPath string) error {
	return w.Provider.Backup(ctx, w.fill(conn), database, targetPath)
}

func (w withConnectTimeout) Restore(ctx context.Context, conn Connection, database, sourcePath string) error {
	return w.Provider.Restore(ctx, w.fill(conn), database, sourcePath)
}

func (w withConnectTimeout) ListAvailableDatabases(ctx context.Context, conn Connection) ([]string, error) {
	return w.Provider.ListAvailableDatabases(ctx, w.fill(conn))
}
