// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package provider

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
)

const defaultSQLServerPort = 1433

// SQLServer runs native BACKUP/RESTORE statements. Paths are resolved on the
// database host, not on the machine running the engine.
type SQLServer struct{}

// NewSQLServer creates the SQL Server provider.
func NewSQLServer() *SQLServer {
	return &SQLServer{}
}

func (p *SQLServer) dsn(conn Connection) string {
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(conn.Username, conn.Password),
		Host:   net.JoinHostPort(conn.Host, strconv.Itoa(conn.portOr(defaultSQLServerPort))),
	}
	q := u.Query()
	q.Set("database", "master")
	q.Set("connection timeout", strconv.Itoa(int(conn.timeout().Seconds())))
	q.Set("app name", "backupbots")
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *SQLServer) open(conn Connection) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", p.dsn(conn))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// quoteIdentifier brackets a SQL Server identifier.
func quoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// TestConnectivity pings the server.
func (p *SQLServer) TestConnectivity(ctx context.Context, conn Connection) error {
	db, err := p.open(conn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, conn.timeout())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlserver %s: %w", conn, err)
	}
	return nil
}

// ListAvailableDatabases returns the user databases (system ids 1-4 skipped).
func (p *SQLServer) ListAvailableDatabases(ctx context.Context, conn Connection) ([]string, error) {
	db, err := p.open(conn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT name FROM sys.databases WHERE database_id > 4 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var databases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		databases = append(databases, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate database rows: %w", err)
	}
	return databases, nil
}

func backupStatement(database string) string {
	return "BACKUP DATABASE " + quoteIdentifier(database) + " TO DISK = @p1 WITH FORMAT, INIT, NAME = @p2"
}

func restoreStatement(database string) string {
	return "RESTORE DATABASE " + quoteIdentifier(database) + " FROM DISK = @p1 WITH REPLACE"
}

// Backup runs BACKUP DATABASE to targetPath on the server.
func (p *SQLServer) Backup(ctx context.Context, conn Connection, database, targetPath string) error {
	db, err := p.open(conn)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, backupStatement(database), targetPath, database+" full backup"); err != nil {
		return fmt.Errorf("backup database %s: %w", database, err)
	}
	return nil
}

// Restore runs RESTORE DATABASE from sourcePath on the server.
func (p *SQLServer) Restore(ctx context.Context, conn Connection, database, sourcePath string) error {
	db, err := p.open(conn)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, restoreStatement(database), sourcePath); err != nil {
		return fmt.Errorf("restore database %s: %w", database, err)
	}
	return nil
}
