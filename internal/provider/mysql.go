// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package provider

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

const defaultMySQLPort = 3306

// mysqlSystemDatabases are never offered for backup.
var mysqlSystemDatabases = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
}

// MySQL backs up MySQL and MariaDB servers with mysqldump.
type MySQL struct {
	DumpPath   string
	ClientPath string

	run runner
}

// NewMySQL creates the MySQL/MariaDB provider. Empty paths resolve through $PATH.
func NewMySQL(dumpPath, clientPath string) *MySQL {
	if dumpPath == "" {
		dumpPath = "mysqldump"
	}
	if clientPath == "" {
		clientPath = "mysql"
	}
	return &MySQL{DumpPath: dumpPath, ClientPath: clientPath, run: execRunner}
}

func (p *MySQL) open(conn Connection, database string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.portOr(defaultMySQLPort)))
	cfg.DBName = database
	cfg.Timeout = conn.timeout()
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	return db, nil
}

// TestConnectivity pings the server.
func (p *MySQL) TestConnectivity(ctx context.Context, conn Connection) error {
	db, err := p.open(conn, "")
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, conn.timeout())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql %s: %w", conn, err)
	}
	return nil
}

// ListAvailableDatabases returns the non-system schemas.
func (p *MySQL) ListAvailableDatabases(ctx context.Context, conn Connection) ([]string, error) {
	db, err := p.open(conn, "")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
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
		if !mysqlSystemDatabases[name] {
			databases = append(databases, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate database rows: %w", err)
	}
	return databases, nil
}

func (p *MySQL) connArgs(conn Connection) []string {
	return []string{
		"--host", conn.Host,
		"--port", strconv.Itoa(conn.portOr(defaultMySQLPort)),
		"--user", conn.Username,
		"--protocol", "TCP",
		"--connect-timeout", strconv.Itoa(int(conn.timeout().Seconds())),
	}
}

// Backup dumps database with mysqldump in a single consistent transaction.
// The password travels in MYSQL_PWD, never on the command line.
func (p *MySQL) Backup(ctx context.Context, conn Connection, database, targetPath string) error {
	args := append(p.connArgs(conn),
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		"--",
		database,
	)
	return dumpToFile(targetPath, func(w io.Writer) error {
		return p.run(ctx, command{
			Path:   p.DumpPath,
			Args:   args,
			Env:    []string{"MYSQL_PWD=" + conn.Password},
			Stdout: w,
		})
	})
}

// Restore replays a dump through the mysql client.
func (p *MySQL) Restore(ctx context.Context, conn Connection, database, sourcePath string) error {
	f, err := os.Open(sourcePath) //nolint:gosec // path of a recorded artifact
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	args := append(p.connArgs(conn), "--", database)
	return p.run(ctx, command{
		Path:  p.ClientPath,
		Args:  args,
		Env:   []string{"MYSQL_PWD=" + conn.Password},
		Stdin: f,
	})
}
