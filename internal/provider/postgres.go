// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresPort = 5432

// Postgres backs up PostgreSQL servers with pg_dump in custom format.
type Postgres struct {
	DumpPath    string
	RestorePath string

	run runner
}

// NewPostgres creates the PostgreSQL provider. Empty paths resolve through $PATH.
func NewPostgres(dumpPath, restorePath string) *Postgres {
	if dumpPath == "" {
		dumpPath = "pg_dump"
	}
	if restorePath == "" {
		restorePath = "pg_restore"
	}
	return &Postgres{DumpPath: dumpPath, RestorePath: restorePath, run: execRunner}
}

// connString builds a postgres:// URL for database (maintenance db when empty).
func (p *Postgres) connString(conn Connection, database string) string {
	if database == "" {
		database = "postgres"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.Username, conn.Password),
		Host:   net.JoinHostPort(conn.Host, strconv.Itoa(conn.portOr(defaultPostgresPort))),
		Path:   "/" + database,
	}
	q := u.Query()
	q.Set("connect_timeout", strconv.Itoa(int(conn.timeout().Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Postgres) connect(ctx context.Context, conn Connection) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(p.connString(conn, ""))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	c, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s: %w", conn, err)
	}
	return c, nil
}

// TestConnectivity connects and pings the server.
func (p *Postgres) TestConnectivity(ctx context.Context, conn Connection) error {
	ctx, cancel := context.WithTimeout(ctx, conn.timeout())
	defer cancel()

	c, err := p.connect(ctx, conn)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres %s: %w", conn, err)
	}
	return nil
}

// ListAvailableDatabases returns the connectable, non-template databases.
func (p *Postgres) ListAvailableDatabases(ctx context.Context, conn Connection) ([]string, error) {
	c, err := p.connect(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer c.Close(context.WithoutCancel(ctx))

	rows, err := c.Query(ctx,
		`SELECT datname FROM pg_database WHERE NOT datistemplate AND datallowconn AND datname <> 'postgres' ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	databases, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan database names: %w", err)
	}
	return databases, nil
}

func (p *Postgres) connArgs(conn Connection) []string {
	return []string{
		"--host", conn.Host,
		"--port", strconv.Itoa(conn.portOr(defaultPostgresPort)),
		"--username", conn.Username,
		"--no-password",
	}
}

func pgEnv(conn Connection) []string {
	return []string{
		"PGPASSWORD=" + conn.Password,
		"PGCONNECT_TIMEOUT=" + strconv.Itoa(int(conn.timeout().Seconds())),
	}
}

var conninfoEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// dbnameArg passes database as a quoted conninfo value, so a name starting
// with "-" or shaped like a URI is only ever a database name.
func dbnameArg(database string) string {
	return "--dbname=dbname='" + conninfoEscaper.Replace(database) + "'"
}

// Backup dumps database with pg_dump -Fc.
func (p *Postgres) Backup(ctx context.Context, conn Connection, database, targetPath string) error {
	args := append(p.connArgs(conn), "--format=custom", dbnameArg(database))
	return dumpToFile(targetPath, func(w io.Writer) error {
		return p.run(ctx, command{
			Path:   p.DumpPath,
			Args:   args,
			Env:    pgEnv(conn),
			Stdout: w,
		})
	})
}

// Restore replays a custom-format dump with pg_restore, replacing existing objects.
func (p *Postgres) Restore(ctx context.Context, conn Connection, database, sourcePath string) error {
	args := append(p.connArgs(conn),
		"--clean",
		"--if-exists",
		"--no-owner",
		dbnameArg(database),
		sourcePath,
	)
	return p.run(ctx, command{
		Path: p.RestorePath,
		Args: args,
		Env:  pgEnv(conn),
	})
}
