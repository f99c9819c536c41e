// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultMySQLImage is the MySQL image used for provider tests.
	DefaultMySQLImage = "mysql:8.4"

	// DefaultMySQLRootPassword is the root password of the test server.
	DefaultMySQLRootPassword = "backupbots-test"

	mysqlPort = "3306/tcp"
)

// MySQLContainer is a running MySQL server.
type MySQLContainer struct {
	testcontainers.Container
	Host         string
	Port         int
	RootPassword string
	Database     string
}

// MySQLOption configures the MySQL container.
type MySQLOption func(*mysqlConfig)

type mysqlConfig struct {
	image        string
	database     string
	startTimeout time.Duration
}

// WithMySQLImage sets a custom MySQL image tag.
func WithMySQLImage(image string) MySQLOption {
	return func(c *mysqlConfig) {
		c.image = image
	}
}

// WithMySQLDatabase creates an empty database at startup.
func WithMySQLDatabase(name string) MySQLOption {
	return func(c *mysqlConfig) {
		c.database = name
	}
}

// NewMySQLContainer starts a MySQL server and waits until it accepts connections.
func NewMySQLContainer(ctx context.Context, opts ...MySQLOption) (*MySQLContainer, error) {
	cfg := &mysqlConfig{
		image:        DefaultMySQLImage,
		database:     "orders",
		startTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{mysqlPort},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": DefaultMySQLRootPassword,
			"MYSQL_DATABASE":      cfg.database,
			"TZ":                  "UTC",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(mysqlPort),
			wait.ForLog("port: 3306  MySQL Community Server"),
		).WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create mysql container: %w", err)
	}

	host, port, err := endpoint(ctx, container, mysqlPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, err
	}

	return &MySQLContainer{
		Container:    container,
		Host:         host,
		Port:         port,
		RootPassword: DefaultMySQLRootPassword,
		Database:     cfg.database,
	}, nil
}
