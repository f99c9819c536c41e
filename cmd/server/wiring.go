// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/backupbots/internal/api"
	"github.com/tomtom215/backupbots/internal/config"
	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/store"
	"github.com/tomtom215/backupbots/internal/supervisor"
)

func storeConfig(cfg config.StoreConfig) store.Config {
	return store.Config{
		Path:       cfg.Path,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
	}
}

func mailServer(cfg config.SMTPConfig) delivery.MailServer {
	return delivery.MailServer{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		UseTLS:   cfg.UseTLS,
		Timeout:  cfg.Timeout,
	}
}

func middlewareConfig(cfg config.ServerConfig) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.CORSOrigins
	mw.RateLimitRequests = cfg.RateLimitRequests
	mw.RateLimitWindow = cfg.RateLimitWindow
	return mw
}

func treeConfig(cfg config.SupervisorConfig) supervisor.TreeConfig {
	return supervisor.TreeConfig{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		ShutdownTimeout:  cfg.ShutdownTimeout,
	}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Downloads stream whole backup archives, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}
}

// storeCheck answers a health check with a cheap read.
func storeCheck(st store.Store) api.HealthCheck {
	return func(ctx context.Context) error {
		if _, err := st.ListResourceGroups(ctx); err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		return nil
	}
}

type runningServer interface {
	IsRunning() bool
}

func embeddedServerCheck(srv runningServer) api.HealthCheck {
	return func(context.Context) error {
		if !srv.IsRunning() {
			return fmt.Errorf("embedded NATS server is not running")
		}
		return nil
	}
}
