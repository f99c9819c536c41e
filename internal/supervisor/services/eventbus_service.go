// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Closer matches *eventbus.Publisher.
type Closer interface {
	Close() error
}

// EmbeddedServer matches *eventbus.EmbeddedServer.
type EmbeddedServer interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// EventBusService owns the NATS resources opened at startup. It watches the
// embedded server and releases both the publisher and the server when the
// tree stops.
//
// The publisher reconnects on its own, so a lost connection is not a crash.
// A stopped embedded server is: Serve returns an error and suture's backoff
// applies, but the server is not restarted in-process.
type EventBusService struct {
	publisher       Closer
	server          EmbeddedServer
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewEventBusService wraps publisher and, when non-nil, the embedded server.
func NewEventBusService(publisher Closer, server EmbeddedServer, shutdownTimeout time.Duration) *EventBusService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EventBusService{
		publisher:       publisher,
		server:          server,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
		name:            "eventbus",
	}
}

// ErrEmbeddedServerStopped is returned by Serve when the embedded NATS
// server stops while the tree is running.
var ErrEmbeddedServerStopped = errors.New("embedded NATS server stopped")

// Serve implements suture.Service.
func (s *EventBusService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.server != nil && !s.server.IsRunning() {
				return ErrEmbeddedServerStopped
			}
		case <-ctx.Done():
			return s.shutdown(ctx)
		}
	}
}

func (s *EventBusService) shutdown(ctx context.Context) error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown embedded server: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *EventBusService) String() string {
	return s.name
}
