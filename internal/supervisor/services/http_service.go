// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultHTTPShutdownTimeout = 10 * time.Second

// ErrNotAccepting is reported by Ready while the API listener is down or
// draining.
var ErrNotAccepting = errors.New("api listener not accepting connections")

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
	Close() error
}

// HTTPServerService runs the API server under supervision.
//
// The listener is bound before Serve is started, so a port conflict is
// returned to the supervisor instead of surfacing later from a goroutine.
// On cancellation the service stops reporting ready, then gives in-flight
// requests shutdownTimeout to finish. Artifact downloads still running after
// that are cut off with Close.
type HTTPServerService struct {
	server          HTTPServer
	addr            string
	shutdownTimeout time.Duration
	logger          zerolog.Logger
	listen          func(network, address string) (net.Listener, error)

	accepting atomic.Bool
	mu        sync.Mutex
	bound     net.Addr
}

// NewHTTPServerService serves server on addr. A non-positive
// shutdownTimeout uses 10s.
func NewHTTPServerService(server HTTPServer, addr string, shutdownTimeout time.Duration, logger zerolog.Logger) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultHTTPShutdownTimeout
	}
	return &HTTPServerService{
		server:          server,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With().Str("component", "http_server").Logger(),
		listen:          net.Listen,
	}
}

// Ready reports whether the API is accepting new connections. It has the
// shape of a health check so /healthz turns unhealthy as soon as draining
// starts.
func (h *HTTPServerService) Ready(context.Context) error {
	if !h.accepting.Load() {
		return ErrNotAccepting
	}
	return nil
}

// Addr is the bound listener address, or nil before the first bind.
func (h *HTTPServerService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	l, err := h.listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http server bind %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.bound = l.Addr()
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Serve(l)
	}()
	h.accepting.Store(true)
	defer h.accepting.Store(false)
	h.logger.Info().Str("addr", l.Addr().String()).Msg("API listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		h.accepting.Store(false)
		if err := h.drain(); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

// drain shuts the server down within shutdownTimeout and force-closes
// whatever is still open afterwards.
func (h *HTTPServerService) drain() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	err := h.server.Shutdown(shutdownCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn().
			Dur("grace", h.shutdownTimeout).
			Msg("Requests still running after shutdown grace, closing connections")
		if cerr := h.server.Close(); cerr != nil {
			return fmt.Errorf("http server close: %w", cerr)
		}
		return nil
	default:
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
}

// String implements fmt.Stringer.
func (h *HTTPServerService) String() string {
	return "http-server"
}
