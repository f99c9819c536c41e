// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/config"
	"github.com/tomtom215/backupbots/internal/store"
)

func TestMiddlewareConfig(t *testing.T) {
	mw := middlewareConfig(config.ServerConfig{
		CORSOrigins:       []string{"https://app.example.com"},
		RateLimitRequests: 30,
		RateLimitWindow:   10 * time.Second,
	})

	if len(mw.CORSAllowedOrigins) != 1 || mw.CORSAllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("CORSAllowedOrigins = %v", mw.CORSAllowedOrigins)
	}
	if mw.RateLimitRequests != 30 || mw.RateLimitWindow != 10*time.Second {
		t.Errorf("rate limit = %d per %v", mw.RateLimitRequests, mw.RateLimitWindow)
	}
	if len(mw.CORSAllowedMethods) == 0 {
		t.Error("default CORS methods lost")
	}
}

func TestMailServer(t *testing.T) {
	ms := mailServer(config.SMTPConfig{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     2525,
		Username: "bots",
		Password: "secret",
		From:     "bots@example.com",
		UseTLS:   true,
		Timeout:  5 * time.Second,
	})
	if ms.Host != "smtp.example.com" || ms.Port != 2525 || ms.From != "bots@example.com" || !ms.UseTLS || ms.Timeout != 5*time.Second {
		t.Errorf("mail server = %+v", ms)
	}
}

func TestTreeConfig(t *testing.T) {
	tc := treeConfig(config.SupervisorConfig{
		FailureThreshold: 3,
		FailureDecay:     60,
		FailureBackoff:   time.Second,
		ShutdownTimeout:  2 * time.Second,
	})
	if tc.FailureThreshold != 3 || tc.FailureDecay != 60 || tc.FailureBackoff != time.Second || tc.ShutdownTimeout != 2*time.Second {
		t.Errorf("tree config = %+v", tc)
	}
}

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, http.NotFoundHandler())
	if srv.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %q", srv.Addr)
	}
	if srv.WriteTimeout != 0 {
		t.Errorf("WriteTimeout = %v, want none for streamed downloads", srv.WriteTimeout)
	}
}

func TestStoreCheck(t *testing.T) {
	st, err := store.Open(storeConfig(config.StoreConfig{InMemory: true}))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	check := storeCheck(st)

	if err := check(context.Background()); err != nil {
		t.Errorf("open store check = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := check(context.Background()); err == nil {
		t.Error("closed store check = nil")
	}
}

type fakeServer struct{ running bool }

func (f fakeServer) IsRunning() bool { return f.running }

func TestEmbeddedServerCheck(t *testing.T) {
	if err := embeddedServerCheck(fakeServer{running: true})(context.Background()); err != nil {
		t.Errorf("running server = %v", err)
	}
	if err := embeddedServerCheck(fakeServer{})(context.Background()); err == nil {
		t.Error("stopped server = nil")
	}
}

func TestInitEventBusDisabled(t *testing.T) {
	bus, err := initEventBus(context.Background(), config.NATSConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("initEventBus: %v", err)
	}
	if bus.publisher != nil || bus.server != nil {
		t.Errorf("disabled bus = %+v", bus)
	}
	if svc := bus.service(time.Second); svc != nil {
		t.Error("disabled bus produced a supervisor service")
	}
}

func TestInitEventBusEmbedded(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	bus, err := initEventBus(context.Background(), config.NATSConfig{
		Enabled:     true,
		Embedded:    true,
		Host:        "127.0.0.1",
		Port:        -1,
		StoreDir:    t.TempDir(),
		StreamName:  "BACKUPBOTS_TEST",
		TopicPrefix: "backupbots.test",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("initEventBus: %v", err)
	}
	t.Cleanup(func() {
		_ = bus.publisher.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.server.Shutdown(ctx)
	})

	if !bus.server.IsRunning() {
		t.Error("embedded server not running")
	}
	if err := bus.publisher.Healthy(context.Background()); err != nil {
		t.Errorf("publisher health = %v", err)
	}
	if bus.service(time.Second) == nil {
		t.Error("enabled bus produced no supervisor service")
	}
}
