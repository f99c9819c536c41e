// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/models"
)

// RecordStore is the read side of the state store used by the handlers.
type RecordStore interface {
	GetBackup(ctx context.Context, id string) (*models.BackupRecord, error)
	GetDelivery(ctx context.Context, id string) (*models.ContentDeliveryRecord, error)
	ListDeliveriesByBackup(ctx context.Context, backupID string) ([]*models.ContentDeliveryRecord, error)
	FindDeliveryByReference(ctx context.Context, reference string) (*models.ContentDeliveryRecord, error)
}

// Rerunner re-queues failed records.
type Rerunner interface {
	RerunBackup(ctx context.Context, id string) (*models.BackupRecord, error)
	RerunDelivery(ctx context.Context, id string) (*models.ContentDeliveryRecord, error)
}

// Enqueuer queues a manual backup of a database.
type Enqueuer interface {
	Enqueue(ctx context.Context, databaseID string) (*models.BackupRecord, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Store     RecordStore
	Rerun     Rerunner
	Scheduler Enqueuer

	// WebSocket is mounted at /ws when non-nil.
	WebSocket http.Handler

	// Metrics defaults to promhttp.Handler().
	Metrics http.Handler

	// HealthChecks run concurrently on every /healthz request.
	HealthChecks map[string]HealthCheck

	// PublicBaseURL must match the base the download-link channel was built with.
	PublicBaseURL string

	Middleware *ChiMiddlewareConfig

	// Clock defaults to the wall clock.
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Handler holds the HTTP handlers.
type Handler struct {
	store        RecordStore
	rerun        Rerunner
	scheduler    Enqueuer
	healthChecks map[string]HealthCheck
	baseURL      string
	clock        clock.Clock
	startTime    time.Time
	logger       zerolog.Logger
}

// NewRouter configures every route.
//
//nolint:gocritic // Deps is built once at startup
func NewRouter(deps Deps) http.Handler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	logger := deps.Logger.With().Str("component", "api").Logger()
	mw := NewChiMiddleware(deps.Middleware)

	h := &Handler{
		store:        deps.Store,
		rerun:        deps.Rerun,
		scheduler:    deps.Scheduler,
		healthChecks: deps.HealthChecks,
		baseURL:      deps.PublicBaseURL,
		clock:        clk,
		startTime:    clk.Now(),
		logger:       logger,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // global so OPTIONS preflight is answered

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	if deps.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", deps.WebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())

		r.Get("/backups/{id}", h.GetBackup)
		r.Get("/backups/{id}/deliveries", h.ListBackupDeliveries)
		r.Post("/backups/{id}/rerun", h.RerunBackup)
		r.Get("/deliveries/{id}", h.GetDelivery)
		r.Post("/deliveries/{id}/rerun", h.RerunDelivery)
		r.Post("/databases/{id}/backups", h.EnqueueBackup)
	})

	r.With(mw.RateLimit(), APISecurityHeaders()).Get("/download/{token}", h.Download)

	return r
}
