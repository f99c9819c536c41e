// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package metrics exposes Prometheus instrumentation for every pipeline stage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	// Scheduler
	BackupsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backupbots_backups_enqueued_total",
			Help: "Backup records created from due schedules",
		},
	)

	SchedulesOrphaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backupbots_schedules_orphaned_total",
			Help: "Due schedules skipped because their database or resource group is missing",
		},
	)

	// Bots manager
	BackupClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_backup_claims_total",
			Help: "Attempts to claim a queued backup",
		},
		[]string{"result"}, // success, skipped
	)

	BackupExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_backup_executions_total",
			Help: "Finished backup executions",
		},
		[]string{"result"},
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backupbots_backup_duration_seconds",
			Help:    "Wall time of provider backups including retries",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	RunningBots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupbots_running_bots",
			Help: "Backups currently executing in this process, per resource group",
		},
		[]string{"resource_group"},
	)

	// Compression
	Compressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_compressions_total",
			Help: "Compression stage outcomes",
		},
		[]string{"result"}, // success, failure, skipped (compression disabled)
	)

	// Delivery
	DeliveriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backupbots_deliveries_scheduled_total",
			Help: "Delivery records created for ready backups",
		},
	)

	DeliveryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_delivery_executions_total",
			Help: "Finished delivery executions",
		},
		[]string{"type", "result"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backupbots_delivery_duration_seconds",
			Help:    "Wall time of channel deliveries including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"type"},
	)

	// Reaper
	ReapedJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_reaped_jobs_total",
			Help: "Stale records moved to ERROR by the reaper",
		},
		[]string{"kind"}, // backup, delivery
	)

	// Notifier
	NotifyPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backupbots_notify_published_total",
			Help: "Status events accepted by the notifier",
		},
	)

	NotifyDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backupbots_notify_dropped_total",
			Help: "Status events evicted because the queue was full",
		},
	)

	NotifyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backupbots_notify_queue_depth",
			Help: "Status events waiting for dispatch",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backupbots_ws_connections",
			Help: "Connected WebSocket subscribers",
		},
	)

	// Stage loops
	StageTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backupbots_stage_tick_duration_seconds",
			Help:    "Duration of one polling pass per stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StagePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_stage_panics_total",
			Help: "Recovered panics per stage",
		},
		[]string{"stage"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupbots_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event bus
	EventBusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_eventbus_published_total",
			Help: "Status events published to NATS",
		},
		[]string{"result"},
	)

	// HTTP surface
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupbots_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backupbots_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ResultLabel maps an error to success/failure.
func ResultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordBackupExecution records one finished backup.
func RecordBackupExecution(duration time.Duration, err error) {
	BackupExecutions.WithLabelValues(ResultLabel(err)).Inc()
	BackupDuration.Observe(duration.Seconds())
}

// RecordDeliveryExecution records one finished delivery.
func RecordDeliveryExecution(deliveryType string, duration time.Duration, err error) {
	DeliveryExecutions.WithLabelValues(deliveryType, ResultLabel(err)).Inc()
	DeliveryDuration.WithLabelValues(deliveryType).Observe(duration.Seconds())
}

// ObserveStageTick records the duration of one polling pass.
func ObserveStageTick(stage string, started time.Time) {
	StageTickDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}
