// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package config loads backupbots configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/backupbots/config.yaml)
//  3. Mapped environment variables (see envMappings)
//
// The loaded configuration is validated before it is returned; an invalid
// configuration is a fatal startup error.
package config

import (
	"time"
)

// Config is the complete process configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Engine     EngineConfig     `koanf:"engine"`
	Notify     NotifyConfig     `koanf:"notify"`
	NATS       NATSConfig       `koanf:"nats"`
	Providers  ProvidersConfig  `koanf:"providers"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	PublicBaseURL     string        `koanf:"public_base_url" validate:"required,url"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the BadgerDB state store.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// EngineConfig configures the backup pipeline stages.
type EngineConfig struct {
	BackupRoot         string `koanf:"backup_root" validate:"required"`
	BackupPathTemplate string `koanf:"backup_path_template" validate:"required,pathtemplate"`

	SchedulerInterval         time.Duration `koanf:"scheduler_interval"`
	WorkerInterval            time.Duration `koanf:"worker_interval"`
	CompressionInterval       time.Duration `koanf:"compression_interval"`
	DeliverySchedulerInterval time.Duration `koanf:"delivery_scheduler_interval"`
	DispatcherInterval        time.Duration `koanf:"dispatcher_interval"`
	ReaperInterval            time.Duration `koanf:"reaper_interval"`

	// ExecutionTimeout is how long a record may stay EXECUTING or COMPRESSING
	// before the reaper fails it.
	ExecutionTimeout time.Duration `koanf:"execution_timeout"`

	// ExecutionTimeoutMinutes overrides ExecutionTimeout when > 0.
	ExecutionTimeoutMinutes int `koanf:"execution_timeout_minutes" validate:"gte=0"`

	BackupRetries      int           `koanf:"backup_retries" validate:"gte=0,lte=20"`
	BackupRetryDelay   time.Duration `koanf:"backup_retry_delay"`
	DeliveryRetries    int           `koanf:"delivery_retries" validate:"gte=0,lte=20"`
	DeliveryRetryDelay time.Duration `koanf:"delivery_retry_delay"`
	RetryBackoff       bool          `koanf:"retry_backoff"`
	RetryMaxDelay      time.Duration `koanf:"retry_max_delay"`

	CompressionLevel       int  `koanf:"compression_level" validate:"gte=-2,lte=9"`
	CompressionParallelism int  `koanf:"compression_parallelism" validate:"gte=1"`
	RemoveUncompressed     bool `koanf:"remove_uncompressed"`

	DispatcherParallelism   int     `koanf:"dispatcher_parallelism" validate:"gte=1"`
	DispatcherRatePerSecond float64 `koanf:"dispatcher_rate_per_second" validate:"gte=0"`

	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`

	// ShutdownGrace bounds how long Stop waits for in-flight work.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// NotifyConfig configures status fan-out and failure e-mails.
type NotifyConfig struct {
	QueueSize         int           `koanf:"queue_size" validate:"gte=1"`
	DashboardInterval time.Duration `koanf:"dashboard_interval"`
	SMTP              SMTPConfig    `koanf:"smtp"`
}

// SMTPConfig is the mail relay used for failure notifications.
type SMTPConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port" validate:"omitempty,min=1,max=65535"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from" validate:"omitempty,email"`
	UseTLS   bool          `koanf:"use_tls"`
	Timeout  time.Duration `koanf:"timeout"`
}

// NATSConfig configures the status event bus.
type NATSConfig struct {
	Enabled     bool   `koanf:"enabled"`
	URL         string `koanf:"url"`
	Embedded    bool   `koanf:"embedded"`
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	StoreDir    string `koanf:"store_dir"`
	StreamName  string `koanf:"stream_name"`
	TopicPrefix string `koanf:"topic_prefix"`
}

// ProvidersConfig holds external tool locations used by database providers.
type ProvidersConfig struct {
	MySQLDumpPath  string        `koanf:"mysqldump_path"`
	MySQLPath      string        `koanf:"mysql_path"`
	PgDumpPath     string        `koanf:"pg_dump_path"`
	PgRestorePath  string        `koanf:"pg_restore_path"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EffectiveExecutionTimeout resolves the minutes override.
func (e *EngineConfig) EffectiveExecutionTimeout() time.Duration {
	if e.ExecutionTimeoutMinutes > 0 {
		return time.Duration(e.ExecutionTimeoutMinutes) * time.Minute
	}
	return e.ExecutionTimeout
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
