// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/backupbots/config.yaml",
	"/etc/backupbots/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			PublicBaseURL:     "http://localhost:8080",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Store: StoreConfig{
			Path:       "/data/backupbots/state",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Engine: EngineConfig{
			BackupRoot:                "/data/backupbots/backups",
			BackupPathTemplate:        "{{database}}/{{database}}_{{datetime}}.{{databasetype}}.bak",
			SchedulerInterval:         30 * time.Second,
			WorkerInterval:            10 * time.Second,
			CompressionInterval:       10 * time.Second,
			DeliverySchedulerInterval: 10 * time.Second,
			DispatcherInterval:        10 * time.Second,
			ReaperInterval:            time.Minute,
			ExecutionTimeout:          30 * time.Minute,
			BackupRetries:             2,
			BackupRetryDelay:          5 * time.Second,
			DeliveryRetries:           2,
			DeliveryRetryDelay:        5 * time.Second,
			RetryBackoff:              true,
			RetryMaxDelay:             time.Minute,
			CompressionLevel:          gzip.DefaultCompression,
			CompressionParallelism:    2,
			RemoveUncompressed:        true,
			DispatcherParallelism:     8,
			DispatcherRatePerSecond:   0, // unlimited
			BreakerFailureThreshold:   5,
			BreakerTimeout:            time.Minute,
			ShutdownGrace:             30 * time.Second,
		},
		Notify: NotifyConfig{
			QueueSize:         1024,
			DashboardInterval: 30 * time.Second,
			SMTP: SMTPConfig{
				Port:    587,
				UseTLS:  true,
				Timeout: 30 * time.Second,
			},
		},
		NATS: NATSConfig{
			Enabled:     false,
			URL:         "nats://127.0.0.1:4222",
			Embedded:    true,
			Host:        "127.0.0.1",
			Port:        4222,
			StoreDir:    "/data/backupbots/nats",
			StreamName:  "BACKUPBOTS",
			TopicPrefix: "backupbots.status",
		},
		Providers: ProvidersConfig{
			MySQLDumpPath:  "mysqldump",
			MySQLPath:      "mysql",
			PgDumpPath:     "pg_dump",
			PgRestorePath:  "pg_restore",
			ConnectTimeout: 15 * time.Second,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads defaults, then the config file, then the environment,
// and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"http_host":           "server.host",
	"http_port":           "server.port",
	"public_base_url":     "server.public_base_url",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",

	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"store_sync_writes": "store.sync_writes",

	"backup_root":                  "engine.backup_root",
	"backup_path_template":         "engine.backup_path_template",
	"scheduler_interval":           "engine.scheduler_interval",
	"worker_interval":              "engine.worker_interval",
	"compression_interval":         "engine.compression_interval",
	"delivery_scheduler_interval":  "engine.delivery_scheduler_interval",
	"dispatcher_interval":          "engine.dispatcher_interval",
	"reaper_interval":              "engine.reaper_interval",
	"execution_timeout":            "engine.execution_timeout",
	"execution_timeout_in_minutes": "engine.execution_timeout_minutes",
	"backup_retries":               "engine.backup_retries",
	"backup_retry_delay":           "engine.backup_retry_delay",
	"delivery_retries":             "engine.delivery_retries",
	"delivery_retry_delay":         "engine.delivery_retry_delay",
	"compression_level":            "engine.compression_level",
	"compression_parallelism":      "engine.compression_parallelism",
	"remove_uncompressed":          "engine.remove_uncompressed",
	"dispatcher_parallelism":       "engine.dispatcher_parallelism",
	"dispatcher_rate_per_second":   "engine.dispatcher_rate_per_second",
	"shutdown_grace":               "engine.shutdown_grace",

	"notify_queue_size":   "notify.queue_size",
	"dashboard_interval":  "notify.dashboard_interval",
	"notify_smtp_enabled": "notify.smtp.enabled",
	"notify_smtp_host":    "notify.smtp.host",
	"notify_smtp_port":    "notify.smtp.port",
	"notify_smtp_user":    "notify.smtp.username",
	"notify_smtp_pass":    "notify.smtp.password",
	"notify_smtp_from":    "notify.smtp.from",
	"notify_smtp_tls":     "notify.smtp.use_tls",

	"nats_enabled":   "nats.enabled",
	"nats_url":       "nats.url",
	"nats_embedded":  "nats.embedded",
	"nats_store_dir": "nats.store_dir",

	"mysqldump_path":  "providers.mysqldump_path",
	"mysql_path":      "providers.mysql_path",
	"pg_dump_path":    "providers.pg_dump_path",
	"pg_restore_path": "providers.pg_restore_path",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps LOG_LEVEL -> logging.level etc.; unmapped keys return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
