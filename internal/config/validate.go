// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/backupbots/internal/validation"
)

// Validate checks tag rules first, then cross-field rules.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	return c.validateNATS()
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return errors.New("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateEngine() error {
	intervals := map[string]time.Duration{
		"SCHEDULER_INTERVAL":          c.Engine.SchedulerInterval,
		"WORKER_INTERVAL":             c.Engine.WorkerInterval,
		"COMPRESSION_INTERVAL":        c.Engine.CompressionInterval,
		"DELIVERY_SCHEDULER_INTERVAL": c.Engine.DeliverySchedulerInterval,
		"DISPATCHER_INTERVAL":         c.Engine.DispatcherInterval,
		"REAPER_INTERVAL":             c.Engine.ReaperInterval,
	}
	for name, d := range intervals {
		if d < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %v", name, d)
		}
	}

	timeout := c.Engine.EffectiveExecutionTimeout()
	if timeout < time.Minute {
		return fmt.Errorf("EXECUTION_TIMEOUT must be at least 1m, got %v", timeout)
	}
	if c.Engine.ReaperInterval > timeout {
		return fmt.Errorf("REAPER_INTERVAL (%v) must not exceed EXECUTION_TIMEOUT (%v)", c.Engine.ReaperInterval, timeout)
	}
	return nil
}

func (c *Config) validateNotify() error {
	smtp := c.Notify.SMTP
	if !smtp.Enabled {
		return nil
	}
	if smtp.Host == "" {
		return errors.New("NOTIFY_SMTP_HOST is required when NOTIFY_SMTP_ENABLED=true")
	}
	if smtp.From == "" {
		return errors.New("NOTIFY_SMTP_FROM is required when NOTIFY_SMTP_ENABLED=true")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return errors.New("NATS_URL is required when NATS_ENABLED=true and NATS_EMBEDDED=false")
	}
	if c.NATS.Embedded && c.NATS.StoreDir == "" {
		return errors.New("NATS_STORE_DIR is required for the embedded server")
	}
	if c.NATS.TopicPrefix == "" {
		return errors.New("nats.topic_prefix must not be empty")
	}
	return nil
}
