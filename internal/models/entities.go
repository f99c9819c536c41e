// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// NeverRunThreshold is how far in the past LastRunUTC must be to count as "never run".
// Schedules created without a last run carry a far-past placeholder instead of a null.
const NeverRunThreshold = 1000 * 24 * time.Hour

// DefaultBackupExpiryDays is used when neither the database nor its group sets an expiry.
const DefaultBackupExpiryDays = 7

// ============================================================================
// Tenant configuration (read-only to the engine)
// ============================================================================

// ResourceGroup is a tenant: one database server, one concurrency cap.
type ResourceGroup struct {
	ID                          string       `json:"id"`
	Name                        string       `json:"name"`
	Key                         string       `json:"key"`
	DbServer                    string       `json:"db_server"`
	DbUsername                  string       `json:"db_username"`
	DbPassword                  string       `json:"db_password"` //nolint:gosec // stored credential, never logged
	DbPort                      int          `json:"db_port"`
	DbType                      DatabaseType `json:"db_type"`
	MaximumRunningBots          int          `json:"maximum_running_bots"`
	CompressBackupFiles         bool         `json:"compress_backup_files"`
	BackupExpiryAgeInDays       int          `json:"backup_expiry_age_in_days"`
	NotifyOnErrorBackups        bool         `json:"notify_on_error_backups"`
	NotifyOnErrorBackupDelivery bool         `json:"notify_on_error_backup_delivery"`
	NotifyEmailDestinations     []string     `json:"notify_email_destinations,omitempty"`
	TimeZone                    string       `json:"time_zone,omitempty"`
	BackupSavePathTemplate      string       `json:"backup_save_path_template,omitempty"`
	LastAccess                  time.Time    `json:"last_access"`
}

// BotCap returns the effective concurrency cap. Values below one are treated as one.
func (g *ResourceGroup) BotCap() int {
	if g.MaximumRunningBots < 1 {
		return 1
	}
	return g.MaximumRunningBots
}

// Location returns the group's time zone, falling back to UTC for empty or unknown names.
func (g *ResourceGroup) Location() *time.Location {
	if g.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(g.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// GroupKey derives the URL-safe key of a resource group from its name.
func GroupKey(name string) string {
	key := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(key, "-")
}

// BackupDatabaseInfo is a database registered for backup.
type BackupDatabaseInfo struct {
	ID                    string       `json:"id"`
	ResourceGroupID       string       `json:"resource_group_id"`
	DatabaseName          string       `json:"database_name"`
	Description           string       `json:"description,omitempty"`
	DatabaseType          DatabaseType `json:"database_type,omitempty"`
	BackupExpiryAgeInDays int          `json:"backup_expiry_age_in_days,omitempty"`
	CreatedDateUTC        time.Time    `json:"created_date_utc"`
}

// EffectiveType returns the database's own engine family, or the group's when unset.
func (d *BackupDatabaseInfo) EffectiveType(group *ResourceGroup) DatabaseType {
	if d.DatabaseType != "" {
		return d.DatabaseType
	}
	return group.DbType
}

// ExpiryDays resolves the retention of artifacts for this database.
func (d *BackupDatabaseInfo) ExpiryDays(group *ResourceGroup) int {
	if d.BackupExpiryAgeInDays > 0 {
		return d.BackupExpiryAgeInDays
	}
	if group != nil && group.BackupExpiryAgeInDays > 0 {
		return group.BackupExpiryAgeInDays
	}
	return DefaultBackupExpiryDays
}

// BackupSchedule is a recurring backup of one database.
type BackupSchedule struct {
	ID                   string       `json:"id"`
	BackupDatabaseInfoID string       `json:"backup_database_info_id"`
	ScheduleType         ScheduleType `json:"schedule_type"`
	EveryHours           int          `json:"every_hours"`
	StartDateUTC         time.Time    `json:"start_date_utc"`
	LastRunUTC           time.Time    `json:"last_run_utc"`
	CreatedDateUTC       time.Time    `json:"created_date_utc"`
}

// HasNeverRun reports whether LastRunUTC is the "never run" placeholder relative to now.
func (s *BackupSchedule) HasNeverRun(now time.Time) bool {
	return s.LastRunUTC.IsZero() || s.LastRunUTC.Before(now.Add(-NeverRunThreshold))
}

// NextRunUTC returns when the schedule is next due.
func (s *BackupSchedule) NextRunUTC(now time.Time) time.Time {
	if s.HasNeverRun(now) {
		return s.StartDateUTC
	}
	every := s.EveryHours
	if every < 1 {
		every = 1
	}
	return s.LastRunUTC.Add(time.Duration(every) * time.Hour)
}

// IsDue reports whether the schedule should fire at now.
func (s *BackupSchedule) IsDue(now time.Time) bool {
	return !s.NextRunUTC(now).After(now)
}

// ContentDeliveryConfiguration describes one destination for a group's artifacts.
type ContentDeliveryConfiguration struct {
	ID              string          `json:"id"`
	ResourceGroupID string          `json:"resource_group_id"`
	Name            string          `json:"name,omitempty"`
	DeliveryType    DeliveryType    `json:"delivery_type"`
	IsEnabled       bool            `json:"is_enabled"`
	PriorityIndex   int             `json:"priority_index"`
	Configuration   json.RawMessage `json:"configuration,omitempty"`
}

// ============================================================================
// Runtime records (owned by the engine)
// ============================================================================

// BackupRecord tracks one backup run.
type BackupRecord struct {
	ID                    string       `json:"id"`
	ResourceGroupID       string       `json:"resource_group_id"`
	BackupDatabaseInfoID  string       `json:"backup_database_info_id"`
	ScheduleID            string       `json:"schedule_id,omitempty"`
	ScheduleType          ScheduleType `json:"schedule_type,omitempty"`
	Name                  string       `json:"name"`
	Path                  string       `json:"path"`
	BackupStatus          BackupStatus `json:"backup_status"`
	StatusUpdateDateUTC   time.Time    `json:"status_update_date_utc"`
	ExpiryDateUTC         time.Time    `json:"expiry_date_utc"`
	ExecutionMessage      string       `json:"execution_message,omitempty"`
	ExecutionMilliseconds int64        `json:"execution_milliseconds"`
	ExecutedDeliveryRun   bool         `json:"executed_delivery_run"`
	RegisteredDateUTC     time.Time    `json:"registered_date_utc"`
}

// ContentDeliveryRecord tracks one delivery of one artifact to one destination.
type ContentDeliveryRecord struct {
	ID                             string         `json:"id"`
	ResourceGroupID                string         `json:"resource_group_id"`
	BackupRecordID                 string         `json:"backup_record_id"`
	BackupDatabaseInfoID           string         `json:"backup_database_info_id,omitempty"`
	ContentDeliveryConfigurationID string         `json:"content_delivery_configuration_id"`
	DeliveryType                   DeliveryType   `json:"delivery_type"`
	CurrentStatus                  DeliveryStatus `json:"current_status"`
	StatusUpdateDateUTC            time.Time      `json:"status_update_date_utc"`
	RegisteredDateUTC              time.Time      `json:"registered_date_utc"`
	ExecutionMessage               string         `json:"execution_message,omitempty"`
	ExecutionMilliseconds          int64          `json:"execution_milliseconds"`
	DeliveryReference              string         `json:"delivery_reference,omitempty"`
}
