// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package models

import (
	"fmt"
	"strings"
)

// DatabaseType identifies a database engine family. Providers are registered per type.
type DatabaseType string

const (
	DatabaseTypeSQLServer  DatabaseType = "SQLSERVER"
	DatabaseTypeMySQL      DatabaseType = "MYSQL"
	DatabaseTypeMariaDB    DatabaseType = "MARIADB"
	DatabaseTypePostgreSQL DatabaseType = "POSTGRESQL"
)

// ValidDatabaseTypes lists all supported engine families.
var ValidDatabaseTypes = []DatabaseType{
	DatabaseTypeSQLServer,
	DatabaseTypeMySQL,
	DatabaseTypeMariaDB,
	DatabaseTypePostgreSQL,
}

// IsValid reports whether t is a supported engine family.
func (t DatabaseType) IsValid() bool {
	for _, v := range ValidDatabaseTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseDatabaseType normalizes common spellings ("postgres", "mssql") into a DatabaseType.
func ParseDatabaseType(raw string) (DatabaseType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SQLSERVER", "MSSQL":
		return DatabaseTypeSQLServer, nil
	case "MYSQL":
		return DatabaseTypeMySQL, nil
	case "MARIADB":
		return DatabaseTypeMariaDB, nil
	case "POSTGRESQL", "POSTGRES", "PGSQL":
		return DatabaseTypePostgreSQL, nil
	default:
		return "", fmt.Errorf("unknown database type %q", raw)
	}
}

// DeliveryType identifies a delivery channel kind.
type DeliveryType string

const (
	DeliveryTypeDownloadLink  DeliveryType = "DOWNLOAD_LINK"
	DeliveryTypeFTP           DeliveryType = "FTP"
	DeliveryTypeSFTP          DeliveryType = "SFTP"
	DeliveryTypeSMTP          DeliveryType = "SMTP"
	DeliveryTypeDropbox       DeliveryType = "DROPBOX"
	DeliveryTypeAzureBlob     DeliveryType = "AZURE_BLOB"
	DeliveryTypeObjectStorage DeliveryType = "OBJECT_STORAGE"
)

// ValidDeliveryTypes lists all delivery kinds a configuration may name.
var ValidDeliveryTypes = []DeliveryType{
	DeliveryTypeDownloadLink,
	DeliveryTypeFTP,
	DeliveryTypeSFTP,
	DeliveryTypeSMTP,
	DeliveryTypeDropbox,
	DeliveryTypeAzureBlob,
	DeliveryTypeObjectStorage,
}

// IsValid reports whether t is a known delivery kind.
func (t DeliveryType) IsValid() bool {
	for _, v := range ValidDeliveryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ScheduleType is the kind of backup a schedule produces.
type ScheduleType string

const (
	ScheduleTypeFull         ScheduleType = "FULL"
	ScheduleTypeDifferential ScheduleType = "DIFFERENTIAL"
)

// IsValid reports whether t is a known schedule type.
func (t ScheduleType) IsValid() bool {
	return t == ScheduleTypeFull || t == ScheduleTypeDifferential
}

// Artifact path template tokens.
const (
	PathTokenDatabase     = "{{database}}"
	PathTokenDate         = "{{date}}"
	PathTokenDateTime     = "{{datetime}}"
	PathTokenDatabaseType = "{{databasetype}}"
)

// PathTokens lists every token an artifact path template may contain.
var PathTokens = []string{PathTokenDatabase, PathTokenDate, PathTokenDateTime, PathTokenDatabaseType}
