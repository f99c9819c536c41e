// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package models

import (
	"fmt"
	"strings"
)

// ============================================================================
// Backup Status
// ============================================================================

// BackupStatus is the lifecycle state of a BackupRecord.
type BackupStatus string

const (
	// BackupStatusQueued is waiting for a free bot in its resource group.
	BackupStatusQueued BackupStatus = "QUEUED"

	// BackupStatusExecuting is held by exactly one bot.
	BackupStatusExecuting BackupStatus = "EXECUTING"

	// BackupStatusCompleted has a raw artifact on disk.
	BackupStatusCompleted BackupStatus = "COMPLETED"

	// BackupStatusCompressing is being archived by the compression stage.
	BackupStatusCompressing BackupStatus = "COMPRESSING"

	// BackupStatusReady is the terminal success state; deliveries may start.
	BackupStatusReady BackupStatus = "READY"

	// BackupStatusError is terminal until a manual re-run.
	BackupStatusError BackupStatus = "ERROR"
)

// ValidBackupStatuses lists all backup statuses.
var ValidBackupStatuses = []BackupStatus{
	BackupStatusQueued,
	BackupStatusExecuting,
	BackupStatusCompleted,
	BackupStatusCompressing,
	BackupStatusReady,
	BackupStatusError,
}

// backupTransitions is the complete set of allowed backup edges.
// ERROR -> QUEUED is only taken by a manual re-run.
var backupTransitions = map[BackupStatus][]BackupStatus{
	BackupStatusQueued:      {BackupStatusExecuting},
	BackupStatusExecuting:   {BackupStatusCompleted, BackupStatusError},
	BackupStatusCompleted:   {BackupStatusCompressing, BackupStatusReady},
	BackupStatusCompressing: {BackupStatusReady, BackupStatusError},
	BackupStatusError:       {BackupStatusQueued},
}

// IsValid reports whether s is a known backup status.
func (s BackupStatus) IsValid() bool {
	for _, v := range ValidBackupStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s BackupStatus) IsTerminal() bool {
	return s == BackupStatusReady || s == BackupStatusError
}

// IsInFlight reports whether a worker is expected to be holding the record.
// In-flight records are the ones the stale job reaper looks at.
func (s BackupStatus) IsInFlight() bool {
	return s == BackupStatusExecuting || s == BackupStatusCompressing
}

// ParseBackupStatus converts a string into a BackupStatus, rejecting unknown values.
func ParseBackupStatus(raw string) (BackupStatus, error) {
	s := BackupStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown backup status %q", raw)
	}
	return s, nil
}

// CanTransitionBackup reports whether from -> to is an allowed backup edge.
func CanTransitionBackup(from, to BackupStatus) bool {
	for _, next := range backupTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ============================================================================
// Delivery Status
// ============================================================================

// DeliveryStatus is the lifecycle state of a ContentDeliveryRecord.
type DeliveryStatus string

const (
	// DeliveryStatusQueued is waiting for the dispatcher.
	DeliveryStatusQueued DeliveryStatus = "QUEUED"

	// DeliveryStatusExecuting is held by exactly one dispatcher task.
	DeliveryStatusExecuting DeliveryStatus = "EXECUTING"

	// DeliveryStatusReady means the artifact reached its destination.
	DeliveryStatusReady DeliveryStatus = "READY"

	// DeliveryStatusError is terminal until a manual re-run.
	DeliveryStatusError DeliveryStatus = "ERROR"
)

// ValidDeliveryStatuses lists all delivery statuses.
var ValidDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusQueued,
	DeliveryStatusExecuting,
	DeliveryStatusReady,
	DeliveryStatusError,
}

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusQueued:    {DeliveryStatusExecuting},
	DeliveryStatusExecuting: {DeliveryStatusReady, DeliveryStatusError},
	DeliveryStatusError:     {DeliveryStatusQueued},
}

// IsValid reports whether s is a known delivery status.
func (s DeliveryStatus) IsValid() bool {
	for _, v := range ValidDeliveryStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusReady || s == DeliveryStatusError
}

// ParseDeliveryStatus converts a string into a DeliveryStatus, rejecting unknown values.
func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	s := DeliveryStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown delivery status %q", raw)
	}
	return s, nil
}

// CanTransitionDelivery reports whether from -> to is an allowed delivery edge.
func CanTransitionDelivery(from, to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
