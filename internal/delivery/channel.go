// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package delivery ships finished backup artifacts to their destinations.
//
// Each destination kind implements the Channel interface:
//   - DOWNLOAD_LINK: random token served by the HTTP surface
//   - FTP: plain or explicit-TLS FTP upload
//   - SFTP: upload over SSH
//   - SMTP: notification mail, with the artifact attached when small enough
//   - OBJECT_STORAGE: S3-compatible PutObject
//   - AZURE_BLOB: Azure Blob Storage upload
//
// Channel configurations are JSON documents stored on the delivery
// configuration. They are decoded with go-json and checked with validator
// tags; a configuration that fails either step is a permanent error and is
// never retried.
//
// Security:
//   - Credentials are never logged or placed in delivery references
//   - Host keys are verified for SFTP unless explicitly disabled
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
	"github.com/tomtom215/backupbots/internal/validation"
)

var (
	// ErrUnsupportedDeliveryType is returned for a delivery type with no channel.
	ErrUnsupportedDeliveryType = errors.New("unsupported delivery type")

	// ErrInvalidConfiguration is returned when a channel configuration does
	// not decode or fails validation.
	ErrInvalidConfiguration = errors.New("invalid delivery configuration")
)

// Channel delivers one artifact to one destination.
type Channel interface {
	// Type returns the delivery kind this channel serves.
	Type() models.DeliveryType

	// Validate checks a raw configuration without contacting the destination.
	Validate(raw json.RawMessage) error

	// Deliver ships the artifact. Errors wrapped with retry.Permanent are
	// not retried.
	Deliver(ctx context.Context, req *DeliveryRequest) (*DeliveryResult, error)
}

// DeliveryRequest is everything a channel needs for one delivery.
type DeliveryRequest struct {
	DeliveryID    string
	Configuration json.RawMessage
	ArtifactPath  string

	Backup   *models.BackupRecord
	Group    *models.ResourceGroup
	Database *models.BackupDatabaseInfo
}

// DeliveryResult is a successful delivery.
type DeliveryResult struct {
	// Reference locates the delivered artifact (URL, remote path, message id).
	Reference string

	// Message is a short human-readable summary.
	Message string
}

// Registry maps delivery types to channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[models.DeliveryType]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[models.DeliveryType]Channel)}
}

// Options configures the channels built by NewDefaultRegistry.
type Options struct {
	// PublicBaseURL is where download links in delivery messages point.
	PublicBaseURL string
}

// NewDefaultRegistry registers every shipped channel. DROPBOX is not shipped
// and resolves to ErrUnsupportedDeliveryType.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewDownloadLinkChannel(opts.PublicBaseURL))
	r.Register(NewFTPChannel())
	r.Register(NewSFTPChannel())
	r.Register(NewSMTPChannel(opts.PublicBaseURL))
	r.Register(NewObjectStorageChannel())
	r.Register(NewAzureBlobChannel())
	return r
}

// Register adds or replaces the channel for its type.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Type()] = ch
}

// Get returns the channel for t.
func (r *Registry) Get(t models.DeliveryType) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDeliveryType, t)
	}
	return ch, nil
}

// Types returns the registered delivery types, sorted.
func (r *Registry) Types() []models.DeliveryType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]models.DeliveryType, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// decodeConfig unmarshals raw into dst and validates it. Failures wrap
// ErrInvalidConfiguration.
func decodeConfig(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if err := validation.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return nil
}

// loadConfig is decodeConfig for use inside Deliver: a bad configuration is
// never retried.
func loadConfig(raw json.RawMessage, dst interface{}) error {
	if err := decodeConfig(raw, dst); err != nil {
		return retry.Permanent(err)
	}
	return nil
}

// remoteName joins a destination directory or prefix with the artifact's
// base name using forward slashes.
func remoteName(dir, artifactPath string) string {
	base := artifactPath
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return base
	}
	return dir + "/" + base
}
