// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

// DownloadPathPrefix is the HTTP path under which download tokens are served.
const DownloadPathPrefix = "/download/"

// tokenBytes gives 192 bits of entropy.
const tokenBytes = 24

type downloadLinkConfig struct {
	// Label is shown in the delivery message.
	Label string `json:"label" validate:"omitempty,max=200"`
}

// DownloadLinkChannel publishes an artifact through an unguessable URL.
// No bytes move; the HTTP surface resolves the token to the artifact.
// The delivery reference is the bare token, so links survive a change of
// the public base URL.
type DownloadLinkChannel struct {
	baseURL string
}

// NewDownloadLinkChannel creates the channel. baseURL is the externally
// reachable address of the HTTP surface.
func NewDownloadLinkChannel(baseURL string) *DownloadLinkChannel {
	return &DownloadLinkChannel{baseURL: strings.TrimRight(baseURL, "/")}
}

// Type implements Channel.
func (c *DownloadLinkChannel) Type() models.DeliveryType { return models.DeliveryTypeDownloadLink }

// Validate implements Channel.
func (c *DownloadLinkChannel) Validate(raw json.RawMessage) error {
	var cfg downloadLinkConfig
	return decodeConfig(raw, &cfg)
}

// Deliver implements Channel.
func (c *DownloadLinkChannel) Deliver(_ context.Context, req *DeliveryRequest) (*DeliveryResult, error) {
	var cfg downloadLinkConfig
	if err := loadConfig(req.Configuration, &cfg); err != nil {
		return nil, err
	}
	if _, err := os.Stat(req.ArtifactPath); err != nil {
		return nil, retry.Permanent(fmt.Errorf("artifact unavailable: %w", err))
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	msg := "download link ready: " + DownloadURL(c.baseURL, token)
	if cfg.Label != "" {
		msg = cfg.Label + ": " + msg
	}
	return &DeliveryResult{
		Reference: token,
		Message:   msg,
	}, nil
}

// NewToken returns a random URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate download token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DownloadURL builds the public link for a download token.
func DownloadURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + DownloadPathPrefix + token
}

// IssuesDownloadTokens reports whether deliveries of type t may carry a
// download token as their reference.
func IssuesDownloadTokens(t models.DeliveryType) bool {
	return t == models.DeliveryTypeDownloadLink || t == models.DeliveryTypeSMTP
}

// ValidToken reports whether s has the shape NewToken produces.
func ValidToken(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(tokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
