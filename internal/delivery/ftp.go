// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jlaffaye/ftp"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

const defaultFTPTimeout = 30 * time.Second

type ftpConfig struct {
	Host           string `json:"host" validate:"required,hostname|ip"`
	Port           int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username       string `json:"username" validate:"required"`
	Password       string `json:"password"`
	Directory      string `json:"directory" validate:"omitempty,max=1024"`
	ExplicitTLS    bool   `json:"explicit_tls"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"omitempty,min=1,max=3600"`
}

func (c *ftpConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 21
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c *ftpConfig) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultFTPTimeout
}

// ftpConn is the subset of *ftp.ServerConn the channel uses.
type ftpConn interface {
	Login(user, password string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

type ftpDialer func(ctx context.Context, cfg *ftpConfig) (ftpConn, error)

func dialFTP(ctx context.Context, cfg *ftpConfig) (ftpConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(cfg.timeout()),
	}
	if cfg.ExplicitTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}
	c, err := ftp.Dial(cfg.addr(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to ftp %s: %w", cfg.addr(), err)
	}
	return c, nil
}

// FTPChannel uploads artifacts to an FTP server.
type FTPChannel struct {
	dial ftpDialer
}

// NewFTPChannel creates the channel.
func NewFTPChannel() *FTPChannel {
	return &FTPChannel{dial: dialFTP}
}

// Type implements Channel.
func (c *FTPChannel) Type() models.DeliveryType { return models.DeliveryTypeFTP }

// Validate implements Channel.
func (c *FTPChannel) Validate(raw json.RawMessage) error {
	var cfg ftpConfig
	return decodeConfig(raw, &cfg)
}

// Deliver implements Channel.
func (c *FTPChannel) Deliver(ctx context.Context, req *DeliveryRequest) (*DeliveryResult, error) {
	var cfg ftpConfig
	if err := loadConfig(req.Configuration, &cfg); err != nil {
		return nil, err
	}

	f, err := os.Open(req.ArtifactPath) //nolint:gosec // path of a READY artifact
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("open artifact: %w", err))
	}
	defer f.Close()

	conn, err := c.dial(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		return nil, classifyFTPError(fmt.Errorf("ftp login as %s: %w", cfg.Username, err))
	}

	makeFTPDirs(conn, cfg.Directory)

	remote := remoteName(cfg.Directory, req.ArtifactPath)
	if strings.HasPrefix(cfg.Directory, "/") {
		remote = "/" + remote
	}
	if err := conn.Stor(remote, f); err != nil {
		return nil, classifyFTPError(fmt.Errorf("ftp upload %s: %w", remote, err))
	}

	return &DeliveryResult{
		Reference: "ftp://" + cfg.addr() + "/" + strings.TrimPrefix(remote, "/"),
		Message:   "uploaded to " + cfg.Host,
	}, nil
}

// makeFTPDirs creates every segment of dir. Errors are ignored: most servers
// answer 550 for directories that already exist, and a genuinely missing
// directory surfaces on Stor.
func makeFTPDirs(conn ftpConn, dir string) {
	prefix := ""
	if strings.HasPrefix(dir, "/") {
		prefix = "/"
	}
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		prefix += seg
		_ = conn.MakeDir(prefix)
		prefix += "/"
	}
}

// classifyFTPError marks authentication and permission replies as permanent.
func classifyFTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusNotLoggedIn, ftp.StatusNotAvailable:
			return retry.Permanent(err)
		}
	}
	return err
}
