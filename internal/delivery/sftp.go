// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

const defaultSFTPTimeout = 30 * time.Second

type sftpConfig struct {
	Host       string `json:"host" validate:"required,hostname|ip"`
	Port       int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required_without=PrivateKey"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`

	// HostKey is the server key in authorized_keys format.
	HostKey               string `json:"host_key" validate:"required_unless=InsecureIgnoreHostKey true"`
	InsecureIgnoreHostKey bool   `json:"insecure_ignore_host_key"`

	Directory      string `json:"directory" validate:"omitempty,max=1024"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"omitempty,min=1,max=3600"`
}

func (c *sftpConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c *sftpConfig) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultSFTPTimeout
}

// clientConfig builds the SSH client configuration. Key parsing errors are
// permanent.
func (c *sftpConfig) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.PrivateKey != "" {
		var (
			signer ssh.Signer
			err    error
		)
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(c.PrivateKey), []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(c.PrivateKey))
		}
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("%w: private key: %v", ErrInvalidConfiguration, err))
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // explicitly requested by the configuration
	if !c.InsecureIgnoreHostKey {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.HostKey))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("%w: host key: %v", ErrInvalidConfiguration, err))
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.timeout(),
	}, nil
}

// SFTPChannel uploads artifacts over SFTP.
type SFTPChannel struct{}

// NewSFTPChannel creates the channel.
func NewSFTPChannel() *SFTPChannel {
	return &SFTPChannel{}
}

// Type implements Channel.
func (c *SFTPChannel) Type() models.DeliveryType { return models.DeliveryTypeSFTP }

// Validate implements Channel.
func (c *SFTPChannel) Validate(raw json.RawMessage) error {
	var cfg sftpConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return err
	}
	_, err := cfg.clientConfig()
	return retry.Unwrap(err)
}

// Deliver implements Channel.
func (c *SFTPChannel) Deliver(ctx context.Context, req *DeliveryRequest) (*DeliveryResult, error) {
	var cfg sftpConfig
	if err := loadConfig(req.Configuration, &cfg); err != nil {
		return nil, err
	}
	sshConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	sshClient, err := dialSSH(ctx, cfg.addr(), sshConfig)
	if err != nil {
		return nil, classifySSHError(err)
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("start sftp session: %w", err)
	}
	defer client.Close()

	remote, err := uploadSFTP(client, cfg.Directory, req.ArtifactPath)
	if err != nil {
		return nil, err
	}
	return &DeliveryResult{
		Reference: "sftp://" + cfg.addr() + "/" + strings.TrimPrefix(remote, "/"),
		Message:   "uploaded to " + cfg.Host,
	}, nil
}

// dialSSH connects with ctx and bounds the handshake by cfg.Timeout.
func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// uploadSFTP copies the artifact into dir and returns the remote path.
func uploadSFTP(client *sftp.Client, dir, artifactPath string) (string, error) {
	src, err := os.Open(artifactPath) //nolint:gosec // path of a READY artifact
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("open artifact: %w", err))
	}
	defer src.Close()

	remote := path.Base(strings.ReplaceAll(artifactPath, `\`, "/"))
	if dir != "" {
		if err := client.MkdirAll(dir); err != nil {
			return "", fmt.Errorf("create remote directory %s: %w", dir, err)
		}
		remote = path.Join(dir, remote)
	}

	dst, err := client.Create(remote)
	if err != nil {
		return "", fmt.Errorf("create remote file %s: %w", remote, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("upload %s: %w", remote, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close remote file %s: %w", remote, err)
	}
	return remote, nil
}

// classifySSHError marks rejected credentials and host key mismatches as
// permanent.
func classifySSHError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "host key mismatch") {
		return retry.Permanent(err)
	}
	return err
}
