// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

const (
	defaultSMTPTimeout       = 30 * time.Second
	defaultMaxAttachmentMB   = 10
	base64LineLength         = 76
	messageIDDomain          = "backupbots"
	defaultBackupMailSubject = "Backup ready"
)

// MailServer is an SMTP relay.
type MailServer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

func (s MailServer) addr() string {
	port := s.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Mail is one outgoing message.
type Mail struct {
	To      []string
	Subject string
	Body    string

	// AttachmentPath is sent as application/octet-stream when set.
	AttachmentPath string
}

// Mailer sends plain-text mail through one relay.
type Mailer struct {
	server MailServer
}

// NewMailer creates a mailer for server.
func NewMailer(server MailServer) *Mailer {
	if server.Timeout <= 0 {
		server.Timeout = defaultSMTPTimeout
	}
	return &Mailer{server: server}
}

// Send delivers m to every recipient in one SMTP transaction and returns the
// Message-ID header it generated. 5xx replies are permanent.
func (m *Mailer) Send(ctx context.Context, mail *Mail) (string, error) {
	if len(mail.To) == 0 {
		return "", retry.Permanent(errors.New("no recipients"))
	}
	messageID := "<" + uuid.NewString() + "@" + messageIDDomain + ">"
	msg, err := buildMessage(m.server.From, messageID, mail)
	if err != nil {
		return "", err
	}
	if err := m.sendSMTP(ctx, mail.To, msg); err != nil {
		return "", classifySMTPError(err)
	}
	return messageID, nil
}

// buildMessage renders headers and body. With an attachment the message is
// multipart/mixed.
func buildMessage(from, messageID string, mail *Mail) ([]byte, error) {
	var msg bytes.Buffer

	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(mail.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", mail.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	msg.WriteString("MIME-Version: 1.0\r\n")

	if mail.AttachmentPath == "" {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(toCRLF(mail.Body))
		return msg.Bytes(), nil
	}

	data, err := os.ReadFile(mail.AttachmentPath)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("read attachment: %w", err))
	}

	mw := multipart.NewWriter(&msg)
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	msg.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(toCRLF(mail.Body))); err != nil {
		return nil, err
	}

	name := filepath.Base(mail.AttachmentPath)
	att, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(att, data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func writeBase64Lines(w interface{ Write([]byte) (int, error) }, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := base64LineLength
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func (m *Mailer) sendSMTP(ctx context.Context, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: m.server.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.server.addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // Best effort cleanup
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.server.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }() //nolint:errcheck // Best effort cleanup

	if m.server.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: m.server.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if m.server.Username != "" && m.server.Password != "" {
		auth := smtp.PlainAuth("", m.server.Username, m.server.Password, m.server.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(m.server.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// The message is accepted once Data closes; a failed QUIT changes nothing.
	_ = client.Quit()
	return nil
}

// classifySMTPError marks 5xx replies (bad credentials, rejected mailbox,
// message too large) as permanent.
func classifySMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return retry.Permanent(err)
	}
	return err
}

type smtpConfig struct {
	Host            string   `json:"host" validate:"required,hostname|ip"`
	Port            int      `json:"port" validate:"omitempty,min=1,max=65535"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	From            string   `json:"from" validate:"required,email"`
	UseTLS          bool     `json:"use_tls"`
	Destinations    []string `json:"destinations" validate:"required,min=1,dive,email"`
	Subject         string   `json:"subject" validate:"omitempty,max=200"`
	AttachArtifact  bool     `json:"attach_artifact"`
	MaxAttachmentMB int      `json:"max_attachment_mb" validate:"omitempty,min=1,max=100"`
	TimeoutSeconds  int      `json:"timeout_seconds" validate:"omitempty,min=1,max=3600"`
}

func (c *smtpConfig) server() MailServer {
	s := MailServer{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		UseTLS:   c.UseTLS,
	}
	if c.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	return s
}

func (c *smtpConfig) maxAttachmentBytes() int64 {
	mb := c.MaxAttachmentMB
	if mb == 0 {
		mb = defaultMaxAttachmentMB
	}
	return int64(mb) << 20
}

// SMTPChannel mails a notice about a finished backup to the configured
// destinations, attaching the artifact when it is small enough. Otherwise
// the mail carries a download link and the delivery reference is its token.
type SMTPChannel struct {
	baseURL   string
	newMailer func(MailServer) sender
}

type sender interface {
	Send(ctx context.Context, mail *Mail) (string, error)
}

// NewSMTPChannel creates the channel. baseURL is the externally reachable
// address of the HTTP surface; without it unattached artifacts get no link.
func NewSMTPChannel(baseURL string) *SMTPChannel {
	return &SMTPChannel{
		baseURL:   strings.TrimRight(baseURL, "/"),
		newMailer: func(s MailServer) sender { return NewMailer(s) },
	}
}

// Type implements Channel.
func (c *SMTPChannel) Type() models.DeliveryType { return models.DeliveryTypeSMTP }

// Validate implements Channel.
func (c *SMTPChannel) Validate(raw json.RawMessage) error {
	var cfg smtpConfig
	return decodeConfig(raw, &cfg)
}

// Deliver implements Channel.
func (c *SMTPChannel) Deliver(ctx context.Context, req *DeliveryRequest) (*DeliveryResult, error) {
	var cfg smtpConfig
	if err := loadConfig(req.Configuration, &cfg); err != nil {
		return nil, err
	}

	info, err := os.Stat(req.ArtifactPath)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("artifact unavailable: %w", err))
	}

	mail := &Mail{
		To:      cfg.Destinations,
		Subject: backupMailSubject(cfg.Subject, req),
	}
	attached := cfg.AttachArtifact && info.Size() <= cfg.maxAttachmentBytes()
	var token, link string
	if attached {
		mail.AttachmentPath = req.ArtifactPath
	} else if c.baseURL != "" {
		if token, err = NewToken(); err != nil {
			return nil, err
		}
		link = DownloadURL(c.baseURL, token)
	}
	mail.Body = backupMailBody(req, info.Size(), attached, link)

	messageID, err := c.newMailer(cfg.server()).Send(ctx, mail)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("mailed to %d recipient(s)", len(cfg.Destinations))
	if cfg.AttachArtifact && !attached {
		msg += "; artifact exceeds attachment limit and was not attached"
	}
	if token == "" {
		return &DeliveryResult{Reference: messageID, Message: msg}, nil
	}
	return &DeliveryResult{Reference: token, Message: msg + "; message " + messageID}, nil
}

func backupMailSubject(subject string, req *DeliveryRequest) string {
	if subject == "" {
		subject = defaultBackupMailSubject
	}
	if req.Database != nil && req.Database.DatabaseName != "" {
		subject += ": " + req.Database.DatabaseName
	}
	return subject
}

func backupMailBody(req *DeliveryRequest, size int64, attached bool, link string) string {
	var b strings.Builder
	b.WriteString("A database backup is ready.\n\n")
	if req.Group != nil {
		fmt.Fprintf(&b, "Resource group: %s\n", req.Group.Name)
	}
	if req.Database != nil {
		fmt.Fprintf(&b, "Database:       %s\n", req.Database.DatabaseName)
	}
	if req.Backup != nil {
		fmt.Fprintf(&b, "Backup:         %s\n", req.Backup.Name)
		fmt.Fprintf(&b, "Created (UTC):  %s\n", req.Backup.RegisteredDateUTC.UTC().Format(time.RFC3339))
		if !req.Backup.ExpiryDateUTC.IsZero() {
			fmt.Fprintf(&b, "Expires (UTC):  %s\n", req.Backup.ExpiryDateUTC.UTC().Format(time.RFC3339))
		}
	}
	fmt.Fprintf(&b, "File:           %s (%d bytes)\n", filepath.Base(req.ArtifactPath), size)
	switch {
	case attached:
		b.WriteString("\nThe backup file is attached.\n")
	case link != "":
		fmt.Fprintf(&b, "\nDownload:       %s\n", link)
	}
	return b.String()
}
