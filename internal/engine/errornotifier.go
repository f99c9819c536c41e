// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/models"
)

const defaultNotifyTimeout = time.Minute

// MailSender sends one mail. *delivery.Mailer implements it.
type MailSender interface {
	Send(ctx context.Context, mail *delivery.Mail) (string, error)
}

// ErrorNotifier mails a resource group's notification addresses when one
// of its backups or deliveries fails. Sending is best effort: it happens in
// the background and failures are only logged.
type ErrorNotifier struct {
	mailer  MailSender
	timeout time.Duration
	logger  zerolog.Logger

	wg sync.WaitGroup
}

var _ FailureReporter = (*ErrorNotifier)(nil)

// NewErrorNotifier creates an ErrorNotifier. timeout bounds each send.
func NewErrorNotifier(mailer MailSender, timeout time.Duration, logger zerolog.Logger) *ErrorNotifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &ErrorNotifier{
		mailer:  mailer,
		timeout: timeout,
		logger:  logger.With().Str("component", "error_notifier").Logger(),
	}
}

// BackupFailed implements FailureReporter.
func (n *ErrorNotifier) BackupFailed(group *models.ResourceGroup, db *models.BackupDatabaseInfo, rec *models.BackupRecord) {
	dbName := rec.BackupDatabaseInfoID
	if db != nil {
		dbName = db.DatabaseName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A backup failed.\n\n")
	fmt.Fprintf(&b, "Resource group: %s\n", group.Name)
	fmt.Fprintf(&b, "Database:       %s\n", dbName)
	fmt.Fprintf(&b, "Backup:         %s\n", rec.Name)
	fmt.Fprintf(&b, "Backup id:      %s\n", rec.ID)
	fmt.Fprintf(&b, "Failed (UTC):   %s\n", rec.StatusUpdateDateUTC.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "\nError:\n%s\n", rec.ExecutionMessage)

	n.send(group, fmt.Sprintf("[%s] Backup failed: %s", group.Name, dbName), b.String(), rec.ID)
}

// DeliveryFailed implements FailureReporter.
func (n *ErrorNotifier) DeliveryFailed(group *models.ResourceGroup, rec *models.ContentDeliveryRecord, backup *models.BackupRecord) {
	var b strings.Builder
	fmt.Fprintf(&b, "A backup delivery failed.\n\n")
	fmt.Fprintf(&b, "Resource group: %s\n", group.Name)
	fmt.Fprintf(&b, "Delivery type:  %s\n", rec.DeliveryType)
	fmt.Fprintf(&b, "Delivery id:    %s\n", rec.ID)
	if backup != nil {
		fmt.Fprintf(&b, "Backup:         %s\n", backup.Name)
	}
	fmt.Fprintf(&b, "Failed (UTC):   %s\n", rec.StatusUpdateDateUTC.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "\nError:\n%s\n", rec.ExecutionMessage)

	n.send(group, fmt.Sprintf("[%s] Delivery failed: %s", group.Name, rec.DeliveryType), b.String(), rec.ID)
}

// Wait blocks until pending notifications are sent or have failed.
func (n *ErrorNotifier) Wait() {
	n.wg.Wait()
}

func (n *ErrorNotifier) send(group *models.ResourceGroup, subject, body, recordID string) {
	to := recipients(group.NotifyEmailDestinations)
	logger := n.logger.With().
		Str("resource_group_id", group.ID).
		Str("record_id", recordID).
		Logger()
	if len(to) == 0 {
		logger.Debug().Msg("No notification addresses configured")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if _, err := n.mailer.Send(ctx, &delivery.Mail{To: to, Subject: subject, Body: body}); err != nil {
			logger.Warn().Err(err).Int("recipients", len(to)).Msg("Failed to send failure notification")
			return
		}
		logger.Debug().Int("recipients", len(to)).Msg("Failure notification sent")
	}()
}

func recipients(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
