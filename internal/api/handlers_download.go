// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/store"
)

// Download resolves a download-link token to its backup artifact.
//
// Unknown tokens answer 404. A token whose backup is no longer READY, has
// expired or whose file is gone answers 410.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx := r.Context()

	token := chi.URLParam(r, "token")
	if !delivery.ValidToken(token) {
		writeError(rw, ErrInvalidToken)
		return
	}

	d, err := h.store.FindDeliveryByReference(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(rw, ErrInvalidToken)
		return
	}
	if err != nil {
		writeError(rw, err)
		return
	}
	if !delivery.IssuesDownloadTokens(d.DeliveryType) || d.CurrentStatus != models.DeliveryStatusReady {
		writeError(rw, ErrInvalidToken)
		return
	}

	b, err := h.store.GetBackup(ctx, d.BackupRecordID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(rw, ErrNotDownloadable)
		return
	}
	if err != nil {
		writeError(rw, err)
		return
	}
	if b.BackupStatus != models.BackupStatusReady {
		writeError(rw, ErrNotDownloadable)
		return
	}
	if !b.ExpiryDateUTC.IsZero() && h.clock.Now().After(b.ExpiryDateUTC) {
		writeError(rw, ErrNotDownloadable)
		return
	}

	f, err := os.Open(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(rw, ErrNotDownloadable)
		return
	}
	if err != nil {
		writeError(rw, fmt.Errorf("open artifact of backup %s: %w", b.ID, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(rw, fmt.Errorf("stat artifact of backup %s: %w", b.ID, err))
		return
	}

	name := filepath.Base(b.Path)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	h.logger.Info().
		Str("backup_id", b.ID).
		Str("delivery_id", d.ID).
		Int64("size", info.Size()).
		Msg("Serving backup download")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
