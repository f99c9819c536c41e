// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"errors"

	"github.com/tomtom215/backupbots/internal/engine"
	"github.com/tomtom215/backupbots/internal/store"
)

var (
	// ErrInvalidToken is returned for a download token of the wrong shape.
	ErrInvalidToken = errors.New("invalid download token")

	// ErrNotDownloadable is returned when a token resolves to a delivery
	// whose artifact is not (or no longer) servable.
	ErrNotDownloadable = errors.New("backup is not available for download")
)

// writeError maps engine and store errors onto HTTP status codes.
func writeError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, engine.ErrNotRerunnable):
		rw.Conflict(err.Error())
	case errors.Is(err, ErrInvalidToken):
		rw.NotFound(ErrInvalidToken.Error())
	case errors.Is(err, ErrNotDownloadable):
		rw.Gone(ErrNotDownloadable.Error())
	default:
		rw.InternalError(err)
	}
}
