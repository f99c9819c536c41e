// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/models"
)

// deliveryView is a delivery record as the API returns it. DownloadURL is
// built from the current public base URL when the delivery issued a token.
type deliveryView struct {
	*models.ContentDeliveryRecord
	DownloadURL string `json:"download_url,omitempty"`
}

func (h *Handler) viewDelivery(rec *models.ContentDeliveryRecord) deliveryView {
	v := deliveryView{ContentDeliveryRecord: rec}
	if delivery.IssuesDownloadTokens(rec.DeliveryType) && delivery.ValidToken(rec.DeliveryReference) {
		v.DownloadURL = delivery.DownloadURL(h.baseURL, rec.DeliveryReference)
	}
	return v
}

// GetBackup returns one backup record.
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.store.GetBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, err)
		return
	}
	rw.Success(rec)
}

// ListBackupDeliveries returns the delivery records of one backup, oldest first.
func (h *Handler) ListBackupDeliveries(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetBackup(r.Context(), id); err != nil {
		writeError(rw, err)
		return
	}
	recs, err := h.store.ListDeliveriesByBackup(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}
	views := make([]deliveryView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, h.viewDelivery(rec))
	}
	rw.Success(views)
}

// GetDelivery returns one delivery record.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.store.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, err)
		return
	}
	rw.Success(h.viewDelivery(rec))
}

// RerunBackup re-queues a backup in ERROR.
// Records in any other status answer 409.
func (h *Handler) RerunBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.rerun.RerunBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, err)
		return
	}
	rw.Accepted(rec)
}

// RerunDelivery re-queues a delivery in ERROR.
func (h *Handler) RerunDelivery(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.rerun.RerunDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, err)
		return
	}
	rw.Accepted(rec)
}

// EnqueueBackup queues an immediate backup of a database outside its schedules.
func (h *Handler) EnqueueBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.scheduler.Enqueue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, err)
		return
	}
	rw.Created(rec)
}
