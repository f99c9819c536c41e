// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/backupbots/internal/delivery"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/store"
)

// downloadFixture stores a READY backup with an artifact on disk and a READY
// download-link delivery pointing at it.
type downloadFixture struct {
	store  *store.BadgerStore
	backup *models.BackupRecord
	token  string
}

func newDownloadFixture(t *testing.T, mutate func(b *models.BackupRecord, d *models.ContentDeliveryRecord)) downloadFixture {
	t.Helper()
	s := newTestStore(t)

	path := filepath.Join(t.TempDir(), "sales_2026-03-04.mysql.bak.gz")
	if err := os.WriteFile(path, []byte("compressed backup bytes"), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	token, err := delivery.NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	b := &models.BackupRecord{
		ID:                   "b-1",
		ResourceGroupID:      "rg-1",
		BackupDatabaseInfoID: "db-1",
		Name:                 "sales backup",
		Path:                 path,
		BackupStatus:         models.BackupStatusReady,
		StatusUpdateDateUTC:  testNow,
		RegisteredDateUTC:    testNow,
		ExpiryDateUTC:        testNow.AddDate(0, 0, 7),
	}
	d := &models.ContentDeliveryRecord{
		ID:                "d-1",
		BackupRecordID:    "b-1",
		DeliveryType:      models.DeliveryTypeDownloadLink,
		CurrentStatus:     models.DeliveryStatusReady,
		DeliveryReference: token,
	}
	if mutate != nil {
		mutate(b, d)
	}
	if err := s.InsertBackup(context.Background(), b); err != nil {
		t.Fatalf("insert backup: %v", err)
	}
	insertDelivery(t, s, d)
	return downloadFixture{store: s, backup: b, token: token}
}

func TestDownload_ServesArtifact(t *testing.T) {
	f := newDownloadFixture(t, nil)
	h := newTestRouter(t, f.store, nil)

	w := serve(h, http.MethodGet, "/download/"+f.token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "compressed backup bytes" {
		t.Errorf("body = %q", got)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "sales_2026-03-04.mysql.bak.gz") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDownload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(b *models.BackupRecord, d *models.ContentDeliveryRecord)
		token      func(f downloadFixture) string
		wantStatus int
	}{
		{
			name:       "malformed token",
			token:      func(downloadFixture) string { return "not-a-token" },
			wantStatus: http.StatusNotFound,
		},
		{
			name: "unknown token",
			token: func(downloadFixture) string {
				tok, _ := delivery.NewToken()
				return tok
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "delivery not ready",
			mutate: func(_ *models.BackupRecord, d *models.ContentDeliveryRecord) {
				d.CurrentStatus = models.DeliveryStatusExecuting
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "reference of another channel type",
			mutate: func(_ *models.BackupRecord, d *models.ContentDeliveryRecord) {
				d.DeliveryType = models.DeliveryTypeFTP
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "backup no longer ready",
			mutate: func(b *models.BackupRecord, _ *models.ContentDeliveryRecord) {
				b.BackupStatus = models.BackupStatusError
			},
			wantStatus: http.StatusGone,
		},
		{
			name: "backup expired",
			mutate: func(b *models.BackupRecord, _ *models.ContentDeliveryRecord) {
				b.ExpiryDateUTC = testNow.Add(-1)
			},
			wantStatus: http.StatusGone,
		},
		{
			name: "artifact removed from disk",
			mutate: func(b *models.BackupRecord, _ *models.ContentDeliveryRecord) {
				b.Path = filepath.Join(filepath.Dir(b.Path), "missing.bak.gz")
			},
			wantStatus: http.StatusGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDownloadFixture(t, tt.mutate)
			h := newTestRouter(t, f.store, nil)

			token := f.token
			if tt.token != nil {
				token = tt.token(f)
			}
			w := serve(h, http.MethodGet, "/download/"+token)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if strings.Contains(w.Body.String(), "compressed backup bytes") {
				t.Error("artifact served on a rejected request")
			}
		})
	}
}

func TestDownload_TokenOutlivesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		typ     models.DeliveryType
		baseURL string
	}{
		{name: "download link", typ: models.DeliveryTypeDownloadLink, baseURL: testBaseURL},
		{name: "download link after base URL change", typ: models.DeliveryTypeDownloadLink, baseURL: "https://files.example.org/backups"},
		{name: "mail link", typ: models.DeliveryTypeSMTP, baseURL: "https://files.example.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDownloadFixture(t, func(_ *models.BackupRecord, d *models.ContentDeliveryRecord) {
				d.DeliveryType = tt.typ
			})
			h := newTestRouter(t, f.store, func(d *Deps) { d.PublicBaseURL = tt.baseURL })

			w := serve(h, http.MethodGet, "/download/"+f.token)
			if w.Code != http.StatusOK {
				t.Fatalf("download status = %d: %s", w.Code, w.Body.String())
			}

			w = serve(h, http.MethodGet, "/api/v1/deliveries/d-1")
			if w.Code != http.StatusOK {
				t.Fatalf("get delivery status = %d: %s", w.Code, w.Body.String())
			}
			var view struct {
				DeliveryReference string `json:"delivery_reference"`
				DownloadURL       string `json:"download_url"`
			}
			decodeResponse(t, w, &view)
			if want := delivery.DownloadURL(tt.baseURL, f.token); view.DownloadURL != want {
				t.Errorf("download_url = %q, want %q", view.DownloadURL, want)
			}
			if view.DeliveryReference != f.token {
				t.Errorf("delivery_reference = %q, want the bare token", view.DeliveryReference)
			}
		})
	}
}
