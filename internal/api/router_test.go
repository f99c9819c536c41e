// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/engine"
	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/store"
)

const testBaseURL = "https://backups.example.com"

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRouter(t *testing.T, s *store.BadgerStore, mutate func(d *Deps)) http.Handler {
	t.Helper()
	clk := testclock.NewClock(testNow)
	deps := Deps{
		Store: s,
		Rerun: engine.NewRerun(s, nil, clk, zerolog.Nop()),
		Scheduler: engine.NewScheduler(s, nil, engine.SchedulerConfig{
			BackupRoot:   t.TempDir(),
			PathTemplate: "{{database}}/{{database}}_{{datetime}}.{{databasetype}}.bak",
		}, clk, zerolog.Nop()),
		PublicBaseURL: testBaseURL,
		Middleware: &ChiMiddlewareConfig{
			CORSAllowedOrigins: []string{"https://app.example.com"},
			CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
			RateLimitDisabled:  true,
		},
		Clock:  clk,
		Logger: zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewRouter(deps)
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data interface{}) APIResponse {
	t.Helper()
	var raw struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return raw.APIResponse
}

func seedDatabase(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.PutResourceGroup(ctx, &models.ResourceGroup{
		ID:                 "rg-1",
		Name:               "Sales Team",
		DbServer:           "db.internal",
		DbType:             models.DatabaseTypeMySQL,
		MaximumRunningBots: 1,
	}); err != nil {
		t.Fatalf("put group: %v", err)
	}
	if err := s.PutDatabase(ctx, &models.BackupDatabaseInfo{
		ID:              "db-1",
		ResourceGroupID: "rg-1",
		DatabaseName:    "sales",
		CreatedDateUTC:  testNow,
	}); err != nil {
		t.Fatalf("put database: %v", err)
	}
}

func insertBackup(t *testing.T, s store.Store, id string, status models.BackupStatus) *models.BackupRecord {
	t.Helper()
	r := &models.BackupRecord{
		ID:                   id,
		ResourceGroupID:      "rg-1",
		BackupDatabaseInfoID: "db-1",
		Name:                 "sales backup",
		Path:                 "/var/backups/sales/" + id + ".bak",
		BackupStatus:         status,
		StatusUpdateDateUTC:  testNow,
		RegisteredDateUTC:    testNow,
		ExpiryDateUTC:        testNow.AddDate(0, 0, 7),
		ExecutionMessage:     "boom",
	}
	if err := s.InsertBackup(context.Background(), r); err != nil {
		t.Fatalf("insert backup %s: %v", id, err)
	}
	return r
}

func insertDelivery(t *testing.T, s store.Store, d *models.ContentDeliveryRecord) {
	t.Helper()
	if d.ResourceGroupID == "" {
		d.ResourceGroupID = "rg-1"
	}
	d.StatusUpdateDateUTC = testNow
	d.RegisteredDateUTC = testNow
	if err := s.InsertDelivery(context.Background(), d); err != nil {
		t.Fatalf("insert delivery %s: %v", d.ID, err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
		{
			name: "all checks pass",
			checks: map[string]HealthCheck{
				"store": func(context.Context) error { return nil },
				"nats":  func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
			wantChecks: map[string]string{"store": "ok", "nats": "ok"},
		},
		{
			name: "one check fails",
			checks: map[string]HealthCheck{
				"store": func(context.Context) error { return nil },
				"nats":  func(context.Context) error { return errors.New("embedded server stopped") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
			wantChecks: map[string]string{"store": "ok", "nats": "embedded server stopped"},
		},
		{
			name: "checks get a deadline",
			checks: map[string]HealthCheck{
				"store": func(ctx context.Context) error {
					if _, ok := ctx.Deadline(); !ok {
						return errors.New("no deadline")
					}
					return nil
				},
			},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
			wantChecks: map[string]string{"store": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, newTestStore(t), func(d *Deps) { d.HealthChecks = tt.checks })
			w := serve(h, http.MethodGet, "/healthz")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var status HealthStatus
			decodeResponse(t, w, &status)
			if status.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", status.Status, tt.wantBody)
			}
			for name, want := range tt.wantChecks {
				if status.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, status.Checks[name], want)
				}
			}
		})
	}
}

func TestRerunBackupRoute(t *testing.T) {
	s := newTestStore(t)
	insertBackup(t, s, "b-err", models.BackupStatusError)
	insertBackup(t, s, "b-ready", models.BackupStatusReady)
	h := newTestRouter(t, s, nil)

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantCode   string
	}{
		{"error record is re-queued", "b-err", http.StatusAccepted, ""},
		{"second re-run conflicts", "b-err", http.StatusConflict, ErrCodeConflict},
		{"ready record conflicts", "b-ready", http.StatusConflict, ErrCodeConflict},
		{"unknown record", "b-missing", http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, http.MethodPost, "/api/v1/backups/"+tt.id+"/rerun")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var rec models.BackupRecord
			resp := decodeResponse(t, w, &rec)
			if tt.wantCode != "" {
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
				}
				return
			}
			if !resp.Success {
				t.Errorf("success = false")
			}
			if rec.BackupStatus != models.BackupStatusQueued || rec.ExecutionMessage != "" {
				t.Errorf("record = %s %q, want QUEUED with no message", rec.BackupStatus, rec.ExecutionMessage)
			}
		})
	}
}

func TestRerunDeliveryRoute(t *testing.T) {
	s := newTestStore(t)
	insertBackup(t, s, "b-1", models.BackupStatusReady)
	insertDelivery(t, s, &models.ContentDeliveryRecord{
		ID:             "d-err",
		BackupRecordID: "b-1",
		DeliveryType:   models.DeliveryTypeFTP,
		CurrentStatus:  models.DeliveryStatusError,
	})
	insertDelivery(t, s, &models.ContentDeliveryRecord{
		ID:             "d-exec",
		BackupRecordID: "b-1",
		DeliveryType:   models.DeliveryTypeFTP,
		CurrentStatus:  models.DeliveryStatusExecuting,
	})
	h := newTestRouter(t, s, nil)

	tests := []struct {
		id         string
		wantStatus int
	}{
		{"d-err", http.StatusAccepted},
		{"d-exec", http.StatusConflict},
		{"d-missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := serve(h, http.MethodPost, "/api/v1/deliveries/"+tt.id+"/rerun")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	got, err := s.GetDelivery(context.Background(), "d-err")
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.CurrentStatus != models.DeliveryStatusQueued {
		t.Errorf("d-err status = %s, want QUEUED", got.CurrentStatus)
	}
}

func TestEnqueueBackupRoute(t *testing.T) {
	s := newTestStore(t)
	seedDatabase(t, s)
	h := newTestRouter(t, s, nil)

	w := serve(h, http.MethodPost, "/api/v1/databases/db-1/backups")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var rec models.BackupRecord
	decodeResponse(t, w, &rec)
	if rec.BackupStatus != models.BackupStatusQueued || rec.BackupDatabaseInfoID != "db-1" {
		t.Errorf("record = %+v", rec)
	}
	if _, err := s.GetBackup(context.Background(), rec.ID); err != nil {
		t.Errorf("queued record not stored: %v", err)
	}

	if w := serve(h, http.MethodPost, "/api/v1/databases/db-missing/backups"); w.Code != http.StatusNotFound {
		t.Errorf("unknown database status = %d, want 404", w.Code)
	}
}

func TestGetRoutes(t *testing.T) {
	s := newTestStore(t)
	insertBackup(t, s, "b-1", models.BackupStatusReady)
	for _, id := range []string{"d-1", "d-2"} {
		insertDelivery(t, s, &models.ContentDeliveryRecord{
			ID:             id,
			BackupRecordID: "b-1",
			DeliveryType:   models.DeliveryTypeSMTP,
			CurrentStatus:  models.DeliveryStatusQueued,
		})
	}
	h := newTestRouter(t, s, nil)

	t.Run("backup", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/api/v1/backups/b-1")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var rec models.BackupRecord
		decodeResponse(t, w, &rec)
		if rec.ID != "b-1" || rec.BackupStatus != models.BackupStatusReady {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("deliveries of a backup", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/api/v1/backups/b-1/deliveries")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var recs []models.ContentDeliveryRecord
		decodeResponse(t, w, &recs)
		if len(recs) != 2 {
			t.Errorf("%d deliveries, want 2", len(recs))
		}
	})

	t.Run("deliveries of an unknown backup", func(t *testing.T) {
		if w := serve(h, http.MethodGet, "/api/v1/backups/b-9/deliveries"); w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("delivery", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/api/v1/deliveries/d-2")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var rec models.ContentDeliveryRecord
		decodeResponse(t, w, &rec)
		if rec.ID != "d-2" {
			t.Errorf("record = %+v", rec)
		}
	})
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newTestRouter(t, newTestStore(t), nil)

	w := serve(h, http.MethodGet, "/api/v2/nothing")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
	if resp := decodeResponse(t, w, nil); resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("unknown route body = %s", w.Body.String())
	}

	if w := serve(h, http.MethodGet, "/api/v1/backups/b-1/rerun"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on rerun status = %d, want 405", w.Code)
	}
}

func TestRequestIDIsReturned(t *testing.T) {
	h := newTestRouter(t, newTestStore(t), nil)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/backups/b-1", nil)
	r.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	resp := decodeResponse(t, w, nil)
	if resp.Error == nil || resp.Error.RequestID != "req-42" {
		t.Errorf("error = %+v, want request id req-42", resp.Error)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestRouter(t, newTestStore(t), nil)
	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/backups/{id}", "404")
	before := testutil.ToFloat64(counter)

	serve(h, http.MethodGet, "/api/v1/backups/token-like-id-not-in-labels")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests counted under the route pattern = %v, want 1", got)
	}

	w := serve(h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "backupbots_http_requests_total") {
		t.Error("metrics output missing backupbots_http_requests_total")
	}
	if strings.Contains(body, "token-like-id-not-in-labels") {
		t.Error("raw path leaked into metric labels")
	}
}

func TestWebSocketRouteMountedOnlyWhenSet(t *testing.T) {
	if w := serve(newTestRouter(t, newTestStore(t), nil), http.MethodGet, "/ws"); w.Code != http.StatusNotFound {
		t.Errorf("without hub status = %d, want 404", w.Code)
	}

	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := newTestRouter(t, newTestStore(t), func(d *Deps) { d.WebSocket = ws })
	if w := serve(h, http.MethodGet, "/ws"); w.Code != http.StatusTeapot {
		t.Errorf("with hub status = %d, want the mounted handler's 418", w.Code)
	}
}
