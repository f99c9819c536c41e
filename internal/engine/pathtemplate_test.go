// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/backupbots/internal/models"
)

func TestRenderPathTemplate(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)

	tests := []struct {
		name     string
		template string
		database string
		dbType   models.DatabaseType
		now      time.Time
		want     string
		wantErr  bool
	}{
		{
			name:     "default template",
			template: "{{database}}/{{database}}_{{datetime}}.{{databasetype}}.bak",
			database: "sales",
			dbType:   models.DatabaseTypeMySQL,
			now:      testNow,
			want:     "sales/sales_2026-03-04-050607.mysql.bak",
		},
		{
			name:     "date token",
			template: "{{date}}/{{database}}.bak",
			database: "sales",
			dbType:   models.DatabaseTypePostgreSQL,
			now:      testNow,
			want:     "2026-03-04/sales.bak",
		},
		{
			name:     "local time is rendered in UTC",
			template: "{{datetime}}",
			database: "sales",
			now:      time.Date(2026, 3, 4, 0, 30, 0, 0, berlin),
			want:     "2026-03-03-233000",
		},
		{
			name:     "database name is sanitized",
			template: "{{database}}.bak",
			database: "../sales db;rm",
			now:      testNow,
			want:     "sales_db_rm.bak",
		},
		{
			name:     "empty database name",
			template: "{{database}}.bak",
			database: "///",
			now:      testNow,
			want:     "database.bak",
		},
		{
			name:     "unknown token",
			template: "{{database}}_{{hostname}}.bak",
			database: "sales",
			now:      testNow,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderPathTemplate(tt.template, tt.database, tt.dbType, tt.now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPathTemplate) {
					t.Fatalf("err = %v, want ErrInvalidPathTemplate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArtifactPath(t *testing.T) {
	root := filepath.Join("srv", "backups")

	tests := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{"nested", "{{database}}/{{date}}.bak", filepath.Join(root, "sales-team", "sales", "2026-03-04.bak"), false},
		{"flat", "{{database}}.bak", filepath.Join(root, "sales-team", "sales.bak"), false},
		{"parent escape", "../{{database}}.bak", "", true},
		{"absolute", "/etc/{{database}}", "", true},
		{"empty", "", "", true},
		{"dot", "./.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArtifactPath(root, "sales-team", tt.template, "sales", models.DatabaseTypeMySQL, testNow)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPathTemplate) {
					t.Fatalf("err = %v, want ErrInvalidPathTemplate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
