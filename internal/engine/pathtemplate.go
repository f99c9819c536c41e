// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tomtom215/backupbots/internal/models"
)

// ErrInvalidPathTemplate is returned for templates that render outside the
// backup root or contain unknown tokens.
var ErrInvalidPathTemplate = errors.New("invalid backup path template")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeName makes a database name safe as a single path segment.
func sanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "database"
	}
	return s
}

// RenderPathTemplate expands the artifact path tokens:
//
//	{{database}}      database name, sanitized
//	{{date}}          2006-01-02
//	{{datetime}}      2006-01-02-150405
//	{{databasetype}}  engine family, lower case
//
// now is formatted in UTC.
func RenderPathTemplate(template, database string, dbType models.DatabaseType, now time.Time) (string, error) {
	now = now.UTC()
	r := strings.NewReplacer(
		models.PathTokenDatabase, sanitizeName(database),
		models.PathTokenDate, now.Format("2006-01-02"),
		models.PathTokenDateTime, now.Format("2006-01-02-150405"),
		models.PathTokenDatabaseType, strings.ToLower(string(dbType)),
	)
	out := r.Replace(template)
	if strings.Contains(out, "{{") || strings.Contains(out, "}}") {
		return "", fmt.Errorf("%w: unknown token in %q", ErrInvalidPathTemplate, template)
	}
	return out, nil
}

// ArtifactPath returns where a backup of database is written:
// <root>/<group key>/<rendered template>.
func ArtifactPath(root, groupKey, template, database string, dbType models.DatabaseType, now time.Time) (string, error) {
	rendered, err := RenderPathTemplate(template, database, dbType, now)
	if err != nil {
		return "", err
	}
	rel := filepath.Clean(filepath.FromSlash(rendered))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the backup root", ErrInvalidPathTemplate, template)
	}
	return filepath.Join(root, sanitizeName(groupKey), rel), nil
}
