// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds every dependency check.
const healthCheckTimeout = 2 * time.Second

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status        string            `json:"status"`
	Checks        map[string]string `json:"checks,omitempty"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

// Health runs every registered check concurrently. Any failing check turns
// the answer into a 503 listing the failure.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.healthChecks))
	for name := range h.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(names))
		healthy = true
	)
	var g errgroup.Group
	for _, name := range names {
		check := h.healthChecks[name]
		g.Go(func() error {
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			results[name] = result
			if result != "ok" {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:        "healthy",
		Checks:        results,
		UptimeSeconds: h.clock.Now().Sub(h.startTime).Seconds(),
	}
	if !healthy {
		status.Status = "unhealthy"
		h.logger.Warn().Interface("checks", results).Msg("Health check failed")
		rw.ServiceUnavailable(status)
		return
	}
	rw.Success(status)
}
