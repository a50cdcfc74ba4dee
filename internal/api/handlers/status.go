// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"
)

// StatusHandler reports server health.
type StatusHandler struct {
	procs       Processes
	permissions Permissions
	version     string
	started     time.Time
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(procs Processes, permissions Permissions, version string) *StatusHandler {
	return &StatusHandler{procs: procs, permissions: permissions, version: version, started: time.Now()}
}

// Status returns version, uptime and live counts.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":             h.version,
		"uptime_seconds":      int64(time.Since(h.started).Seconds()),
		"sessions":            len(h.procs.List()),
		"pending_permissions": len(h.permissions.Pending("")),
	})
}
