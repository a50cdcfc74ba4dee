// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Event("result")
	m.Event("result")
	m.Event("tool_use")
	m.ParseError()
	m.Permission("allow")
	m.StalePermission()
	m.WriteFailure()
	m.Usage(100, 20, 0, -5, 0.5)
	m.SetSessions(3)
	m.SetPendingPermissions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("tool_use")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.permissions.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stalePermissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeFailures))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.tokens.WithLabelValues("input")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tokens.WithLabelValues("cache_creation")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.cost))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingPermissions))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("x")
		m.ParseError()
		m.Permission("deny")
		m.Usage(1, 1, 1, 1, 1)
		m.SetSessions(1)
		m.HTTPRequest("GET", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.HTTPRequest("GET", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sessionmux_http_requests_total{code="200",method="GET"} 1`)
}
