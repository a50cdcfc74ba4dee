// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for the daemon. All
// methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionmux"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events             *prometheus.CounterVec
	parseErrors        prometheus.Counter
	permissions        *prometheus.CounterVec
	stalePermissions   prometheus.Counter
	writeFailures      prometheus.Counter
	tokens             *prometheus.CounterVec
	cost               prometheus.Counter
	sessions           prometheus.Gauge
	pendingPermissions prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Classified stream events by kind.",
		}, []string{"kind"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_parse_errors_total",
			Help:      "Malformed stream lines discarded.",
		}),
		permissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Permission requests by outcome.",
		}, []string{"outcome"}),
		stalePermissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_stale_total",
			Help:      "Permission requests flagged as waiting too long.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_write_failures_total",
			Help:      "Writes to a subprocess that failed.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by turn results.",
		}, []string{"type"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Cost reported by turn results in US dollars.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Conversations with a running subprocess.",
		}),
		pendingPermissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "permission_pending",
			Help:      "Permission requests awaiting a decision.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.parseErrors,
		m.permissions,
		m.stalePermissions,
		m.writeFailures,
		m.tokens,
		m.cost,
		m.sessions,
		m.pendingPermissions,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Event(kind string) {
	if m != nil {
		m.events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ParseError() {
	if m != nil {
		m.parseErrors.Inc()
	}
}

// Permission counts a permission outcome such as "pending", "auto_allow",
// "allow", "deny", "expired" or "delivery_failed".
func (m *Metrics) Permission(outcome string) {
	if m != nil {
		m.permissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) StalePermission() {
	if m != nil {
		m.stalePermissions.Inc()
	}
}

func (m *Metrics) WriteFailure() {
	if m != nil {
		m.writeFailures.Inc()
	}
}

// Usage adds the figures of one turn result.
func (m *Metrics) Usage(input, output, cacheRead, cacheCreation int64, cost float64) {
	if m == nil {
		return
	}
	add := func(label string, v int64) {
		if v > 0 {
			m.tokens.WithLabelValues(label).Add(float64(v))
		}
	}
	add("input", input)
	add("output", output)
	add("cache_read", cacheRead)
	add("cache_creation", cacheCreation)
	if cost > 0 {
		m.cost.Add(cost)
	}
}

func (m *Metrics) SetSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

func (m *Metrics) SetPendingPermissions(n int) {
	if m != nil {
		m.pendingPermissions.Set(float64(n))
	}
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
