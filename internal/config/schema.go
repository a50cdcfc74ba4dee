// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates sessionmux configuration.
package config

import (
	"sort"
	"time"
)

// Config is the root configuration.
type Config struct {
	Version     string            `json:"version"`
	Server      ServerConfig      `json:"server"`
	Agent       AgentConfig       `json:"agent"`
	Permissions PermissionsConfig `json:"permissions"`
	Usage       UsageConfig       `json:"usage"`
	Events      EventsConfig      `json:"events"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`
}

// AgentConfig is the command launched for each conversation. The command
// line is used verbatim.
type AgentConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	WorkDir string            `json:"work_dir"`
	Env     map[string]string `json:"env"`
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (a AgentConfig) EnvList() []string {
	out := make([]string, 0, len(a.Env))
	for k, v := range a.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// PermissionsConfig configures tool approval.
type PermissionsConfig struct {
	// Allow lists rules approved without asking, e.g. "Read" or "Bash(git *)".
	Allow         []string `json:"allow"`
	StaleAfter    string   `json:"stale_after"`
	SweepInterval string   `json:"sweep_interval"`
	// RulesDB stores rules remembered from "always allow". Empty disables
	// persistence.
	RulesDB string `json:"rules_db"`
}

// UsageConfig configures usage accounting.
type UsageConfig struct {
	ContextWindow int64 `json:"context_window"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig bounds event replay history.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
	// ClosedRetention is how long a closed conversation's events stay
	// available for replay.
	ClosedRetention string `json:"closed_retention"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `json:"level"`
}

// Debug reports whether per-event tracing is enabled.
func (l LoggingConfig) Debug() bool {
	return l.Level == "debug"
}

// ParseDuration parses a duration string, returning a default if empty or
// invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
