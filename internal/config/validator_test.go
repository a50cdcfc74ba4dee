// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate_ValidConfig(t *testing.T) {
	cfg := Default()
	cfg.Permissions.Allow = []string{"Read", "Bash(npm run *)", "Edit(src/**/*.go)"}
	cfg.Server.TLSCert = "cert.pem"
	cfg.Server.TLSKey = "key.pem"

	assert.NoError(t, NewValidator().Validate(cfg))
}

func TestValidator_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }, "server.tls_cert"},
		{"key without cert", func(c *Config) { c.Server.TLSKey = "key.pem" }, "server.tls_cert"},
		{"blank command", func(c *Config) { c.Agent.Command = "  " }, "agent.command"},
		{"bad env name", func(c *Config) { c.Agent.Env = map[string]string{"A=B": "x"} }, "agent.env"},
		{"bad rule", func(c *Config) { c.Permissions.Allow = []string{"Bash(ls"} }, "permissions.allow[0]"},
		{"bad glob", func(c *Config) { c.Permissions.Allow = []string{"Read", "Edit([)"} }, "permissions.allow[1]"},
		{"bad stale_after", func(c *Config) { c.Permissions.StaleAfter = "soon" }, "permissions.stale_after"},
		{"negative sweep", func(c *Config) { c.Permissions.SweepInterval = "-1s" }, "permissions.sweep_interval"},
		{"negative window", func(c *Config) { c.Usage.ContextWindow = -1 }, "usage.context_window"},
		{"negative max_events", func(c *Config) { c.Events.History.MaxEvents = -5 }, "events.history.max_events"},
		{"bad max_age", func(c *Config) { c.Events.History.MaxAge = "7d" }, "events.history.max_age"},
		{"negative closed_retention", func(c *Config) { c.Events.History.ClosedRetention = "-1m" }, "events.history.closed_retention"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := NewValidator().Validate(cfg)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, tt.field, verr.Errors[0].Field)
		})
	}
}

func TestValidator_Validate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Logging.Level = "loud"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "agent.command", Message: "is required"},
			{Field: "server.port", Message: "must be between 0 and 65535"},
		},
	}

	assert.Equal(t, "agent.command: is required; server.port: must be between 0 and 65535", err.Error())
}

func TestValidationError_IsEmpty(t *testing.T) {
	err := &ValidationError{}
	assert.True(t, err.IsEmpty())

	err.Add("test", "error")
	assert.False(t, err.IsEmpty())
}
