// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wingedpig/sessionmux/internal/policy"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateAgent(cfg, errs)
	v.validatePermissions(cfg, errs)
	v.validateUsage(cfg, errs)
	v.validateEvents(cfg, errs)
	v.validateLogging(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535")
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.Add("server.tls_cert", "tls_cert and tls_key must be set together")
	}
}

func (v *Validator) validateAgent(cfg *Config, errs *ValidationError) {
	if strings.TrimSpace(cfg.Agent.Command) == "" {
		errs.Add("agent.command", "is required")
	}
	for k := range cfg.Agent.Env {
		if k == "" || strings.Contains(k, "=") {
			errs.Add("agent.env", fmt.Sprintf("invalid variable name '%s'", k))
		}
	}
}

func (v *Validator) validatePermissions(cfg *Config, errs *ValidationError) {
	for i, rule := range cfg.Permissions.Allow {
		if _, err := policy.ParseRule(rule); err != nil {
			errs.Add(fmt.Sprintf("permissions.allow[%d]", i), err.Error())
		}
	}
	validateDuration("permissions.stale_after", cfg.Permissions.StaleAfter, errs)
	validateDuration("permissions.sweep_interval", cfg.Permissions.SweepInterval, errs)
}

func (v *Validator) validateUsage(cfg *Config, errs *ValidationError) {
	if cfg.Usage.ContextWindow < 0 {
		errs.Add("usage.context_window", "must not be negative")
	}
}

func (v *Validator) validateEvents(cfg *Config, errs *ValidationError) {
	if cfg.Events.History.MaxEvents < 0 {
		errs.Add("events.history.max_events", "must not be negative")
	}
	validateDuration("events.history.max_age", cfg.Events.History.MaxAge, errs)
	validateDuration("events.history.closed_retention", cfg.Events.History.ClosedRetention, errs)
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}
}

func validateDuration(field, value string, errs *ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration '%s'", value))
		return
	}
	if d < 0 {
		errs.Add(field, "must not be negative")
	}
}
