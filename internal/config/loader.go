// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hjson/hjson-go/v4"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultAgentArgs run the agent in bidirectional stream-json mode with
// permission prompts sent over stdio.
var DefaultAgentArgs = []string{
	"--output-format", "stream-json",
	"--verbose",
	"--input-format", "stream-json",
	"--permission-prompt-tool", "stdio",
	"--permission-mode", "default",
	"--include-partial-messages",
}

// Candidate file names, in search order.
var configNames = []string{
	"sessionmux.hjson",
	"sessionmux.json",
	"sessionmux.yaml",
	"sessionmux.yml",
	"sessionmux.toml",
}

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from path. The format follows the
// extension: .yaml/.yml, .toml, anything else is HJSON (a superset of JSON).
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, formatOf(path))
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches the current directory for a config file.
func (l *Loader) FindConfig() (string, error) {
	for _, name := range configNames {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("config file not found (looked for %s)", strings.Join(configNames, ", "))
}

// Format is a configuration file syntax.
type Format string

const (
	FormatHJSON Format = "hjson"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatHJSON
}

// Parse decodes configuration data. Every format is decoded to a generic map
// first and then re-decoded as JSON so all formats share the json tags.
func Parse(data []byte, format Format) (*Config, error) {
	var raw map[string]interface{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := hjson.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse hjson: %w", err)
		}
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7420
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
		if len(cfg.Agent.Args) == 0 {
			cfg.Agent.Args = append([]string(nil), DefaultAgentArgs...)
		}
	}

	if cfg.Permissions.StaleAfter == "" {
		cfg.Permissions.StaleAfter = "5m"
	}
	if cfg.Permissions.SweepInterval == "" {
		cfg.Permissions.SweepInterval = "30s"
	}

	if cfg.Usage.ContextWindow == 0 {
		cfg.Usage.ContextWindow = 200000
	}

	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}
	if cfg.Events.History.ClosedRetention == "" {
		cfg.Events.History.ClosedRetention = "5m"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
