// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wingedpig/sessionmux/internal/app"
	"github.com/wingedpig/sessionmux/internal/config"
)

var (
	version = "0.1.0"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Log every classified stream event")
	flag.Parse()

	if showVersion {
		fmt.Printf("sessionmux %s\n", version)
		os.Exit(0)
	}

	// Without a config file the built-in defaults are used.
	if configPath == "" {
		if found, err := config.NewLoader().FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Debug:      debug,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

const configTemplate = `{
  // sessionmux configuration
  version: "1"

  server: {
    host: "127.0.0.1"
    port: %d
    // tls_cert: "~/.sessionmux/cert.pem"
    // tls_key: "~/.sessionmux/key.pem"
  }

  agent: {
    // Launched once per conversation. Omit args to use the stream-json
    // defaults.
    command: "claude"
    // work_dir: "/path/to/project"
    // env: { ANTHROPIC_LOG: "debug" }
  }

  permissions: {
    // Tools approved without asking: "Read", "Bash(git status)",
    // "Bash(npm run *)", "Edit(src/**)".
    allow: []
    stale_after: "5m"
    sweep_interval: "30s"
    // Rules remembered from "always allow" answers.
    rules_db: ".sessionmux/rules.db"
  }

  usage: {
    context_window: 200000
  }

  events: {
    history: {
      max_events: 10000
      max_age: "1h"
      // How long a closed conversation can still be replayed.
      closed_retention: "5m"
    }
  }

  logging: {
    level: "info"
  }
}
`

// runInit writes a commented sessionmux.hjson to the current directory.
func runInit(args []string) error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	port := initFlags.Int("port", 7420, "Server port to write")
	force := initFlags.Bool("force", false, "Overwrite an existing file")
	initFlags.Parse(args)

	configFile := "sessionmux.hjson"
	if _, err := os.Stat(configFile); err == nil && !*force {
		return fmt.Errorf("%s already exists; remove it first or pass -force", configFile)
	}

	content := fmt.Sprintf(configTemplate, *port)
	cfg, err := config.Parse([]byte(content), config.FormatHJSON)
	if err != nil {
		return fmt.Errorf("generated config does not parse: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFile, err)
	}
	fmt.Printf("Created %s\n", configFile)
	return nil
}
