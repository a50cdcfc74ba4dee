// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration, the stream multiplexer, permission
// handling, agent processes and the API server together.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/sessionmux/internal/api"
	"github.com/wingedpig/sessionmux/internal/config"
	"github.com/wingedpig/sessionmux/internal/control"
	"github.com/wingedpig/sessionmux/internal/events"
	"github.com/wingedpig/sessionmux/internal/hub"
	"github.com/wingedpig/sessionmux/internal/metrics"
	"github.com/wingedpig/sessionmux/internal/policy"
	"github.com/wingedpig/sessionmux/internal/proc"
	"github.com/wingedpig/sessionmux/internal/stream"
	"golang.org/x/sync/errgroup"
)

// reloadDebounce delays config reloads so editors' multi-step saves are
// seen as one change.
const reloadDebounce = 200 * time.Millisecond

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string // Empty when running on defaults
	version    string
	config     *config.Config

	metrics   *metrics.Metrics
	eventBus  *events.MemoryEventBus
	store     *policy.Store
	policy    *policy.Policy
	hub       *hub.Hub
	mux       *stream.Mux
	registry  *proc.Registry
	control   *control.Manager
	apiServer *api.Server

	done         chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string // Application version string
}

// New loads configuration and builds every component. Nothing runs until
// Run is called.
func New(opts Options) (*App, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.NewLoader().LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Debug {
		cfg.Logging.Level = "debug"
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		config:     cfg,
		done:       make(chan struct{}),
	}
	if err := app.build(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *App) build() error {
	cfg := app.config

	app.metrics = metrics.New()
	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	if cfg.Permissions.RulesDB != "" {
		store, err := policy.OpenStore(cfg.Permissions.RulesDB)
		if err != nil {
			app.eventBus.Close()
			return fmt.Errorf("failed to open rules db: %w", err)
		}
		app.store = store
	}
	pol, err := policy.New(cfg.Permissions.Allow, app.store)
	if err != nil {
		app.closeStores()
		return fmt.Errorf("failed to load permission rules: %w", err)
	}
	app.policy = pol

	// The hub is the multiplexer's handler and the manager's notifier; the
	// registry is the multiplexer's sink and the manager's writer.
	app.hub = hub.New(app.eventBus, app.metrics)
	app.hub.SetClosedRetention(closedRetention(cfg))
	app.mux = stream.NewMux(app.hub, stream.Options{
		ContextWindow: cfg.Usage.ContextWindow,
		OnParseError: func(string, *stream.ParseError) {
			app.metrics.ParseError()
		},
		Debug: cfg.Logging.Debug(),
	})
	app.registry = proc.NewRegistry(agentSpec(cfg), app.mux, app.metrics, app.processExited)
	app.control = control.NewManager(app.registry, app.policy, app.hub)
	app.hub.Bind(app.mux, app.control)

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Processes:   app.registry,
		Sessions:    app.mux,
		Lifecycle:   app.hub,
		Permissions: app.control,
		Rules:       app.policy,
		EventBus:    app.eventBus,
		Metrics:     app.metrics,
		Version:     app.version,
	})
	return nil
}

func closedRetention(cfg *config.Config) time.Duration {
	return config.ParseDuration(cfg.Events.History.ClosedRetention, hub.DefaultClosedRetention)
}

func agentSpec(cfg *config.Config) proc.Spec {
	return proc.Spec{
		Command: cfg.Agent.Command,
		Args:    cfg.Agent.Args,
		WorkDir: cfg.Agent.WorkDir,
		Env:     cfg.Agent.EnvList(),
	}
}

// processExited closes a conversation once its process is gone.
func (app *App) processExited(conversationID string, stopped bool, err error) {
	reason := "exited"
	switch {
	case stopped:
		reason = "closed"
	case err != nil:
		reason = "exited: " + err.Error()
	}
	app.hub.Close(conversationID, reason)
}

// Config returns the active configuration.
func (app *App) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Handler returns the HTTP handler of the API server.
func (app *App) Handler() http.Handler {
	return app.apiServer.Router()
}

// Run serves the API, monitors pending permissions and watches the config
// file until ctx is cancelled, a signal arrives or Stop is called. Everything
// is shut down before Run returns.
func (app *App) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := app.Config()
	staleAfter := config.ParseDuration(cfg.Permissions.StaleAfter, 5*time.Minute)
	sweepInterval := config.ParseDuration(cfg.Permissions.SweepInterval, 30*time.Second)

	var watcher *config.Watcher
	if app.configPath != "" {
		w, err := config.NewWatcher(app.configPath, reloadDebounce, app.reload)
		if err != nil {
			log.Printf("Warning: config hot reload disabled: %v", err)
		} else {
			watcher = w
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Starting API server on %s", api.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.Port}.Addr())
		return app.apiServer.ListenAndServe()
	})

	g.Go(func() error {
		return app.control.Monitor(gctx, staleAfter, sweepInterval)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Printf("Context cancelled, shutting down...")
		case <-app.done:
			log.Printf("Shutdown requested...")
		}
		cancel()
		return app.Shutdown(context.Background())
	})

	return g.Wait()
}

// reload applies a changed config file. Permission rules, the agent command
// and closed-conversation retention take effect immediately; server settings
// need a restart.
func (app *App) reload(cfg *config.Config) {
	app.mu.Lock()
	old := app.config
	app.config = cfg
	app.mu.Unlock()

	if err := app.policy.SetRules(cfg.Permissions.Allow); err != nil {
		log.Printf("config: keeping previous permission rules: %v", err)
	}
	app.registry.SetSpec(agentSpec(cfg))
	app.hub.SetClosedRetention(closedRetention(cfg))

	if old.Server != cfg.Server {
		log.Printf("config: server settings changed; restart to apply")
	}

	err := app.eventBus.Publish(context.Background(), events.Event{
		Type:    events.EventConfigReloaded,
		Payload: map[string]interface{}{"path": app.configPath},
	})
	if err != nil {
		log.Printf("config: publishing reload: %v", err)
	}
}

// Shutdown stops the API server, expires pending permission requests, stops
// every agent process and releases storage. It runs once.
func (app *App) Shutdown(ctx context.Context) error {
	var err error
	app.shutdownOnce.Do(func() {
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		// Stop API server first to stop accepting new requests
		if serr := app.apiServer.Shutdown(shutdownCtx); serr != nil {
			log.Printf("Error shutting down API server: %v", serr)
			err = serr
		}

		if expired := app.control.ExpireAll(); len(expired) > 0 {
			log.Printf("Expired %d pending permission requests", len(expired))
		}
		app.registry.StopAll()
		app.mux.ResetAll()

		app.closeStores()
		log.Println("Shutdown complete")
	})
	return err
}

func (app *App) closeStores() {
	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing rules db: %v", err)
		}
	}
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
