// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the HTTP and WebSocket front end.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/wingedpig/sessionmux/internal/api/handlers"
	"github.com/wingedpig/sessionmux/internal/api/middleware"
	"github.com/wingedpig/sessionmux/internal/api/version"
	"github.com/wingedpig/sessionmux/internal/events"
	"github.com/wingedpig/sessionmux/internal/metrics"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Processes   handlers.Processes
	Sessions    handlers.Sessions
	Lifecycle   handlers.Lifecycle
	Permissions handlers.Permissions
	Rules       handlers.Rules // optional
	EventBus    events.EventBus
	Metrics     *metrics.Metrics
	Version     string // Application version string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(deps.Metrics))
	r.Use(middleware.Recovery)

	r.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(version.Middleware)

	statusHandler := handlers.NewStatusHandler(deps.Processes, deps.Permissions, deps.Version)
	api.HandleFunc("/status", statusHandler.Status).Methods("GET")

	// Session handlers
	sessionHandler := handlers.NewSessionHandler(deps.Processes, deps.Sessions, deps.Lifecycle)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/messages", sessionHandler.SendMessage).Methods("POST")
	api.HandleFunc("/sessions/{id}/interrupt", sessionHandler.Interrupt).Methods("POST")

	socketHandler := handlers.NewSocketHandler(deps.EventBus, deps.Processes, deps.Permissions)
	api.HandleFunc("/sessions/{id}/ws", socketHandler.WebSocket).Methods("GET")

	// Permission handlers
	permissionHandler := handlers.NewPermissionHandler(deps.Permissions, deps.Rules)
	api.HandleFunc("/permissions", permissionHandler.List).Methods("GET")
	api.HandleFunc("/permissions/rules", permissionHandler.ListRules).Methods("GET")
	api.HandleFunc("/permissions/rules", permissionHandler.ForgetRule).Methods("DELETE")
	api.HandleFunc("/permissions/{requestID}", permissionHandler.Get).Methods("GET")
	api.HandleFunc("/permissions/{requestID}", permissionHandler.Resolve).Methods("POST")

	// Event handlers
	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If tls_cert and tls_key are configured
// the server uses HTTPS. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	addr := s.cfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	if tlsEnabled {
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		err = srv.ListenAndServeTLS(expandPath(s.cfg.TLSCert), expandPath(s.cfg.TLSKey))
	} else {
		log.Printf("API server listening on http://%s", addr)
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return srv.Shutdown(shutdownCtx)
}
