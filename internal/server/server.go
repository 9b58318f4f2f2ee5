// Package server provides the management HTTP server for health checks and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health status of the server
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker returns nil when the component is healthy
type HealthChecker func(ctx context.Context) error

// Server provides HTTP endpoints for metrics and health
type Server struct {
	mu           sync.RWMutex
	server       *http.Server
	mux          *http.ServeMux
	checkers     map[string]HealthChecker
	startTime    time.Time
	version      string
	checkTimeout time.Duration
}

// Config holds management server configuration
type Config struct {
	// Addr is the address to listen on (e.g., ":9090")
	Addr string

	// MetricsPath is the path for Prometheus metrics
	MetricsPath string

	// HealthPath is the path for health checks
	HealthPath string

	// ReadyPath is the path for readiness checks
	ReadyPath string

	// LivePath is the path for liveness checks
	LivePath string

	// CheckTimeout bounds each health check
	CheckTimeout time.Duration

	// Version is the application version
	Version string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":9090",
		MetricsPath:  "/metrics",
		HealthPath:   "/health",
		ReadyPath:    "/ready",
		LivePath:     "/live",
		CheckTimeout: 2 * time.Second,
		Version:      "dev",
	}
}

// New creates a new management server
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}

	s := &Server{
		mux:          http.NewServeMux(),
		checkers:     make(map[string]HealthChecker),
		startTime:    time.Now(),
		version:      cfg.Version,
		checkTimeout: cfg.CheckTimeout,
	}

	s.mux.Handle(cfg.MetricsPath, promhttp.Handler())
	s.mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	s.mux.HandleFunc(cfg.ReadyPath, s.readyHandler)
	s.mux.HandleFunc(cfg.LivePath, s.liveHandler)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a health checker
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Start serves until Stop is called. A graceful stop returns nil.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("management server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// runChecks runs every checker and returns failures keyed by name
func (s *Server) runChecks(ctx context.Context) map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]error, len(s.checkers))
	for name, checker := range s.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		results[name] = checker(checkCtx)
		cancel()
	}
	return results
}

// healthHandler returns detailed health status
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}

	code := http.StatusOK
	for name, err := range s.runChecks(r.Context()) {
		if err != nil {
			status.Checks[name] = err.Error()
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			status.Checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		// Headers are already written
		return
	}
}

// readyHandler indicates if the service is ready to receive traffic
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	var failed []string
	for name, err := range s.runChecks(r.Context()) {
		if err != nil {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not ready: %s check failed", failed[0])
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		// Connection closed, nothing we can do
		return
	}
}

// liveHandler indicates if the service is alive
func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("alive")); err != nil {
		return
	}
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
