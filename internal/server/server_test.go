package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okCheck(context.Context) error { return nil }

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return status
}

func TestServer_HealthHandler(t *testing.T) {
	srv := New(DefaultConfig())

	rec := get(t, srv, "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if status := decodeStatus(t, rec); status.Status != "healthy" {
		t.Errorf("status = %q, want 'healthy'", status.Status)
	}
}

func TestServer_HealthHandler_WithCheckers(t *testing.T) {
	srv := New(DefaultConfig())
	srv.RegisterHealthCheck("keystore", okCheck)
	srv.RegisterHealthCheck("audit", okCheck)

	rec := get(t, srv, "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusOK)
	}

	status := decodeStatus(t, rec)
	if status.Checks["keystore"] != "ok" {
		t.Errorf("keystore check = %q, want 'ok'", status.Checks["keystore"])
	}
	if status.Checks["audit"] != "ok" {
		t.Errorf("audit check = %q, want 'ok'", status.Checks["audit"])
	}
}

func TestServer_HealthHandler_Unhealthy(t *testing.T) {
	srv := New(DefaultConfig())
	srv.RegisterHealthCheck("keystore", func(context.Context) error {
		return errors.New("connection refused")
	})

	rec := get(t, srv, "/health")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	status := decodeStatus(t, rec)
	if status.Status != "unhealthy" {
		t.Errorf("status = %q, want 'unhealthy'", status.Status)
	}
	if status.Checks["keystore"] != "connection refused" {
		t.Errorf("keystore check = %q, want 'connection refused'", status.Checks["keystore"])
	}
}

func TestServer_HealthCheckTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckTimeout = 20 * time.Millisecond
	srv := New(cfg)

	srv.RegisterHealthCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	rec := get(t, srv, "/health")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("health check took %v, timeout was not applied", elapsed)
	}
	if got := decodeStatus(t, rec).Checks["slow"]; !strings.Contains(got, "deadline") {
		t.Errorf("slow check = %q, want deadline error", got)
	}
}

func TestServer_ReadyHandler(t *testing.T) {
	srv := New(DefaultConfig())

	rec := get(t, srv, "/ready")

	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ready" {
		t.Errorf("body = %q, want 'ready'", rec.Body.String())
	}
}

func TestServer_ReadyHandler_NotReady(t *testing.T) {
	srv := New(DefaultConfig())
	srv.RegisterHealthCheck("keystore", func(context.Context) error {
		return errors.New("initializing")
	})

	rec := get(t, srv, "/ready")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "keystore") {
		t.Errorf("body = %q, want failing check name", rec.Body.String())
	}
}

func TestServer_LiveHandler(t *testing.T) {
	srv := New(DefaultConfig())
	srv.RegisterHealthCheck("keystore", func(context.Context) error {
		return errors.New("down")
	})

	rec := get(t, srv, "/live")

	// Liveness ignores dependency checks
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "alive" {
		t.Errorf("body = %q, want 'alive'", rec.Body.String())
	}
}

func TestServer_MetricsHandler(t *testing.T) {
	srv := New(DefaultConfig())

	rec := get(t, srv, "/metrics")

	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		t.Errorf("Stop() error: %v", err)
	}

	// A graceful stop is not an error
	if err := <-errCh; err != nil {
		t.Errorf("Start() error: %v", err)
	}
}

func TestServer_HealthStatus_HasUptime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	srv := New(cfg)

	status := decodeStatus(t, get(t, srv, "/health"))

	if status.Uptime == "" {
		t.Error("uptime should not be empty")
	}
	if status.Version != "1.2.3" {
		t.Errorf("version = %q, want '1.2.3'", status.Version)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want ':9090'", cfg.Addr)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %q, want '/metrics'", cfg.MetricsPath)
	}
	if cfg.CheckTimeout != 2*time.Second {
		t.Errorf("CheckTimeout = %v, want 2s", cfg.CheckTimeout)
	}
}

func TestServer_Addr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":8080"
	srv := New(cfg)

	if srv.Addr() != ":8080" {
		t.Errorf("Addr() = %q, want ':8080'", srv.Addr())
	}
}
