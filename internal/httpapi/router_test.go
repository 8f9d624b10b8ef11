// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/nessorch/orchestrator/internal/idempotency"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/queue"
	"github.com/nessorch/orchestrator/internal/registry"
	"github.com/nessorch/orchestrator/internal/scanner"
	fakescanner "github.com/nessorch/orchestrator/internal/scanner/fake"
	"github.com/nessorch/orchestrator/internal/orchestrator"
	"github.com/nessorch/orchestrator/internal/taskstore"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := registry.New(func(ic registry.InstanceConfig) scanner.Backend { return fakescanner.New() }, logger.NewNoop())
	reg.Load([]registry.PoolConfig{
		{Name: "default", Instances: []registry.InstanceConfig{{ID: "a", Pool: "default", MaxConcurrent: 4}}},
	})
	mgr := taskstore.NewManager(taskstore.New(t.TempDir()))
	api := orchestrator.New(reg, queue.New(client), idempotency.New(client), mgr)

	r := New(api, logger.NewNoop(), nil)
	return r.Setup([]string{"*"})
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestSubmitScanEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	body := `{"pool":"default","scanType":"untrusted","targets":["10.0.0.1"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitScanEndpointRejectsBadTarget(t *testing.T) {
	engine := newTestEngine(t)
	body := `{"pool":"default","scanType":"untrusted","targets":["10.0.0.1; rm -rf /"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an injection-shaped target, got %d", w.Code)
	}
}

func TestListPoolsEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "default") {
		t.Errorf("expected pool list to contain 'default', got %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
