package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestHandleReady_allHealthy(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		WorkflowsLoaded: func() bool { return true },
		Store:           stubChecker{},
		Directory:       stubChecker{},
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Status != "ready" {
		t.Errorf("Status = %q", resp.Status)
	}
	for _, name := range []string{"workflows", "store", "directory"} {
		if resp.Checks[name].Status != "ok" {
			t.Errorf("check %q = %+v", name, resp.Checks[name])
		}
	}
}

func TestHandleReady_storeDown(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		WorkflowsLoaded: func() bool { return true },
		Store:           stubChecker{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Status != "not_ready" {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Checks["store"].Error != "connection refused" {
		t.Errorf("store check = %+v", resp.Checks["store"])
	}
}

func TestHandleReady_noWorkflowsLoaded(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		WorkflowsLoaded: func() bool { return false },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleReady_optionalChecksSkippedWhenNil(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		WorkflowsLoaded: func() bool { return true },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(resp.Checks) != 1 {
		t.Errorf("checks = %+v, want only workflows", resp.Checks)
	}
}
