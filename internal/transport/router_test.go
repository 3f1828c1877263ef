package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/config"
	"github.com/pitabwire/stagegate/internal/directory"
	"github.com/pitabwire/stagegate/internal/maintenance"
	"github.com/pitabwire/stagegate/internal/notify"
	"github.com/pitabwire/stagegate/internal/observability"
	"github.com/pitabwire/stagegate/internal/workflow"
	"github.com/pitabwire/stagegate/model"
)

// testAuth stands in for the JWT middleware: it reads the acting user from
// test headers and injects equivalent claims. No header means no claims,
// which the request-context middleware rejects.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := r.Header.Get("X-Test-Subject")
		if sub == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims := map[string]any{"sub": sub}
		if roles := r.Header.Get("X-Test-Roles"); roles != "" {
			var rr []any
			for _, role := range strings.Split(roles, ",") {
				rr = append(rr, role)
			}
			claims["roles"] = rr
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	store := workflow.NewMemoryStore()
	store.PutDefinition(model.WorkflowDefinition{
		ID:      "wf-content",
		BrandID: "brand-1",
		Name:    "Content Review",
		Steps: []model.WorkflowStep{
			{ID: "s-edit", WorkflowID: "wf-content", Order: 1, Role: "editor"},
		},
	})

	dir := directory.NewStaticFromGrants(
		map[string]map[string][]string{
			"brand-1": {"editor": {"user-amy"}},
		},
		map[string][]string{"brand-1": {"user-ivy"}},
	)

	logger := zap.NewNop()
	engine := workflow.NewEngine(store, dir, notify.NewLogDispatcher(logger), logger)

	cfg := config.Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.Audience = "stagegate"
	cfg.Identity.JWKSURL = "https://auth.example.com/jwks"

	return NewRouter(Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Maintenance:  maintenance.NewService(store, dir, logger),
		Authenticate: testAuth,
		Readiness: observability.ReadinessChecks{
			WorkflowsLoaded: func() bool { return true },
			Store:           store,
		},
	})
}

func doJSON(t *testing.T, r chi.Router, method, path, actor, roles string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if actor != "" {
		req.Header.Set("X-Test-Subject", actor)
	}
	if roles != "" {
		req.Header.Set("X-Test-Roles", roles)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeItem(t *testing.T, rec *httptest.ResponseRecorder) model.Item {
	t.Helper()
	var item model.Item
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return item
}

func TestRouter_PublicEndpoints(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := doJSON(t, r, http.MethodGet, path, "", "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s without auth = %d, want 200", path, rec.Code)
		}
	}
}

func TestRouter_MetricsDisabled(t *testing.T) {
	store := workflow.NewMemoryStore()
	dir := directory.NewStaticFromGrants(nil, nil)
	logger := zap.NewNop()

	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = false

	r := NewRouter(Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       workflow.NewEngine(store, dir, notify.NewLogDispatcher(logger), logger),
		Maintenance:  maintenance.NewService(store, dir, logger),
		Authenticate: testAuth,
		Readiness:    observability.ReadinessChecks{WorkflowsLoaded: func() bool { return true }},
	})

	rec := doJSON(t, r, http.MethodGet, "/metrics", "", "", nil)
	if rec.Code == http.StatusOK {
		t.Error("metrics endpoint served while disabled")
	}
}

func TestRouter_ReadyzNotReady(t *testing.T) {
	store := workflow.NewMemoryStore()
	dir := directory.NewStaticFromGrants(nil, nil)
	logger := zap.NewNop()

	r := NewRouter(Dependencies{
		Config:       config.Defaults(),
		Logger:       logger,
		Engine:       workflow.NewEngine(store, dir, notify.NewLogDispatcher(logger), logger),
		Maintenance:  maintenance.NewService(store, dir, logger),
		Authenticate: testAuth,
		Readiness:    observability.ReadinessChecks{WorkflowsLoaded: func() bool { return false }},
	})

	rec := doJSON(t, r, http.MethodGet, "/readyz", "", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/items/item-1", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := decodeErrorBody(t, rec).Code; got != model.ErrUnauthorized {
		t.Errorf("code = %q, want %q", got, model.ErrUnauthorized)
	}
}

func TestRouter_ItemLifecycle(t *testing.T) {
	r := newTestRouter(t)

	// Create as the owning author.
	rec := doJSON(t, r, http.MethodPost, "/v1/items", "user-owner", "", map[string]any{
		"brand_id":    "brand-1",
		"kind":        "content",
		"title":       "Q3 launch post",
		"workflow_id": "wf-content",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", rec.Code, rec.Body.String())
	}
	item := decodeItem(t, rec)
	if item.Status != model.ItemStatusPendingReview {
		t.Fatalf("status = %q, want pending_review", item.Status)
	}
	if item.CurrentStepID != "s-edit" {
		t.Fatalf("current step = %q, want s-edit", item.CurrentStepID)
	}

	// Read it back.
	rec = doJSON(t, r, http.MethodGet, "/v1/items/"+item.ID, "user-owner", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	// Approve the single step as its assigned reviewer.
	rec = doJSON(t, r, http.MethodPost, "/v1/items/"+item.ID+"/advance", "user-amy", "editor", map[string]any{
		"action": "approve",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance = %d, body = %s", rec.Code, rec.Body.String())
	}
	item = decodeItem(t, rec)
	if item.Status != model.ItemStatusApproved {
		t.Fatalf("status after approve = %q, want approved", item.Status)
	}

	// A second approval attempt finds the workflow finished.
	rec = doJSON(t, r, http.MethodPost, "/v1/items/"+item.ID+"/advance", "user-amy", "editor", map[string]any{
		"action": "approve",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("advance on approved item = %d, want 409", rec.Code)
	}
	if got := decodeErrorBody(t, rec).Code; got != model.ErrWorkflowComplete {
		t.Errorf("code = %q, want %q", got, model.ErrWorkflowComplete)
	}

	// History shows the single approval.
	rec = doJSON(t, r, http.MethodGet, "/v1/items/"+item.ID+"/history", "user-owner", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	var hist struct {
		Data []model.HistoryEntry `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Data) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist.Data))
	}

	// Progress reports the workflow complete.
	rec = doJSON(t, r, http.MethodGet, "/v1/items/"+item.ID+"/progress", "user-owner", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress = %d", rec.Code)
	}
	var prog model.Progress
	if err := json.NewDecoder(rec.Body).Decode(&prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if !prog.IsComplete {
		t.Error("progress reports incomplete after approval")
	}
}

func TestRouter_AdvanceDeniedForOutsider(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/items", "user-owner", "", map[string]any{
		"brand_id":    "brand-1",
		"kind":        "content",
		"title":       "Draft",
		"workflow_id": "wf-content",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	item := decodeItem(t, rec)

	rec = doJSON(t, r, http.MethodPost, "/v1/items/"+item.ID+"/advance", "user-mallory", "", map[string]any{
		"action": "approve",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if got := decodeErrorBody(t, rec).Code; got != model.ErrPermissionDenied {
		t.Errorf("code = %q, want %q", got, model.ErrPermissionDenied)
	}
}

func TestRouter_CreateValidation(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/items", "user-owner", "", map[string]any{
		"kind": "content",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestRouter_BadJSONBody(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader("{not json"))
	req.Header.Set("X-Test-Subject", "user-owner")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRouter_UnknownItem(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/items/item-missing", "user-owner", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRouter_MaintenanceRequiresGlobalAdmin(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/maintenance/orphans", "user-amy", "editor", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("orphans as editor = %d, want 403", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/maintenance/reassign", "user-amy", "editor", map[string]any{
		"from_user_id": "user-gone",
		"to_user_id":   "user-amy",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reassign as editor = %d, want 403", rec.Code)
	}
}

func TestRouter_MaintenanceOrphans(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/maintenance/orphans?brand_id=brand-1", "user-root", "global_admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data []model.OrphanedAssignment `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 0 {
		t.Errorf("orphans = %+v, want none", body.Data)
	}
}

func TestRouter_MaintenanceReassign(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/maintenance/reassign", "user-root", "global_admin", map[string]any{
		"from_user_id": "user-gone",
		"to_user_id":   "user-amy",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Reassigned int `json:"reassigned"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reassigned != 0 {
		t.Errorf("reassigned = %d, want 0", body.Reassigned)
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/maintenance/reassign", "user-root", "global_admin", map[string]any{
		"from_user_id": "user-gone",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reassign without target = %d, want 422", rec.Code)
	}
}

func TestRouter_CorrelationIDEchoed(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-Id", "corr-router-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-router-1" {
		t.Errorf("X-Correlation-Id = %q, want corr-router-1", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
