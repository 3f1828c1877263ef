// Package integration provides a reusable test harness for end-to-end
// testing of the stagegate review server. It starts a full HTTP server with
// an in-memory store, a static role directory, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/config"
	"github.com/pitabwire/stagegate/internal/directory"
	"github.com/pitabwire/stagegate/internal/maintenance"
	"github.com/pitabwire/stagegate/internal/observability"
	"github.com/pitabwire/stagegate/internal/transport"
	"github.com/pitabwire/stagegate/internal/workflow"
	"github.com/pitabwire/stagegate/model"
)

// Notification is one dispatched reviewer notification captured by the
// harness for assertions.
type Notification struct {
	UserIDs []string
	Event   string
	Payload map[string]any
}

// captureDispatcher records every notification the engine dispatches.
type captureDispatcher struct {
	mu     sync.Mutex
	events []Notification
}

func (d *captureDispatcher) Notify(_ context.Context, userIDs []string, event string, payload map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, Notification{UserIDs: userIDs, Event: event, Payload: payload})
	return nil
}

func (d *captureDispatcher) all() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.events...)
}

// TestHarness encapsulates a fully wired review server for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store       *workflow.MemoryStore
	Engine      *workflow.Engine
	Maintenance *maintenance.Service

	dispatcher *captureDispatcher
	cfg        *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitions []model.WorkflowDefinition
	grants      map[string]map[string][]string
	admins      map[string][]string
	adminRole   string
}

// WithWorkflow seeds a workflow definition into the store.
func WithWorkflow(def model.WorkflowDefinition) HarnessOption {
	return func(c *harnessConfig) {
		c.definitions = append(c.definitions, def)
	}
}

// WithGrants sets the brand role memberships served by the directory.
func WithGrants(brands map[string]map[string][]string, admins map[string][]string) HarnessOption {
	return func(c *harnessConfig) {
		c.grants = brands
		c.admins = admins
	}
}

// WithAdminRole overrides the JWT role treated as global administrator.
func WithAdminRole(role string) HarnessOption {
	return func(c *harnessConfig) {
		c.adminRole = role
	}
}

// NewHarness builds and starts a fully wired server. The returned harness
// is torn down automatically when the test finishes.
func NewHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{adminRole: "global_admin"}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	h.Store = workflow.NewMemoryStore()
	for _, def := range hc.definitions {
		h.Store.PutDefinition(def)
	}

	dir := directory.NewStaticFromGrants(hc.grants, hc.admins)
	h.dispatcher = &captureDispatcher{}

	logger := zap.NewNop()
	h.Engine = workflow.NewEngine(h.Store, dir, h.dispatcher, logger)
	h.Maintenance = maintenance.NewService(h.Store, dir, logger)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Identity.Issuer = h.issuer.issuer
	h.cfg.Identity.Audience = h.issuer.audience
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Identity.AdminRole = hc.adminRole
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Engine:       h.Engine,
		Maintenance:  h.Maintenance,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Readiness: observability.ReadinessChecks{
			WorkflowsLoaded: func() bool { return len(hc.definitions) > 0 },
			Store:           h.Store,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Notifications returns every notification dispatched so far.
func (h *TestHarness) Notifications() []Notification {
	return h.dispatcher.all()
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}
