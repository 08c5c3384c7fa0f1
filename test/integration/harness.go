// Package integration provides a reusable test harness for end-to-end
// integration testing of the designer service. It starts a full HTTP server
// with the shipped definitions, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/designer/internal/config"
	"github.com/pitabwire/designer/internal/definition"
	"github.com/pitabwire/designer/internal/designer"
	"github.com/pitabwire/designer/internal/domainstore"
	"github.com/pitabwire/designer/internal/observability"
	"github.com/pitabwire/designer/internal/transport"
	"github.com/pitabwire/designer/model"
)

// AdminRole is the role the harness requires for designer access.
const AdminRole = "designer:admin"

// TestHarness encapsulates a fully wired designer instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	idp    *identityProvider

	// Internal components exposed for advanced test scenarios.
	Registry *definition.Registry
	Store    *domainstore.MemoryStore
	Manager  *designer.Manager
	Metrics  *observability.Metrics
	Redis    *miniredis.Miniredis

	saver *switchableSaver
	cfg   *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	redis          bool
	handlerTimeout time.Duration
	saveTimeout    time.Duration
	maxSessions    int
}

// WithDefinitions sets the definition directories to load.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithRedisIdempotency backs submit idempotency with an in-process redis
// server instead of the in-memory store.
func WithRedisIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithSaveTimeout bounds each call to the domain store on submit.
func WithSaveTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.saveTimeout = d
	}
}

// WithMaxSessions caps the number of open designer sessions.
func WithMaxSessions(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.maxSessions = n
	}
}

// NewTestHarness creates and starts a full designer test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		saveTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(repoRoot(), "definitions")}
	}

	h := &TestHarness{t: t}

	// Load and validate definitions.
	defs, err := definition.NewLoader().LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definitions invalid: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	// Stores and metrics.
	h.Store = domainstore.NewMemoryStore()
	h.saver = &switchableSaver{next: h.Store}
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())

	var idem designer.IdempotencyStore = designer.NewMemoryIdempotencyStore()
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		idem = designer.NewRedisIdempotencyStore(client)
	}

	h.Manager = designer.NewManager(h.Registry, h.Store, h.saver,
		designer.WithIdempotencyStore(idem, time.Hour),
		designer.WithMetrics(h.Metrics),
		designer.WithSaveTimeout(hc.saveTimeout),
		designer.WithMaxSessions(hc.maxSessions),
	)

	h.idp = newIdentityProvider(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = providerIssuer
	h.cfg.Identity.Audience = providerAudience
	h.cfg.Identity.JWKSURL = h.idp.jwks.URL
	h.cfg.Designer.AdminRole = AdminRole

	jwks := transport.NewJWKSClient(h.idp.jwks.URL, time.Hour)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Designers:    h.Manager,
		Metrics:      h.Metrics,
		ReadyHandler: observability.HandleReady(observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return h.Registry.Len() > 0 },
			DomainStore:       h.Store,
			IdempotencyStore:  idem,
		}),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// FailSaves makes every subsequent domain save fail as if the store were
// unreachable, until called again with false.
func (h *TestHarness) FailSaves(fail bool) {
	h.saver.fail.Store(fail)
}

// SaveCalls returns how many times the domain store was asked to save.
func (h *TestHarness) SaveCalls() int64 {
	return h.saver.calls.Load()
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.idp.Token(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.idp.ExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

// Do performs an authenticated request with additional headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

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

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
		return
	}
	resp.Body.Close()
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

// AssertError checks the response status and error code.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
}

// --- Designer helpers ---

// Open starts a designer session and returns its descriptor.
func (h *TestHarness) Open(t *testing.T, token, kind, domainID string) model.DesignerDescriptor {
	t.Helper()
	var d model.DesignerDescriptor
	h.AssertJSON(t, h.POST("/designer/sessions", map[string]string{"kind": kind, "domain_id": domainID}, token),
		http.StatusCreated, &d)
	return d
}

// Event applies a designer event and returns the resulting descriptor.
func (h *TestHarness) Event(t *testing.T, token, sessionID string, event model.DesignerEvent) model.DesignerDescriptor {
	t.Helper()
	var d model.DesignerDescriptor
	h.AssertJSON(t, h.POST(sessionPath(sessionID, "/events"), event, token), http.StatusOK, &d)
	return d
}

// SelectKey changes the key selection and returns the resulting descriptor.
func (h *TestHarness) SelectKey(t *testing.T, token, sessionID string, body map[string]any) model.DesignerDescriptor {
	t.Helper()
	var d model.DesignerDescriptor
	h.AssertJSON(t, h.POST(sessionPath(sessionID, "/key"), body, token), http.StatusOK, &d)
	return d
}

// Toggle expands or collapses a panel and returns the resulting descriptor.
func (h *TestHarness) Toggle(t *testing.T, token, sessionID string, panel int, collapsed bool) model.DesignerDescriptor {
	t.Helper()
	var d model.DesignerDescriptor
	path := sessionPath(sessionID, fmt.Sprintf("/panels/%d/toggle", panel))
	h.AssertJSON(t, h.POST(path, map[string]bool{"collapsed": collapsed}, token), http.StatusOK, &d)
	return d
}

// Submit saves the session and returns the raw response.
func (h *TestHarness) Submit(sessionID, token, idempotencyKey string) *http.Response {
	h.t.Helper()
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"X-Idempotency-Key": idempotencyKey}
	}
	return h.doRequest("POST", sessionPath(sessionID, "/submit"), nil, token, headers)
}

func sessionPath(id, suffix string) string {
	return "/designer/sessions/" + id + suffix
}

// --- Default test claims ---

// AdminClaims returns TestClaims for a designer administrator.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		TenantID:  "acme-labs",
		Email:     "admin@acme.example.com",
		Roles:     []string{AdminRole},
	}
}

// AnalystClaims returns TestClaims for a user without designer access.
func AnalystClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-analyst",
		TenantID:  "acme-labs",
		Email:     "analyst@acme.example.com",
		Roles:     []string{"lims:analyst"},
	}
}

// OtherTenantAdminClaims returns TestClaims for an administrator of a
// different tenant.
func OtherTenantAdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		TenantID:  "globex",
		Email:     "admin@globex.example.com",
		Roles:     []string{AdminRole},
	}
}

// --- Helpers ---

// repoRoot returns the absolute path to the repository root.
func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}

// switchableSaver forwards saves to the domain store unless told to fail.
type switchableSaver struct {
	next  domainstore.Saver
	fail  atomic.Bool
	calls atomic.Int64
}

func (s *switchableSaver) SaveDomain(ctx context.Context, tenantID string, design model.DomainDesign) (model.DomainDesign, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return model.DomainDesign{}, fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")
	}
	return s.next.SaveDomain(ctx, tenantID, design)
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
