package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/approval/archive"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/engine"
	"mercator-hq/warden/pkg/security/auth"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/templates"
)

type fixture struct {
	srv     *Server
	cfg     *config.Config
	set     *engine.Set
	archive *archive.MemoryStore
	checker *health.Checker
	metrics *metrics.Collector
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(cfg)
	}

	reg := templates.NewRegistry(templates.WithLogger(logging.Discard()))
	store := archive.NewMemoryStore()

	var instances []*engine.Instance
	for _, pc := range []struct{ template, name string }{
		{templates.ReadOnly, "reader"},
		{templates.HighValueApproval, "treasury"},
	} {
		p, err := reg.Build(pc.template, templates.Overrides{Name: pc.name})
		if err != nil {
			t.Fatalf("Build(%s) error = %v", pc.template, err)
		}
		inst, err := engine.Compile(p, &engine.Options{
			StopOnFirstFailure: true,
			Logger:             logging.Discard(),
			Approval:           []approval.Option{approval.WithArchive(store)},
		})
		if err != nil {
			t.Fatalf("Compile(%s) error = %v", pc.name, err)
		}
		instances = append(instances, inst)
	}
	set, err := engine.NewSet(instances...)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	t.Cleanup(set.Close)

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	checker := health.New(time.Second)
	srv := New(cfg, Deps{
		Policies:  set,
		Templates: reg,
		Archive:   store,
		Metrics:   collector,
		Health:    checker,
		Version:   health.VersionInfo{Version: "test"},
		Logger:    logging.Discard(),
	})
	return &fixture{srv: srv, cfg: cfg, set: set, archive: store, checker: checker, metrics: collector}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func bigTransfer() map[string]any {
	return map[string]any{
		"policy": "treasury",
		"action": map[string]any{"type": "transfer", "params": map[string]any{"amount": "2000000000000000000"}},
	}
}

// ============================================================================
// Evaluate
// ============================================================================

func TestEvaluate(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name        string
		body        any
		wantCode    int
		wantAllowed bool
		wantFailed  string
	}{
		{
			name:        "read allowed",
			body:        `{"policy":"reader","action":{"type":"read:balance"},"mode":"check"}`,
			wantCode:    http.StatusOK,
			wantAllowed: true,
		},
		{
			name:       "write denied",
			body:       `{"policy":"reader","action":{"type":"transfer"},"context":{"sender":"0xabc"}}`,
			wantCode:   http.StatusOK,
			wantFailed: "action-whitelist",
		},
		{
			name:        "small transfer needs no approval",
			body:        `{"policy":"treasury","action":{"type":"transfer","params":{"amount":5}}}`,
			wantCode:    http.StatusOK,
			wantAllowed: true,
		},
		{
			name:       "check mode denies pending approval",
			body:       `{"policy":"treasury","action":{"type":"transfer","params":{"amount":"2000000000000000000"}},"mode":"check"}`,
			wantCode:   http.StatusOK,
			wantFailed: approval.RuleType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/evaluate", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			resp := decode[EvaluateResponse](t, rec)
			if resp.Allowed != tt.wantAllowed {
				t.Errorf("expected allowed=%v, got %v (%s)", tt.wantAllowed, resp.Allowed, resp.Reason)
			}
			if resp.FailedType != tt.wantFailed {
				t.Errorf("expected failed type %q, got %q", tt.wantFailed, resp.FailedType)
			}
		})
	}
}

func TestEvaluate_BadRequests(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.MaxBodyBytes = 256 })

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed json", `{"policy":`, http.StatusBadRequest},
		{"unknown field", `{"policy":"reader","action":{"type":"read"},"bogus":1}`, http.StatusBadRequest},
		{"missing action type", `{"policy":"reader"}`, http.StatusBadRequest},
		{"unknown mode", `{"policy":"reader","action":{"type":"read"},"mode":"maybe"}`, http.StatusBadRequest},
		{"unknown policy", `{"policy":"nope","action":{"type":"read"}}`, http.StatusNotFound},
		{"proof for proofless rule", `{"policy":"reader","action":{"type":"read"},"proofs":{"0":{}}}`, http.StatusBadRequest},
		{"body too large", `{"policy":"reader","action":{"type":"` + strings.Repeat("x", 512) + `"}}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/evaluate", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Error.Code == "" || resp.Error.Message == "" {
				t.Errorf("expected error body, got %+v", resp)
			}
		})
	}
}

func TestEvaluate_RecordExecution(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/evaluate", `{"policy":"reader","action":{"type":"read:balance"},"record":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decode[EvaluateResponse](t, rec); !resp.Recorded {
		t.Errorf("expected execution recorded, got %+v", resp)
	}

	rec = f.do(t, http.MethodPost, "/v1/executions", `{"policy":"reader","action":{"type":"read:balance"}}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/v1/executions", `{"policy":"ghost","action":{"type":"read"}}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// ============================================================================
// Approvals
// ============================================================================

func TestApprovalLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/evaluate", bigTransfer())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[EvaluateResponse](t, rec)
	if resp.Allowed || resp.Approval == nil || resp.Approval.RequestID == "" {
		t.Fatalf("expected pending approval, got %+v", resp)
	}
	id := resp.Approval.RequestID

	list := decode[struct{ Requests []approval.Request }](t, f.do(t, http.MethodGet, "/v1/approvals", nil))
	if len(list.Requests) != 1 || list.Requests[0].ID != id {
		t.Fatalf("expected pending request %s, got %+v", id, list.Requests)
	}
	filtered := decode[struct{ Requests []approval.Request }](t, f.do(t, http.MethodGet, "/v1/approvals?policy=reader", nil))
	if len(filtered.Requests) != 0 {
		t.Errorf("expected no requests for reader, got %d", len(filtered.Requests))
	}

	got := decode[approval.Request](t, f.do(t, http.MethodGet, "/v1/approvals/"+id, nil))
	if got.Status != approval.StatusPending || got.Policy != "treasury" {
		t.Errorf("unexpected request %+v", got)
	}

	rec = f.do(t, http.MethodPost, "/v1/approvals/"+id+"/approve", `{"approver":"ops"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[approval.Request](t, rec); got.Status != approval.StatusApproved {
		t.Errorf("expected approved, got %s", got.Status)
	}

	rec = f.do(t, http.MethodPost, "/v1/approvals/"+id+"/reject", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for resolved request, got %d", rec.Code)
	}

	archived, err := f.archive.Get(context.Background(), id)
	if err != nil || archived.Status != approval.StatusApproved {
		t.Errorf("expected archived approval, got %+v, %v", archived, err)
	}
	history := decode[struct{ Requests []approval.Request }](t, f.do(t, http.MethodGet, "/v1/approvals/history?status=approved&policy=treasury", nil))
	if len(history.Requests) != 1 {
		t.Errorf("expected 1 archived request, got %d", len(history.Requests))
	}
}

func TestReject_WithReason(t *testing.T) {
	f := newFixture(t, nil)
	resp := decode[EvaluateResponse](t, f.do(t, http.MethodPost, "/v1/evaluate", bigTransfer()))
	id := resp.Approval.RequestID

	rec := f.do(t, http.MethodPost, "/v1/approvals/"+id+"/reject", `{"reason":"not today"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[approval.Request](t, rec)
	if got.Status != approval.StatusRejected || got.Reason != "not today" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestApprovals_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/approvals/missing"},
		{http.MethodPost, "/v1/approvals/missing/approve"},
		{http.MethodPost, "/v1/approvals/missing/reject"},
	} {
		if rec := f.do(t, tc.method, tc.path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestApprovalHistory_InvalidQuery(t *testing.T) {
	f := newFixture(t, nil)
	for _, q := range []string{"since=yesterday", "limit=ten", "limit=-1"} {
		if rec := f.do(t, http.MethodGet, "/v1/approvals/history?"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.AuthToken = "s3cret"
		c.Server.APIKeys = []config.APIKeyConfig{
			{Name: "ops", Key: "k-ops"},
			{Name: "retired", Key: "k-retired", Disabled: true},
		}
	})

	tests := []struct {
		name     string
		header   []string
		wantCode int
	}{
		{"missing token", nil, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic s3cret"}, http.StatusUnauthorized},
		{"legacy token", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
		{"named key", []string{"Authorization", "Bearer k-ops"}, http.StatusOK},
		{"x-api-key header", []string{"X-API-Key", "k-ops"}, http.StatusOK},
		{"disabled key", []string{"X-API-Key", "k-retired"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/evaluate", `{"policy":"reader","action":{"type":"read"}}`, tt.header...)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate challenge")
			}
		})
	}

	if rec := f.do(t, http.MethodGet, "/v1/approvals", nil); rec.Code != http.StatusOK {
		t.Errorf("expected read endpoints open, got %d", rec.Code)
	}
}

func TestAuthentication_ApproverIdentity(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.APIKeys = []config.APIKeyConfig{{Name: "ops", Key: "k-ops"}}
	})
	key := []string{"X-API-Key", "k-ops"}

	resp := decode[EvaluateResponse](t, f.do(t, http.MethodPost, "/v1/evaluate", bigTransfer(), key...))
	if resp.Approval == nil {
		t.Fatalf("expected pending approval, got %+v", resp)
	}
	id := resp.Approval.RequestID

	rec := f.do(t, http.MethodPost, "/v1/approvals/"+id+"/approve", `{"approver":"mallory"}`, key...)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[approval.Request](t, rec); got.ResolvedBy != "ops" {
		t.Errorf("expected key name to override body approver, got %q", got.ResolvedBy)
	}
	archived, err := f.archive.Get(context.Background(), id)
	if err != nil || archived.ResolvedBy != "ops" {
		t.Errorf("expected archived approver ops, got %q (%v)", archived.ResolvedBy, err)
	}
}

func TestAuthentication_KeyRotation(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.APIKeys = []config.APIKeyConfig{{Name: "ops", Key: "old"}}
	})
	body := `{"policy":"reader","action":{"type":"read"}}`

	if rec := f.do(t, http.MethodPost, "/v1/evaluate", body, "X-API-Key", "old"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before rotation, got %d", rec.Code)
	}
	f.srv.Keys().Replace(auth.KeysFromConfig([]config.APIKeyConfig{{Name: "ops", Key: "new"}}, ""))
	if rec := f.do(t, http.MethodPost, "/v1/evaluate", body, "X-API-Key", "old"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected rotated key rejected, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/evaluate", body, "X-API-Key", "new"); rec.Code != http.StatusOK {
		t.Errorf("expected new key accepted, got %d", rec.Code)
	}
}

func TestReject_BodyApproverWithoutAuth(t *testing.T) {
	f := newFixture(t, nil)
	resp := decode[EvaluateResponse](t, f.do(t, http.MethodPost, "/v1/evaluate", bigTransfer()))
	rec := f.do(t, http.MethodPost, "/v1/approvals/"+resp.Approval.RequestID+"/reject", `{"approver":"ops","reason":"no"}`)
	if got := decode[approval.Request](t, rec); got.ResolvedBy != "ops" {
		t.Errorf("expected body approver recorded, got %q", got.ResolvedBy)
	}
}

// ============================================================================
// Policies and templates
// ============================================================================

func TestPoliciesAndTemplates(t *testing.T) {
	f := newFixture(t, nil)

	policies := decode[struct{ Policies []PolicyView }](t, f.do(t, http.MethodGet, "/v1/policies", nil))
	if len(policies.Policies) != 2 || policies.Policies[0].Name != "reader" {
		t.Fatalf("unexpected policies %+v", policies.Policies)
	}

	rec := f.do(t, http.MethodGet, "/v1/policies/treasury", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"type":"human-approval"`) {
		t.Errorf("expected rule documents in %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/v1/policies/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	list := decode[struct{ Templates []templates.Summary }](t, f.do(t, http.MethodGet, "/v1/templates", nil))
	if len(list.Templates) < 6 {
		t.Errorf("expected built-in templates, got %d", len(list.Templates))
	}
	tv := decode[TemplateView](t, f.do(t, http.MethodGet, "/v1/templates/"+templates.BusinessHours, nil))
	if tv.Name != templates.BusinessHours || !tv.Builtin || len(tv.Params) == 0 {
		t.Errorf("unexpected template view %+v", tv)
	}
	if rec := f.do(t, http.MethodGet, "/v1/templates/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// ============================================================================
// Probes, metrics and middleware
// ============================================================================

func TestProbes(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("expected liveness 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("expected readiness 200, got %d", rec.Code)
	}
	if v := decode[health.VersionInfo](t, f.do(t, http.MethodGet, "/version", nil)); v.Version != "test" {
		t.Errorf("expected version test, got %q", v.Version)
	}

	f.checker.RegisterCheck("store", func(context.Context) error { return errors.New("disk full") })
	rec := f.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected readiness 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "disk full") {
		t.Errorf("expected failing check in body, got %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/v1/evaluate", `{"policy":"reader","action":{"type":"read"}}`)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `warden_http_requests_total{code="200",method="POST",route="/v1/evaluate"}`) {
		t.Errorf("expected request counter in metrics output")
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request ID")
	}
	rec = f.do(t, http.MethodGet, "/health", nil, RequestIDHeader, "abc-123")
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("expected propagated request ID, got %q", got)
	}
}

func TestRecoverPanics(t *testing.T) {
	f := newFixture(t, nil)
	h := f.srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error.Code != codeInternal {
		t.Errorf("expected internal error code, got %q", resp.Error.Code)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestServe_GracefulShutdown(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.ShutdownTimeout = time.Second })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + f.srv.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if err := f.srv.Serve(ctx, ln2); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
