package metrics

import (
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ engine.Metrics   = (*Collector)(nil)
	_ approval.Metrics = (*Collector)(nil)
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Namespace:                 "test",
		EvaluationDurationBuckets: []float64{0.001, 0.01, 0.1},
		ApprovalWaitBuckets:       []float64{1, 10, 60},
	}
}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(testConfig(), prometheus.NewRegistry())
}

// ==================== Decisions ====================

func TestCollector_RecordDecision(t *testing.T) {
	c := newTestCollector(t)

	c.RecordDecision("treasury", true, 2*time.Millisecond)
	c.RecordDecision("treasury", false, time.Millisecond)
	c.RecordDecision("treasury", false, time.Millisecond)

	if got := testutil.ToFloat64(c.decisions.decisionsTotal.WithLabelValues("treasury", "allow")); got != 1 {
		t.Errorf("expected 1 allow, got %v", got)
	}
	if got := testutil.ToFloat64(c.decisions.decisionsTotal.WithLabelValues("treasury", "deny")); got != 2 {
		t.Errorf("expected 2 deny, got %v", got)
	}
	if n := testutil.CollectAndCount(c.decisions.decisionDuration); n != 1 {
		t.Errorf("expected 1 duration series, got %d", n)
	}
}

func TestCollector_RecordRuleResult(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRuleResult("p", "spending-cap", true)
	c.RecordRuleResult("p", "spending-cap", false)
	c.RecordRuleResult("p", "multi-sig", true)

	expected := `
# HELP test_rule_results_total Total number of rule evaluations by result
# TYPE test_rule_results_total counter
test_rule_results_total{policy="p",result="fail",rule_type="spending-cap"} 1
test_rule_results_total{policy="p",result="pass",rule_type="multi-sig"} 1
test_rule_results_total{policy="p",result="pass",rule_type="spending-cap"} 1
`
	if err := testutil.CollectAndCompare(c.decisions.ruleResults, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestCollector_RecordSpend(t *testing.T) {
	c := newTestCollector(t)

	c.RecordSpend("p", big.NewInt(1500))
	c.RecordSpend("p", big.NewInt(500))
	c.RecordSpend("p", big.NewInt(-5))
	c.RecordSpend("p", nil)

	if got := testutil.ToFloat64(c.decisions.spendTotal.WithLabelValues("p")); got != 2000 {
		t.Errorf("expected spend 2000, got %v", got)
	}
}

func TestCollector_PolicyCardinality(t *testing.T) {
	c := newTestCollector(t)
	c.policies = NewCardinalityLimiter(2)

	c.RecordDecision("a", true, 0)
	c.RecordDecision("b", true, 0)
	c.RecordDecision("c", true, 0)

	if got := testutil.ToFloat64(c.decisions.decisionsTotal.WithLabelValues(overflowLabel, "allow")); got != 1 {
		t.Errorf("expected third policy folded into %q, got %v", overflowLabel, got)
	}
}

// ==================== Approvals ====================

func TestCollector_ApprovalLifecycle(t *testing.T) {
	c := newTestCollector(t)

	c.RecordApprovalRequested("webhook")
	c.SetApprovalsPending(1)
	c.RecordApprovalResolved("webhook", "approved", 5*time.Second)
	c.SetApprovalsPending(0)
	c.RecordNotificationFailure("webhook")

	if got := testutil.ToFloat64(c.approvals.requested.WithLabelValues("webhook")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
	if got := testutil.ToFloat64(c.approvals.resolved.WithLabelValues("webhook", "approved")); got != 1 {
		t.Errorf("expected 1 resolution, got %v", got)
	}
	if got := testutil.ToFloat64(c.approvals.pending); got != 0 {
		t.Errorf("expected 0 pending, got %v", got)
	}
	if got := testutil.ToFloat64(c.approvals.notifyFailure.WithLabelValues("webhook")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
}

// ==================== HTTP ====================

func TestCollector_Middleware(t *testing.T) {
	c := newTestCollector(t)

	h := c.Middleware("/v1/evaluate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil))

	if got := testutil.ToFloat64(c.http.requestsTotal.WithLabelValues("/v1/evaluate", "POST", "403")); got != 1 {
		t.Errorf("expected 1 request with 403, got %v", got)
	}
}

func TestCollector_RecordTemplateReload(t *testing.T) {
	c := newTestCollector(t)

	c.RecordTemplateReload(nil, 8)
	c.RecordTemplateReload(errors.New("bad yaml"), 8)

	if got := testutil.ToFloat64(c.http.reloadsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed reload, got %v", got)
	}
	if got := testutil.ToFloat64(c.http.templatesLoaded); got != 8 {
		t.Errorf("expected 8 templates, got %v", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Enabled = &off
	c := NewCollector(cfg, prometheus.NewRegistry())

	c.RecordDecision("p", true, time.Millisecond)
	c.RecordApprovalRequested("poll")

	if n := testutil.CollectAndCount(c.decisions.decisionsTotal); n != 0 {
		t.Errorf("expected no series when disabled, got %d", n)
	}
	inner := http.NotFoundHandler()
	if c.Middleware("/x", inner) == nil {
		t.Error("expected handler")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector(t)
	c.RecordDecision("p", true, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_decisions_total{outcome="allow",policy="p"} 1`) {
		t.Errorf("expected decision metric in output, got:\n%s", rec.Body.String())
	}
}

func TestNewCollector_DefaultRegistry(t *testing.T) {
	c := NewCollector(&config.MetricsConfig{}, nil)
	if c.Registry() == nil {
		t.Fatal("expected registry")
	}
	if c.config.Namespace != config.DefaultMetricsNamespace {
		t.Errorf("expected default namespace, got %s", c.config.Namespace)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") || !cl.Allow("a") {
		t.Error("expected first two values admitted")
	}
	if cl.Allow("c") {
		t.Error("expected third value rejected")
	}
	if cl.Count() != 2 {
		t.Errorf("expected count 2, got %d", cl.Count())
	}
}
