package metrics

import (
	"math/big"
	"net/http"
	"sync"
	"time"

	"mercator-hq/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// overflowLabel replaces policy names once the cardinality limit is reached.
const overflowLabel = "other"

// Collector owns every Warden metric. It satisfies the engine and approval
// Metrics interfaces, so one collector can be handed to both.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisions *DecisionMetrics
	approvals *ApprovalMetrics
	http      *HTTPMetrics

	policies *CardinalityLimiter
}

// NewCollector creates a collector registering into registry. A nil registry
// gets a fresh one with the Go runtime and process collectors.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	opts.Metrics = collector
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		cfg.EvaluationDurationBuckets = config.DefaultEvaluationDurationBuckets
	}
	if len(cfg.ApprovalWaitBuckets) == 0 {
		cfg.ApprovalWaitBuckets = config.DefaultApprovalWaitBuckets
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		decisions: NewDecisionMetrics(cfg, registry),
		approvals: NewApprovalMetrics(cfg, registry),
		http:      NewHTTPMetrics(cfg, registry),
		policies:  NewCardinalityLimiter(1000),
	}
}

func (c *Collector) enabled() bool { return c.config.MetricsEnabled() }

func (c *Collector) policyLabel(policy string) string {
	if c.policies.Allow(policy) {
		return policy
	}
	return overflowLabel
}

// RecordDecision records the outcome and latency of one evaluation.
func (c *Collector) RecordDecision(policy string, allowed bool, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.decisions.RecordDecision(c.policyLabel(policy), allowed, duration)
}

// RecordRuleResult records one rule's result within an evaluation.
func (c *Collector) RecordRuleResult(policy, ruleType string, passed bool) {
	if !c.enabled() {
		return
	}
	c.decisions.RecordRuleResult(c.policyLabel(policy), ruleType, passed)
}

// RecordSpend records spend committed by an executed action.
func (c *Collector) RecordSpend(policy string, amount *big.Int) {
	if !c.enabled() {
		return
	}
	c.decisions.RecordSpend(c.policyLabel(policy), amount)
}

// RecordApprovalRequested records an approval request being opened.
func (c *Collector) RecordApprovalRequested(channel string) {
	if !c.enabled() {
		return
	}
	c.approvals.RecordApprovalRequested(channel)
}

// RecordApprovalResolved records a request reaching a terminal status.
func (c *Collector) RecordApprovalResolved(channel, status string, wait time.Duration) {
	if !c.enabled() {
		return
	}
	c.approvals.RecordApprovalResolved(channel, status, wait)
}

// SetApprovalsPending sets the number of outstanding requests.
func (c *Collector) SetApprovalsPending(n int) {
	if !c.enabled() {
		return
	}
	c.approvals.SetApprovalsPending(n)
}

// RecordNotificationFailure records an undeliverable notification.
func (c *Collector) RecordNotificationFailure(channel string) {
	if !c.enabled() {
		return
	}
	c.approvals.RecordNotificationFailure(channel)
}

// RecordTemplateReload records a template directory reload.
func (c *Collector) RecordTemplateReload(err error, loaded int) {
	if !c.enabled() {
		return
	}
	c.http.RecordTemplateReload(err, loaded)
}

// Middleware records request count and latency under route.
func (c *Collector) Middleware(route string, next http.Handler) http.Handler {
	if !c.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.http.RecordRequest(route, r.Method, rec.code, time.Since(start))
	})
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter bounds the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits under the
// limit, tracking it in the latter case.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
