package metrics

import (
	"math/big"
	"time"

	"mercator-hq/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks policy evaluation.
//
// Metrics:
//   - warden_decisions_total: decisions by policy and outcome
//   - warden_decision_duration_seconds: evaluation latency by policy
//   - warden_rule_results_total: per-rule results by policy, rule type and result
//   - warden_spend_total: recorded spend in base units by policy
type DecisionMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	ruleResults      *prometheus.CounterVec
	spendTotal       *prometheus.CounterVec
}

// NewDecisionMetrics creates and registers decision metrics.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry prometheus.Registerer) *DecisionMetrics {
	dm := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"policy", "outcome"},
		),

		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decision_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
			[]string{"policy"},
		),

		ruleResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_results_total",
				Help:      "Total number of rule evaluations by result",
			},
			[]string{"policy", "rule_type", "result"},
		),

		spendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "spend_total",
				Help:      "Total recorded spend in base units (approximate above 2^53)",
			},
			[]string{"policy"},
		),
	}

	registry.MustRegister(
		dm.decisionsTotal,
		dm.decisionDuration,
		dm.ruleResults,
		dm.spendTotal,
	)

	return dm
}

// RecordDecision counts a decision and observes its latency.
func (dm *DecisionMetrics) RecordDecision(policy string, allowed bool, duration time.Duration) {
	dm.decisionsTotal.WithLabelValues(policy, outcome(allowed)).Inc()
	dm.decisionDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// RecordRuleResult counts one rule evaluation.
func (dm *DecisionMetrics) RecordRuleResult(policy, ruleType string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	dm.ruleResults.WithLabelValues(policy, ruleType, result).Inc()
}

// RecordSpend adds amount to the policy's spend counter. Negative amounts
// are ignored.
func (dm *DecisionMetrics) RecordSpend(policy string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	dm.spendTotal.WithLabelValues(policy).Add(f)
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
