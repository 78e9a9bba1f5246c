package metrics

import (
	"time"

	"mercator-hq/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ApprovalMetrics tracks human approval requests.
//
// Metrics:
//   - warden_approvals_requested_total: requests opened by channel
//   - warden_approvals_resolved_total: requests resolved by channel and status
//   - warden_approval_wait_seconds: time from request to resolution
//   - warden_approvals_pending: requests awaiting a human
//   - warden_approval_notification_failures_total: failed notifications by channel
type ApprovalMetrics struct {
	requested     *prometheus.CounterVec
	resolved      *prometheus.CounterVec
	wait          *prometheus.HistogramVec
	pending       prometheus.Gauge
	notifyFailure *prometheus.CounterVec
}

// NewApprovalMetrics creates and registers approval metrics.
func NewApprovalMetrics(cfg *config.MetricsConfig, registry prometheus.Registerer) *ApprovalMetrics {
	am := &ApprovalMetrics{
		requested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approvals_requested_total",
				Help:      "Total number of approval requests opened",
			},
			[]string{"channel"},
		),

		resolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approvals_resolved_total",
				Help:      "Total number of approval requests resolved",
			},
			[]string{"channel", "status"},
		),

		wait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approval_wait_seconds",
				Help:      "Time between an approval request and its resolution",
				Buckets:   cfg.ApprovalWaitBuckets,
			},
			[]string{"channel"},
		),

		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approvals_pending",
				Help:      "Number of approval requests awaiting resolution",
			},
		),

		notifyFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approval_notification_failures_total",
				Help:      "Total number of approval notifications that could not be delivered",
			},
			[]string{"channel"},
		),
	}

	registry.MustRegister(am.requested, am.resolved, am.wait, am.pending, am.notifyFailure)
	return am
}

func (am *ApprovalMetrics) RecordApprovalRequested(channel string) {
	am.requested.WithLabelValues(channel).Inc()
}

func (am *ApprovalMetrics) RecordApprovalResolved(channel, status string, wait time.Duration) {
	am.resolved.WithLabelValues(channel, status).Inc()
	am.wait.WithLabelValues(channel).Observe(wait.Seconds())
}

func (am *ApprovalMetrics) SetApprovalsPending(n int) {
	am.pending.Set(float64(n))
}

func (am *ApprovalMetrics) RecordNotificationFailure(channel string) {
	am.notifyFailure.WithLabelValues(channel).Inc()
}
