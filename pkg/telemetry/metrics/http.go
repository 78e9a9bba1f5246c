package metrics

import (
	"net/http"
	"strconv"
	"time"

	"mercator-hq/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks API requests.
//
// Metrics:
//   - warden_http_requests_total: requests by route, method and status code
//   - warden_http_request_duration_seconds: request latency by route
//   - warden_template_reloads_total: template directory reloads by result
//   - warden_templates_loaded: templates currently registered
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reloadsTotal    *prometheus.CounterVec
	templatesLoaded prometheus.Gauge
}

// NewHTTPMetrics creates and registers API metrics.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry prometheus.Registerer) *HTTPMetrics {
	hm := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"route", "method", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "template_reloads_total",
				Help:      "Total number of template directory reloads",
			},
			[]string{"result"},
		),

		templatesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "templates_loaded",
				Help:      "Number of templates currently registered",
			},
		),
	}

	registry.MustRegister(hm.requestsTotal, hm.requestDuration, hm.reloadsTotal, hm.templatesLoaded)
	return hm
}

// RecordRequest counts one API request.
func (hm *HTTPMetrics) RecordRequest(route, method string, code int, duration time.Duration) {
	hm.requestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	hm.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordTemplateReload counts a reload and sets the loaded template count.
func (hm *HTTPMetrics) RecordTemplateReload(err error, loaded int) {
	result := "success"
	if err != nil {
		result = "error"
	}
	hm.reloadsTotal.WithLabelValues(result).Inc()
	hm.templatesLoaded.Set(float64(loaded))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
