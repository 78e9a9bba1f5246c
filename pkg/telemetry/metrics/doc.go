// Package metrics exposes Warden's Prometheus metrics.
//
// A single Collector records authorization decisions, per-rule results,
// committed spend, the approval lifecycle and API traffic. It implements
// both engine.Metrics and approval.Metrics:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	inst, err := engine.Compile(policy, &engine.Options{Metrics: collector, ...})
//	mux.Handle("/metrics", collector.Handler())
//
// Policy names are label values; after 1000 distinct names further policies
// are reported as "other".
package metrics
