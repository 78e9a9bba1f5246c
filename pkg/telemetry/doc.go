// Package telemetry groups Warden's observability packages.
//
// # Components
//
//   - logging: slog construction from config, request-scoped attributes and
//     redaction of private keys, signatures and bearer tokens
//   - metrics: Prometheus collectors for decisions, rule results, spending,
//     approvals, template reloads and HTTP traffic
//   - tracing: OpenTelemetry spans around evaluation, approval webhooks and
//     HTTP routes, exported over OTLP
//   - health: liveness, readiness and version endpoints backed by named
//     checks
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(ctx)
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("policies", health.PoliciesCheck(set.Len, 1))
//
// The collector implements the engine and approval Metrics interfaces, so
// the same value is passed to engine.Options and approval.WithMetrics.
package telemetry
