// Package tracing provides OpenTelemetry tracing for Warden.
//
// New installs a global tracer provider exporting to an OTLP gRPC collector
// and W3C Trace Context propagation. The engine emits "engine.evaluate" and
// "engine.record_execution" spans with warden.* attributes, one "rule" event
// per evaluated rule; the API server wraps each request in a server span
// and approval webhooks carry the traceparent header.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(ctx)
//	opts.Tracer = tracer.Tracer()
//
// # Sampling
//
//   - always: sample every trace
//   - never: sample nothing
//   - ratio, parent_based: follow the caller's decision and sample root
//     spans by sample_ratio
package tracing
