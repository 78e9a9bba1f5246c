// Package health serves liveness, readiness and version probes.
//
// Readiness aggregates named checks run concurrently under a per-check
// timeout. Warden registers a ping check for each sqlite store, a check that
// templates are registered and one that the configured policies compiled.
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("spending_store", health.PingCheck(store))
//	checker.Register(mux, health.Paths{Liveness: "/health", Readiness: "/ready", Version: "/version"}, info)
package health
