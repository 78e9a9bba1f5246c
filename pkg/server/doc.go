// Package server exposes compiled policies and their approval queues over
// HTTP.
//
// # Routes
//
//   - POST /v1/evaluate: evaluate an action against a named policy
//   - POST /v1/executions: record that an allowed action executed
//   - GET /v1/approvals: pending approval requests, optionally ?policy=
//   - GET /v1/approvals/history: archived requests filtered by status,
//     policy, action, since, until and limit
//   - GET /v1/approvals/{id}: a pending, recent or archived request
//   - POST /v1/approvals/{id}/approve and /reject: resolve a request
//   - GET /v1/policies, /v1/policies/{name}: compiled policies
//   - GET /v1/templates, /v1/templates/{name}: registered templates
//   - liveness, readiness and version probes plus the metrics endpoint,
//     at the paths configured under telemetry
//
// # Evaluation modes
//
// The evaluate body selects a mode. "check" never opens approval requests
// and denies triggered actions as pending. "submit" (the default) opens a
// request and answers 202 Accepted with its id; a human then resolves it
// through the approvals endpoints. "wait" holds the call open until the
// request is resolved or engine.evaluate_timeout expires.
//
// Proofs are keyed by rule index ("0") or rule type ("multi-sig"):
//
//	{
//	  "policy": "treasury",
//	  "action": {"type": "transfer", "params": {"amount": "5000000000000000000"}},
//	  "context": {"sender": "0xA1..."},
//	  "proofs": {"multi-sig": {"signatures": [...]}},
//	  "mode": "submit"
//	}
//
// # Authentication
//
// When server.auth_token is set, POST routes require
// "Authorization: Bearer <token>". Read routes and probes are open.
//
// # Middleware
//
// Every request gets an X-Request-ID, is logged on completion and is
// recovered from panics. API routes additionally get a server span and
// request metrics labelled by route pattern.
package server
