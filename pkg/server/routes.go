package server

import (
	"net/http"
	"strings"

	"mercator-hq/warden/pkg/telemetry/health"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /v1/evaluate", s.handleEvaluate, true)
	s.handle(mux, "POST /v1/executions", s.handleRecordExecution, true)

	s.handle(mux, "GET /v1/approvals", s.handleListApprovals, false)
	s.handle(mux, "GET /v1/approvals/history", s.handleApprovalHistory, false)
	s.handle(mux, "GET /v1/approvals/{id}", s.handleGetApproval, false)
	s.handle(mux, "POST /v1/approvals/{id}/approve", s.handleApprove, true)
	s.handle(mux, "POST /v1/approvals/{id}/reject", s.handleReject, true)

	s.handle(mux, "GET /v1/policies", s.handleListPolicies, false)
	s.handle(mux, "GET /v1/policies/{name}", s.handleGetPolicy, false)
	s.handle(mux, "GET /v1/templates", s.handleListTemplates, false)
	s.handle(mux, "GET /v1/templates/{name}", s.handleGetTemplate, false)

	hc := s.cfg.Telemetry.Health
	s.deps.Health.Register(mux, health.Paths{
		Liveness:  hc.LivenessPath,
		Readiness: hc.ReadinessPath,
		Version:   hc.VersionPath,
	}, s.deps.Version)

	if s.deps.Metrics != nil && s.cfg.Telemetry.Metrics.MetricsEnabled() {
		mux.Handle("GET "+s.cfg.Telemetry.Metrics.Path, s.deps.Metrics.Handler())
	}

	var h http.Handler = mux
	h = s.logRequests(h)
	h = requestID(h)
	h = s.recoverPanics(h)
	return h
}

// handle registers fn under pattern with per-route tracing, metrics and,
// for mutating routes, bearer authentication.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc, mutating bool) {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	var h http.Handler = fn
	if mutating {
		h = s.limitBody(h)
		h = s.authenticate(h)
	}
	if s.deps.Metrics != nil {
		h = s.deps.Metrics.Middleware(route, h)
	}
	if s.deps.Tracer != nil {
		h = s.deps.Tracer.Middleware(route, h)
	}
	mux.Handle(pattern, h)
}
