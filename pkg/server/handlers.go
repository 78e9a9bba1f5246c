package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/approval/archive"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/engine"
	"mercator-hq/warden/pkg/ruledoc"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/security/auth"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/templates"
)

// Evaluation modes.
const (
	// ModeCheck never opens approval requests.
	ModeCheck = "check"
	// ModeSubmit opens approval requests and answers 202 while pending.
	ModeSubmit = "submit"
	// ModeWait blocks until a human resolves the request or the evaluate
	// timeout expires.
	ModeWait = "wait"
)

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Policy  string                     `json:"policy"`
	Action  rules.ActionInput          `json:"action"`
	Context rules.VerificationContext  `json:"context"`
	Proofs  map[string]json.RawMessage `json:"proofs,omitempty"`

	// Mode is check, submit or wait. Default: submit
	Mode string `json:"mode,omitempty"`

	// Record records the execution when the action is allowed.
	Record bool `json:"record,omitempty"`
}

// EvaluateResponse is the body returned by POST /v1/evaluate.
type EvaluateResponse struct {
	engine.Decision
	Recorded    bool   `json:"recorded,omitempty"`
	RecordError string `json:"recordError,omitempty"`
}

// ExecutionRequest is the body of POST /v1/executions.
type ExecutionRequest struct {
	Policy  string                    `json:"policy"`
	Action  rules.ActionInput         `json:"action"`
	Context rules.VerificationContext `json:"context"`
}

// ResolveRequest is the optional body of the approve and reject endpoints.
// An authenticated caller's identity overrides Approver.
type ResolveRequest struct {
	Approver string `json:"approver,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// PolicyView describes a compiled policy.
type PolicyView struct {
	Name        string       `json:"name"`
	Template    string       `json:"template,omitempty"`
	Description string       `json:"description,omitempty"`
	Rules       ruledoc.List `json:"rules"`
	ExpiresAt   time.Time    `json:"expiresAt,omitzero"`
	Expired     bool         `json:"expired"`
	Pending     int          `json:"pendingApprovals"`
}

// TemplateView describes a template with its rules.
type TemplateView struct {
	templates.Summary
	Params []templates.Param `json:"paramDetails,omitempty"`
	Rules  ruledoc.List      `json:"rules"`
	Source string            `json:"source,omitempty"`
}

func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeErr(w, err)
		return
	}
	writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Policy == "" || req.Action.Type == "" {
		badRequest(w, errors.New("policy and action.type are required"))
		return
	}
	if req.Mode == "" {
		req.Mode = ModeSubmit
	}

	inst, err := s.deps.Policies.Get(req.Policy)
	if err != nil {
		writeErr(w, err)
		return
	}
	proofs, err := engine.DecodeProofs(inst.Policy(), req.Proofs)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = time.Now().UTC()
	}
	in := engine.Input{Action: req.Action, Context: req.Context, Proofs: proofs}
	ctx := logging.WithPolicy(r.Context(), req.Policy)

	var d engine.Decision
	status := http.StatusOK
	switch req.Mode {
	case ModeCheck:
		d = inst.Evaluate(ctx, in)
	case ModeSubmit:
		// Callback approvers outlive the HTTP request.
		var f *approval.Future
		d, f, err = inst.Submit(context.WithoutCancel(ctx), in)
		if f != nil {
			status = http.StatusAccepted
		}
	case ModeWait:
		wctx := ctx
		if timeout := s.cfg.Engine.EvaluateTimeout; timeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		d, err = inst.EvaluateAsync(wctx, in)
	default:
		badRequest(w, fmt.Errorf("unknown mode %q", req.Mode))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := EvaluateResponse{Decision: d}
	if d.Allowed && req.Record {
		if err := inst.RecordExecution(ctx, in); err != nil {
			resp.RecordError = err.Error()
		} else {
			resp.Recorded = true
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleRecordExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecutionRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	inst, err := s.deps.Policies.Get(req.Policy)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = time.Now().UTC()
	}
	ctx := logging.WithPolicy(r.Context(), req.Policy)
	if err := inst.RecordExecution(ctx, engine.Input{Action: req.Action, Context: req.Context}); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.deps.Policies.PendingApprovals(r.URL.Query().Get("policy"))
	if pending == nil {
		pending = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": pending})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, req, err := s.deps.Policies.FindApproval(id); err == nil {
		writeJSON(w, http.StatusOK, req)
		return
	}
	if s.deps.Archive != nil {
		req, err := s.deps.Archive.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, req)
			return
		}
		if !errors.Is(err, archive.ErrNotFound) {
			writeErr(w, err)
			return
		}
	}
	writeErr(w, fmt.Errorf("%w: %s", approval.ErrRequestNotFound, id))
}

func (s *Server) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusNotImplemented, codeUnavailable, "approval archive is not enabled")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	reqs, err := s.deps.Archive.Query(r.Context(), q)
	if err != nil {
		writeErr(w, err)
		return
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func parseQuery(r *http.Request) (archive.Query, error) {
	v := r.URL.Query()
	q := archive.Query{
		Status: approval.Status(v.Get("status")),
		Policy: v.Get("policy"),
		Action: v.Get("action"),
	}
	for name, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		if raw := v.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return q, fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = t
		}
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("invalid limit: %w", err)
		}
		q.Limit = n
	}
	return q, q.Validate()
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, false)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, approve bool) {
	id := r.PathValue("id")
	var body ResolveRequest
	if err := decodeBody(r, &body, true); err != nil {
		badRequest(w, fmt.Errorf("invalid request body: %w", err))
		return
	}

	eng, _, err := s.deps.Policies.FindApproval(id)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %s", err, id))
		return
	}
	approver := body.Approver
	if caller, ok := auth.FromContext(r.Context()); ok {
		approver = caller.Name
	}
	if approve {
		err = eng.ApproveAs(id, approver)
	} else {
		err = eng.RejectAs(id, approver, body.Reason)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	ctx := logging.WithApprovalID(r.Context(), id)
	s.logger.InfoContext(ctx, "approval resolved via api",
		"approved", approve,
		"approver", approver,
		"reason", body.Reason,
	)
	req, _ := eng.GetRequest(id)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Policies.Names()
	out := make([]PolicyView, 0, len(names))
	for _, name := range names {
		inst, err := s.deps.Policies.Get(name)
		if err != nil {
			continue
		}
		out = append(out, policyView(inst))
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": out})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	inst, err := s.deps.Policies.Get(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyView(inst))
}

func policyView(inst *engine.Instance) PolicyView {
	p := inst.Policy()
	v := PolicyView{
		Name:        p.Name,
		Template:    p.Template,
		Description: p.Description,
		Rules:       ruledoc.List(p.Rules),
		ExpiresAt:   p.ExpiresAt,
		Expired:     p.Expired(time.Now()),
	}
	if eng := inst.Approvals(); eng != nil {
		v.Pending = len(eng.PendingRequests())
	}
	return v
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": s.deps.Templates.List(),
		"version":   s.deps.Templates.Version(),
		"loadedAt":  s.deps.Templates.LoadTime(),
	})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	t, ok := s.deps.Templates.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("%v: %q", templates.ErrNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, TemplateView{
		Summary: t.Summary(),
		Params:  t.Params,
		Rules:   t.Rules,
		Source:  t.Source,
	})
}

func isProbe(path string, cfg *config.Config) bool {
	h := cfg.Telemetry.Health
	return path == h.LivenessPath || path == h.ReadinessPath || path == cfg.Telemetry.Metrics.Path
}
