package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/condition"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/telemetry/tracing"
	"mercator-hq/warden/pkg/templates"
	"mercator-hq/warden/pkg/timing"
)

const tracerName = "mercator-hq/warden/pkg/engine"

type ruleKind int

const (
	kindAuthorization ruleKind = iota
	kindCondition
	kindTiming
	kindPolicy
	kindApproval
	kindUnknown
)

type compiledRule struct {
	index    int
	ruleType string
	kind     ruleKind
	rule     rules.Rule
	instance policy.Policy
}

// Instance is a compiled policy. It is safe for concurrent use.
type Instance struct {
	policy *templates.Policy
	rules  []compiledRule

	// order evaluates approval rules last.
	order []int

	auth      *authorization.Checker
	timing    *timing.Recorder
	timingSet []timing.Rule
	approvals *approval.Engine

	stopOnFailure bool
	metrics       Metrics
	tracer        trace.Tracer
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Compile validates p and instantiates its stateful rules. opts may be nil.
func Compile(p *templates.Policy, opts *Options) (*Instance, error) {
	if p == nil {
		return nil, &CompileError{Rule: -1, Cause: errors.New("policy is nil")}
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := p.Validate(); err != nil {
		return nil, &CompileError{Policy: p.Name, Rule: -1, Cause: err}
	}

	inst := &Instance{
		policy:        p,
		auth:          authorization.NewChecker(authorization.WithRecoverer(opts.Recoverer)),
		timing:        timing.NewRecorder(opts.TimingState),
		stopOnFailure: opts.StopOnFirstFailure,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		logger:        opts.Logger,
		now:           opts.Clock,
	}
	if inst.metrics == nil {
		inst.metrics = nopMetrics{}
	}
	if inst.tracer == nil {
		inst.tracer = otel.Tracer(tracerName)
	}
	if inst.logger == nil {
		inst.logger = slog.Default()
	}
	inst.logger = inst.logger.With("component", "engine", "policy", p.Name)
	if inst.now == nil {
		inst.now = time.Now
	}

	ctx := context.Background()
	var approvalIdx []int
	for i, r := range p.Rules {
		cr := compiledRule{index: i, ruleType: r.RuleType(), rule: r}
		fail := func(err error) (*Instance, error) {
			inst.Close()
			return nil, &CompileError{Policy: p.Name, Rule: i, RuleType: cr.ruleType, Cause: err}
		}

		switch rr := r.(type) {
		case authorization.Rule:
			cr.kind = kindAuthorization
		case condition.Condition:
			cr.kind = kindCondition
		case timing.Rule:
			cr.kind = kindTiming
			inst.timingSet = append(inst.timingSet, rr)
		case policy.Rule:
			cr.kind = kindPolicy
			popts := []policy.Option{
				policy.WithClock(inst.now),
				policy.WithLogger(inst.logger.With("rule", i)),
				policy.WithKey(fmt.Sprintf("%s/%d", p.Name, i)),
			}
			if opts.SpendingStore != nil {
				popts = append(popts, policy.WithStore(opts.SpendingStore))
			}
			pol, err := policy.New(rr, popts...)
			if err != nil {
				return fail(err)
			}
			if sc, ok := pol.(*policy.SpendingCap); ok {
				if err := sc.Restore(ctx); err != nil {
					return fail(err)
				}
			}
			cr.instance = pol
		case approval.Config:
			cr.kind = kindApproval
			aopts := []approval.Option{
				approval.WithPolicyName(p.Name),
				approval.WithLogger(inst.logger),
				approval.WithClock(inst.now),
			}
			eng, err := approval.New(rr, append(aopts, opts.Approval...)...)
			if err != nil {
				return fail(err)
			}
			inst.approvals = eng
			approvalIdx = append(approvalIdx, i)
		default:
			cr.kind = kindUnknown
		}
		inst.rules = append(inst.rules, cr)
		if cr.kind != kindApproval {
			inst.order = append(inst.order, i)
		}
	}
	inst.order = append(inst.order, approvalIdx...)

	inst.logger.Debug("policy compiled",
		"template", p.Template,
		"rules", len(inst.rules),
		"approval", inst.approvals != nil,
	)
	return inst, nil
}

// Policy returns the compiled policy.
func (i *Instance) Policy() *templates.Policy { return i.policy }

// Approvals returns the approval engine, or nil when the policy has no
// human-approval rule.
func (i *Instance) Approvals() *approval.Engine { return i.approvals }

// Timing returns the recorder holding the instance's timing history.
func (i *Instance) Timing() *timing.Recorder { return i.timing }

// PolicyFor returns the stateful policy compiled from rule index.
func (i *Instance) PolicyFor(index int) (policy.Policy, bool) {
	if index < 0 || index >= len(i.rules) || i.rules[index].instance == nil {
		return nil, false
	}
	return i.rules[index].instance, true
}

type mode int

const (
	modeCheck mode = iota
	modeSubmit
	modeWait
)

// Evaluate decides in without blocking. Approval rules deny with status
// pending when they trigger.
func (i *Instance) Evaluate(ctx context.Context, in Input) Decision {
	d, _, _ := i.evaluate(ctx, in, modeCheck)
	return d
}

// Submit evaluates in and, when every other rule passes and approval is
// triggered, opens an approval request without waiting for it. The
// returned future is nil when no request was opened.
func (i *Instance) Submit(ctx context.Context, in Input) (Decision, *approval.Future, error) {
	return i.evaluate(ctx, in, modeSubmit)
}

// EvaluateAsync evaluates in, waiting for a human decision when approval
// is triggered.
func (i *Instance) EvaluateAsync(ctx context.Context, in Input) (Decision, error) {
	d, _, err := i.evaluate(ctx, in, modeWait)
	return d, err
}

func (i *Instance) evaluate(ctx context.Context, in Input, m mode) (Decision, *approval.Future, error) {
	start := i.now()
	ctx, span := i.tracer.Start(ctx, "engine.evaluate",
		trace.WithAttributes(tracing.ActionAttributes(i.policy.Name, in.Action.Type)...),
		trace.WithAttributes(attribute.Int(tracing.AttrRuleCount, len(i.rules))),
	)
	defer span.End()

	d := Decision{Policy: i.policy.Name, FailedRule: -1, EvaluatedAt: start}
	var future *approval.Future

	i.mu.RLock()
	closed := i.closed
	i.mu.RUnlock()
	if closed {
		d.Reason = ErrClosed.Error()
		span.SetStatus(codes.Error, d.Reason)
		return d, nil, ErrClosed
	}

	if i.policy.Expired(start) {
		d.Reason = ReasonExpired
		i.finish(span, &d, start)
		return d, nil, nil
	}

	for _, idx := range i.order {
		cr := i.rules[idx]
		var res rules.CheckResult
		if cr.kind == kindApproval {
			am := m
			if d.FailedRule >= 0 {
				am = modeCheck
			}
			ad, f, err := i.checkApproval(ctx, in, am)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				d.Reason = err.Error()
				return d, nil, err
			}
			future = f
			d.Approval = &ad
			res = ad.CheckResult()
		} else {
			res = i.check(cr, in)
		}

		i.metrics.RecordRuleResult(i.policy.Name, cr.ruleType, res.Passed)
		tracing.RuleEvent(span, idx, cr.ruleType, res.Passed)
		d.Results = append(d.Results, RuleResult{Index: idx, CheckResult: res})

		if !res.Passed && d.FailedRule < 0 {
			d.FailedRule = idx
			d.FailedType = cr.ruleType
			d.Reason = fmt.Sprintf("rule %d (%s) failed: %s", idx, cr.ruleType, res.Message)
			if i.stopOnFailure {
				break
			}
		}
	}

	if d.FailedRule < 0 {
		d.Allowed = true
		d.Reason = fmt.Sprintf("all %d rules passed", len(d.Results))
	}
	i.finish(span, &d, start)
	return d, future, nil
}

func (i *Instance) finish(span trace.Span, d *Decision, start time.Time) {
	d.Duration = i.now().Sub(start)
	tracing.SetDecisionAttributes(span, d.Allowed, d.FailedRule, d.Reason)
	if d.Approval != nil {
		tracing.SetApprovalAttributes(span, d.Approval.RequestID, string(d.Approval.Status))
	}
	i.metrics.RecordDecision(i.policy.Name, d.Allowed, d.Duration)
	i.logger.Debug("action evaluated",
		"allowed", d.Allowed,
		"failed_rule", d.FailedRule,
		"reason", d.Reason,
		"duration", d.Duration,
	)
}

func (i *Instance) check(cr compiledRule, in Input) rules.CheckResult {
	switch cr.kind {
	case kindAuthorization:
		raw := in.Proofs.lookup(cr.index, cr.ruleType)
		var proof authorization.Proof
		if raw != nil {
			p, ok := raw.(authorization.Proof)
			if !ok {
				return rules.InvalidProof(cr.ruleType, raw)
			}
			proof = p
		}
		return i.auth.Check(cr.rule.(authorization.Rule), in.Context, proof)
	case kindCondition:
		raw := in.Proofs.lookup(cr.index, cr.ruleType)
		var proof condition.Proof
		if raw != nil {
			p, ok := raw.(condition.Proof)
			if !ok {
				return rules.InvalidProof(cr.ruleType, raw)
			}
			proof = p
		}
		return condition.Check(cr.rule.(condition.Condition), in.Context, proof)
	case kindTiming:
		return i.timing.Check(cr.rule.(timing.Rule), in.Context)
	case kindPolicy:
		return cr.instance.Check(in.Action).CheckResult()
	default:
		if u, ok := cr.rule.(rules.Unknown); ok {
			return rules.CheckUnknown(u)
		}
		return rules.CheckUnknown(rules.Unknown{Type: cr.ruleType})
	}
}

func (i *Instance) checkApproval(ctx context.Context, in Input, m mode) (approval.Decision, *approval.Future, error) {
	switch m {
	case modeSubmit:
		f, err := i.approvals.Submit(ctx, in.Action)
		if err != nil {
			return approval.Decision{}, nil, err
		}
		if d, ok := f.Decision(); ok {
			return d, nil, nil
		}
		return approval.Decision{
			Status:    approval.StatusPending,
			Reason:    "awaiting human approval",
			RequestID: f.RequestID(),
			Triggers:  i.approvals.Matches(in.Action),
		}, f, nil
	case modeWait:
		d, err := i.approvals.CheckAsync(ctx, in.Action)
		return d, nil, err
	default:
		return i.approvals.Check(in.Action), nil, nil
	}
}

// RecordExecution updates the instance's state after in executed: spending
// counters, rate limit windows, cooldowns and timing history.
func (i *Instance) RecordExecution(ctx context.Context, in Input) error {
	i.mu.RLock()
	closed := i.closed
	i.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ctx, span := i.tracer.Start(ctx, "engine.record_execution",
		trace.WithAttributes(tracing.ActionAttributes(i.policy.Name, in.Action.Type)...),
	)
	defer span.End()

	var errs []error
	for _, cr := range i.rules {
		rec, ok := cr.instance.(policy.Recorder)
		if !ok {
			continue
		}
		if err := rec.Record(ctx, in.Action); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", cr.index, cr.ruleType, err))
			continue
		}
		if _, spend := cr.instance.(*policy.SpendingCap); spend {
			if amount, _, found, ok := in.Action.Amount(); found && ok {
				i.metrics.RecordSpend(i.policy.Name, amount)
			}
		}
	}
	if len(i.timingSet) > 0 {
		i.timing.RecordExecution(in.Context, i.timingSet...)
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Error("failed to record execution", "action", in.Action.Type, "error", err)
	}
	return err
}

// Close releases the instance. Pending approval requests are rejected.
func (i *Instance) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()
	if i.approvals != nil {
		i.approvals.Close()
	}
}
