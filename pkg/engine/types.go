package engine

import (
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/policy/storage"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/timing"
)

// ReasonExpired is the decision reason for an expired policy.
const ReasonExpired = "policy expired"

// Input is one action to evaluate.
type Input struct {
	Action  rules.ActionInput         `json:"action"`
	Context rules.VerificationContext `json:"context"`
	Proofs  Proofs                    `json:"-"`
}

// Proofs holds caller-supplied proofs. A proof for a rule is looked up by
// the rule's index in the policy first, then by its type tag.
type Proofs struct {
	ByIndex map[int]any
	ByType  map[string]any
}

func (p Proofs) lookup(index int, ruleType string) any {
	if v, ok := p.ByIndex[index]; ok {
		return v
	}
	if v, ok := p.ByType[ruleType]; ok {
		return v
	}
	return nil
}

// Decision is the aggregate outcome of an evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Policy  string `json:"policy"`
	Reason  string `json:"reason"`

	// FailedRule is the index of the first failing rule, or -1.
	FailedRule int    `json:"failedRule"`
	FailedType string `json:"failedType,omitempty"`

	// Results holds one result per evaluated rule in evaluation order.
	// Approval rules are evaluated after every other rule.
	Results []RuleResult `json:"results"`

	// Approval is set when the policy has a human-approval rule that was
	// evaluated.
	Approval *approval.Decision `json:"approval,omitempty"`

	EvaluatedAt time.Time     `json:"evaluatedAt"`
	Duration    time.Duration `json:"durationNs"`
}

// RuleResult is the result of one rule.
type RuleResult struct {
	Index int `json:"index"`
	rules.CheckResult
}

// Metrics receives evaluation measurements.
type Metrics interface {
	RecordDecision(policy string, allowed bool, duration time.Duration)
	RecordRuleResult(policy, ruleType string, passed bool)
	RecordSpend(policy string, amount *big.Int)
}

type nopMetrics struct{}

func (nopMetrics) RecordDecision(string, bool, time.Duration) {}
func (nopMetrics) RecordRuleResult(string, string, bool)      {}
func (nopMetrics) RecordSpend(string, *big.Int)               {}

// Options configures Compile.
type Options struct {
	// StopOnFirstFailure ends evaluation at the first failing rule.
	StopOnFirstFailure bool

	// Recoverer recovers signers for signature proofs.
	Recoverer authorization.SignatureRecoverer

	// SpendingStore persists spending-cap counters. Counters are
	// restored from it at compile time.
	SpendingStore storage.Store

	// TimingState seeds the timing history. The instance keeps a copy.
	TimingState *timing.State

	// Approval options are passed to the policy's approval engine.
	Approval []approval.Option

	Metrics Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
	Clock   func() time.Time
}

// DefaultOptions returns options that stop at the first failure.
func DefaultOptions() *Options {
	return &Options{StopOnFirstFailure: true}
}
