package policy

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/warden/pkg/rules"
)

// Type is a policy rule tag.
type Type string

const (
	TypeSpendingCap        Type = "spending-cap"
	TypeActionWhitelist    Type = "action-whitelist"
	TypeActionBlacklist    Type = "action-blacklist"
	TypeRecipientWhitelist Type = "recipient-whitelist"
	TypeRateLimit          Type = "rate-limit"
	TypeActionCooldown     Type = "action-cooldown"
)

// Types lists every policy tag.
var Types = []Type{
	TypeSpendingCap, TypeActionWhitelist, TypeActionBlacklist,
	TypeRecipientWhitelist, TypeRateLimit, TypeActionCooldown,
}

// ErrInvalidConfig wraps policy configuration errors.
var ErrInvalidConfig = errors.New("invalid policy configuration")

func invalid(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, t, fmt.Sprintf(format, args...))
}

// Result is the outcome of a policy check.
type Result struct {
	Allowed bool           `json:"allowed"`
	Policy  string         `json:"policy"`
	Reason  string         `json:"reason,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func allow(t Type, reason string, data map[string]any) Result {
	return Result{Allowed: true, Policy: string(t), Reason: reason, Data: data}
}

func deny(t Type, reason string, data map[string]any) Result {
	return Result{Allowed: false, Policy: string(t), Reason: reason, Data: data}
}

// CheckResult converts r to the shared result shape.
func (r Result) CheckResult() rules.CheckResult {
	if r.Allowed {
		return rules.Pass(r.Policy, r.Reason, r.Data)
	}
	return rules.Fail(r.Policy, r.Reason, r.Data)
}

// Rule is a policy configuration.
type Rule interface {
	rules.Rule
	Validate() error

	instantiate(opts []Option) (Policy, error)
}

// Policy is a stateful policy instance.
type Policy interface {
	// Name returns the policy tag.
	Name() string

	// Check decides whether action may execute. It does not change state.
	Check(action rules.ActionInput) Result
}

// Recorder is implemented by policies that track executed actions.
type Recorder interface {
	// Record notes that action executed.
	Record(ctx context.Context, action rules.ActionInput) error
}

// New creates a policy instance from rule.
func New(rule Rule, opts ...Option) (Policy, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: nil rule", ErrInvalidConfig)
	}
	return rule.instantiate(opts)
}
