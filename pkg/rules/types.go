package rules

import (
	"fmt"
	"math/big"
	"time"
)

// Family groups rule kinds that share a checker.
type Family string

const (
	FamilyAuthorization Family = "authorization"
	FamilyCondition     Family = "condition"
	FamilyTiming        Family = "timing"
	FamilyPolicy        Family = "policy"
	FamilyApproval      Family = "approval"
	FamilyUnknown       Family = "unknown"
)

// UnknownRuleType is the rule type reported for rules whose tag is not recognised.
const UnknownRuleType = "unknown"

// ActionInput is the action an agent proposes to execute.
type ActionInput struct {
	// Type identifies the action (e.g. "transfer", "read:balance").
	Type string `json:"type" yaml:"type"`

	// Params carries action parameters. Values may be strings, numbers,
	// booleans or arbitrary-precision integers.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param returns the named parameter and whether it is present.
func (a ActionInput) Param(name string) (any, bool) {
	if a.Params == nil {
		return nil, false
	}
	v, ok := a.Params[name]
	return v, ok
}

// StringParam returns the named parameter formatted as a string.
func (a ActionInput) StringParam(name string) (string, bool) {
	v, ok := a.Param(name)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// AmountParams are the parameters an action's amount is read from, in order.
var AmountParams = []string{"amount", "value", "wei", "quantity"}

// Amount returns the first amount parameter of the action. found is false
// when no candidate parameter is present; ok is false when one is present
// but is not an integer.
func (a ActionInput) Amount() (amount *big.Int, param string, found, ok bool) {
	for _, name := range AmountParams {
		v, present := a.Param(name)
		if !present || v == nil {
			continue
		}
		n, valid := ToBigInt(v)
		return n, name, true, valid
	}
	return nil, "", false, false
}

// VerificationContext is the snapshot an action is evaluated against.
type VerificationContext struct {
	// Sender is the address proposing the action.
	Sender string `json:"sender" yaml:"sender"`

	// Timestamp is the evaluation instant.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// BlockPosition is a monotonically increasing ordinal used by
	// block-relative timing rules.
	BlockPosition uint64 `json:"blockPosition" yaml:"block_position"`

	// Data carries optional caller-supplied context fields.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Field returns a context data field formatted as a string.
func (c VerificationContext) Field(name string) (string, bool) {
	if c.Data == nil {
		return "", false
	}
	v, ok := c.Data[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

// Rule is implemented by every rule configuration. Rules are immutable
// values; replacing a rule replaces the whole configuration.
type Rule interface {
	// RuleType returns the rule tag (e.g. "threshold", "price-check").
	RuleType() string

	// Family returns the checker family the rule belongs to.
	Family() Family
}

// Unknown is a rule whose type tag was not recognised when decoding.
// Evaluating it never panics; it always yields a failed result.
type Unknown struct {
	Type string
}

// RuleType implements Rule.
func (u Unknown) RuleType() string { return UnknownRuleType }

// Family implements Rule.
func (u Unknown) Family() Family { return FamilyUnknown }

// CheckUnknown returns the result for an unrecognised rule.
func CheckUnknown(u Unknown) CheckResult {
	return Fail(UnknownRuleType, fmt.Sprintf("unknown rule type %q", u.Type), map[string]any{"type": u.Type})
}
