package rules

import (
	"errors"
	"fmt"
)

// CheckResult is the outcome of evaluating one rule. It is the contract every
// caller consumes, regardless of the rule family.
type CheckResult struct {
	Passed   bool           `json:"passed"`
	RuleType string         `json:"ruleType"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// ErrInvalidResult is returned by Validate for a failed result without a message.
var ErrInvalidResult = errors.New("failed check result must carry a message")

// Pass builds a passing result.
func Pass(ruleType, message string, data map[string]any) CheckResult {
	return CheckResult{Passed: true, RuleType: ruleType, Message: message, Data: data}
}

// Fail builds a failing result. A failed result always carries a message.
func Fail(ruleType, message string, data map[string]any) CheckResult {
	if message == "" {
		message = fmt.Sprintf("%s check failed", ruleType)
	}
	return CheckResult{Passed: false, RuleType: ruleType, Message: message, Data: data}
}

// ProofRequired is the result for a rule that cannot be decided without proof.
func ProofRequired(ruleType string) CheckResult {
	return Fail(ruleType, fmt.Sprintf("%s: proof required", ruleType), nil)
}

// InvalidProof is the result for a proof of the wrong shape.
func InvalidProof(ruleType string, proof any) CheckResult {
	return Fail(ruleType, fmt.Sprintf("%s: invalid proof type %T", ruleType, proof), nil)
}

// Validate reports whether the result satisfies the result invariants.
func (r CheckResult) Validate() error {
	if !r.Passed && r.Message == "" {
		return ErrInvalidResult
	}
	return nil
}

// String renders the result for logs and CLI output.
func (r CheckResult) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	if r.Message == "" {
		return fmt.Sprintf("[%s] %s", status, r.RuleType)
	}
	return fmt.Sprintf("[%s] %s: %s", status, r.RuleType, r.Message)
}
