package engine

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed instance.
var ErrClosed = errors.New("policy instance closed")

// CompileError reports a rule that could not be instantiated.
type CompileError struct {
	Policy   string
	Rule     int
	RuleType string
	Cause    error
}

func (e *CompileError) Error() string {
	if e.Rule < 0 {
		return fmt.Sprintf("compile policy %q: %v", e.Policy, e.Cause)
	}
	return fmt.Sprintf("compile policy %q: rule %d (%s): %v", e.Policy, e.Rule, e.RuleType, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }
