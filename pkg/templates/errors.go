package templates

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("template not found")
	ErrBuiltin       = errors.New("built-in templates cannot be modified")
	ErrInvalidName   = errors.New("template name must not be empty")
	ErrNoRules       = errors.New("template has no rules")
	ErrUnknownParam  = errors.New("unknown template parameter")
	ErrMissingParam  = errors.New("missing required template parameter")
	ErrDuplicateName = errors.New("duplicate template name")
)

// LoadError reports a template file that could not be read.
type LoadError struct {
	FilePath string
	Message  string
	Cause    error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load template file %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load template file %q: %s", e.FilePath, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// ValidationError reports an invalid template or rule.
type ValidationError struct {
	Template string
	Rule     int
	Message  string
	Cause    error
}

func (e *ValidationError) Error() string {
	parts := []string{"validation error"}
	if e.Template != "" {
		parts = append(parts, fmt.Sprintf("in template %q", e.Template))
	}
	if e.Rule >= 0 {
		parts = append(parts, fmt.Sprintf("at rules[%d]", e.Rule))
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	parts = append(parts, msg)
	return strings.Join(parts, " ")
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ErrorList collects errors from loading several files.
type ErrorList struct {
	Errors []error
}

func (e *ErrorList) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %v\n", i+1, err)
	}
	return sb.String()
}

func (e *ErrorList) Unwrap() []error { return e.Errors }

// Add appends err if it is not nil.
func (e *ErrorList) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// ToError returns nil, the single error, or the list.
func (e *ErrorList) ToError() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	}
	return e
}
