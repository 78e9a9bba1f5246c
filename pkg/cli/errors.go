package cli

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitConfig  = 2
	ExitDenied  = 3
	ExitPending = 4
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DecisionError reports an evaluation that did not allow the action.
type DecisionError struct {
	Policy  string
	Reason  string
	Pending bool
}

func (e *DecisionError) Error() string {
	if e.Pending {
		return fmt.Sprintf("policy %s: approval pending: %s", e.Policy, e.Reason)
	}
	return fmt.Sprintf("policy %s denied action: %s", e.Policy, e.Reason)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	var cfgErr *ConfigError
	var decErr *DecisionError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &decErr):
		if decErr.Pending {
			return ExitPending
		}
		return ExitDenied
	case errors.As(err, &cfgErr):
		return ExitConfig
	default:
		return ExitError
	}
}
