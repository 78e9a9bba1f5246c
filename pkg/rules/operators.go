package rules

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator is a numeric comparison operator.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "neq"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
)

// ParseOperator accepts the operator names as well as their symbolic forms.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "==", "=":
		return OpEqual, nil
	case "neq", "ne", "!=":
		return OpNotEqual, nil
	case "gt", ">":
		return OpGreaterThan, nil
	case "gte", "ge", ">=":
		return OpGreaterEqual, nil
	case "lt", "<":
		return OpLessThan, nil
	case "lte", "le", "<=":
		return OpLessEqual, nil
	default:
		return "", fmt.Errorf("unknown operator: %q", s)
	}
}

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	_, err := ParseOperator(string(o))
	return err == nil
}

// UnmarshalYAML normalizes symbolic operators to their names.
func (o *Operator) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	op, err := ParseOperator(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*o = op
	return nil
}

// UnmarshalJSON normalizes symbolic operators to their names.
func (o *Operator) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op, err := ParseOperator(raw)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Symbol returns the operator's mathematical symbol for messages.
func (o Operator) Symbol() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessEqual:
		return "<="
	default:
		return string(o)
	}
}

// Compare evaluates "actual op expected" over arbitrary-precision integers.
func Compare(op Operator, actual, expected *big.Int) (bool, error) {
	if actual == nil || expected == nil {
		return false, fmt.Errorf("cannot compare nil values")
	}

	// Accept symbolic spellings too.
	parsed, err := ParseOperator(string(op))
	if err != nil {
		return false, err
	}

	c := actual.Cmp(expected)
	switch parsed {
	case OpEqual:
		return c == 0, nil
	case OpNotEqual:
		return c != 0, nil
	case OpGreaterThan:
		return c > 0, nil
	case OpGreaterEqual:
		return c >= 0, nil
	case OpLessThan:
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

// CompareResult evaluates a comparison and renders the outcome as a
// CheckResult. It is the shared path for every numeric rule so messages stay
// uniform across families.
func CompareResult(ruleType, subject string, op Operator, actual, expected *big.Int, data map[string]any) CheckResult {
	ok, err := Compare(op, actual, expected)
	if err != nil {
		return Fail(ruleType, fmt.Sprintf("%s: %v", subject, err), data)
	}
	if data == nil {
		data = make(map[string]any, 3)
	}
	data["actual"] = actual.String()
	data["expected"] = expected.String()
	data["operator"] = string(op)

	msg := fmt.Sprintf("%s %s %s %s", subject, actual, op.Symbol(), expected)
	if !ok {
		return Fail(ruleType, fmt.Sprintf("%s: condition not met", msg), data)
	}
	return Pass(ruleType, msg, data)
}
