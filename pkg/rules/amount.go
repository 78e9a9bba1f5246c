package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"gopkg.in/yaml.v3"
)

// Amount is an arbitrary-precision integer used for balances, caps and
// thresholds. The zero Amount is unset.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount holding x.
func NewAmount(x int64) Amount {
	return Amount{v: big.NewInt(x)}
}

// AmountFromBig returns an Amount holding a copy of x. A nil x yields an unset Amount.
func AmountFromBig(x *big.Int) Amount {
	if x == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(x)}
}

// ParseAmount parses a decimal, 0x-hex or integral scientific-notation string.
// Underscore digit separators are accepted.
func ParseAmount(s string) (Amount, error) {
	v, err := parseBigInt(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{v: v}, nil
}

// MustAmount is like ParseAmount but panics on error. It is intended for
// built-in configuration and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsSet reports whether the amount holds a value.
func (a Amount) IsSet() bool {
	return a.v != nil
}

// IsZero reports whether the amount is unset, so omitempty and omitzero
// drop unset amounts when encoding.
func (a Amount) IsZero() bool {
	return a.v == nil
}

// Int returns a copy of the value. An unset Amount yields zero.
func (a Amount) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

// Cmp compares two amounts; unset amounts compare as zero.
func (a Amount) Cmp(b Amount) int {
	return a.Int().Cmp(b.Int())
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

// String returns the decimal representation.
func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// MarshalJSON encodes the amount as a decimal string so no precision is lost.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts JSON numbers and strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		a.v = nil
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := parseBigInt(s)
	if err != nil {
		return err
	}
	a.v = v
	return nil
}

// MarshalYAML encodes the amount as a decimal string.
func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

// UnmarshalYAML accepts YAML integers and strings.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	v, err := parseBigInt(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	a.v = v
	return nil
}

// ToBigInt coerces a parameter value to an arbitrary-precision integer.
// Floats are accepted only when they hold an integral value.
func ToBigInt(v any) (*big.Int, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case *big.Int:
		if val == nil {
			return nil, false
		}
		return new(big.Int).Set(val), true
	case big.Int:
		return new(big.Int).Set(&val), true
	case Amount:
		if !val.IsSet() {
			return nil, false
		}
		return val.Int(), true
	case *Amount:
		if val == nil || !val.IsSet() {
			return nil, false
		}
		return val.Int(), true
	case int:
		return big.NewInt(int64(val)), true
	case int8:
		return big.NewInt(int64(val)), true
	case int16:
		return big.NewInt(int64(val)), true
	case int32:
		return big.NewInt(int64(val)), true
	case int64:
		return big.NewInt(val), true
	case uint:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint64:
		return new(big.Int).SetUint64(val), true
	case float32:
		return floatToBigInt(float64(val))
	case float64:
		return floatToBigInt(val)
	case json.Number:
		n, err := parseBigInt(val.String())
		return n, err == nil
	case string:
		n, err := parseBigInt(val)
		return n, err == nil
	default:
		return nil, false
	}
}

func floatToBigInt(f float64) (*big.Int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	n, _ := big.NewFloat(f).Int(nil)
	return n, true
}

func parseBigInt(raw string) (*big.Int, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if s == "" {
		return nil, fmt.Errorf("invalid amount %q: empty", raw)
	}

	neg := false
	body := s
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}

	var n *big.Int
	var ok bool
	switch {
	case strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X"):
		n, ok = new(big.Int).SetString(body[2:], 16)
	case strings.ContainsAny(body, "eE."):
		f, _, err := big.ParseFloat(body, 10, 512, big.ToNearestEven)
		if err != nil || !f.IsInt() {
			return nil, fmt.Errorf("invalid amount %q: not an integer", raw)
		}
		n, _ = f.Int(nil)
		ok = true
	default:
		n, ok = new(big.Int).SetString(body, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}
