package condition

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// Type is a state condition tag.
type Type string

const (
	TypeBalanceCheck   Type = "balance-check"
	TypeAllowanceCheck Type = "allowance-check"
	TypeStateEquals    Type = "state-equals"
	TypePositionCheck  Type = "position-check"
	TypePriceCheck     Type = "price-check"
	TypeLiquidityCheck Type = "liquidity-check"
	TypeCustomCheck    Type = "custom-check"
)

// Types lists every condition tag.
var Types = []Type{
	TypeBalanceCheck, TypeAllowanceCheck, TypeStateEquals, TypePositionCheck,
	TypePriceCheck, TypeLiquidityCheck, TypeCustomCheck,
}

// ErrInvalidCondition wraps condition configuration errors.
var ErrInvalidCondition = errors.New("invalid state condition")

// Condition is a state condition configuration.
type Condition interface {
	rules.Rule

	// Validate reports configuration errors.
	Validate() error

	accept(v visitor, vctx rules.VerificationContext, proof Proof) rules.CheckResult
}

func invalid(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidCondition, t, fmt.Sprintf(format, args...))
}

// Comparison is the operator/value pair shared by numeric conditions.
type Comparison struct {
	Operator rules.Operator `yaml:"operator" json:"operator"`
	Value    rules.Amount   `yaml:"value" json:"value"`
}

func (c Comparison) op() rules.Operator {
	if c.Operator == "" {
		return rules.OpGreaterEqual
	}
	return c.Operator
}

func (c Comparison) validate(t Type) error {
	if c.Operator != "" {
		if _, err := rules.ParseOperator(string(c.Operator)); err != nil {
			return invalid(t, "%v", err)
		}
	}
	if !c.Value.IsSet() {
		return invalid(t, "value is required")
	}
	return nil
}

// BalanceCheck compares the balance of Address (the sender when empty) in
// Token (the native asset when empty).
type BalanceCheck struct {
	Token      string `yaml:"token,omitempty" json:"token,omitempty"`
	Address    string `yaml:"address,omitempty" json:"address,omitempty"`
	Comparison `yaml:",inline"`
}

func (BalanceCheck) RuleType() string     { return string(TypeBalanceCheck) }
func (BalanceCheck) Family() rules.Family { return rules.FamilyCondition }
func (c BalanceCheck) Validate() error    { return c.Comparison.validate(TypeBalanceCheck) }

// AllowanceCheck compares the allowance Owner granted Spender in Token.
type AllowanceCheck struct {
	Token      string `yaml:"token" json:"token"`
	Owner      string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Spender    string `yaml:"spender" json:"spender"`
	Comparison `yaml:",inline"`
}

func (AllowanceCheck) RuleType() string     { return string(TypeAllowanceCheck) }
func (AllowanceCheck) Family() rules.Family { return rules.FamilyCondition }

func (c AllowanceCheck) Validate() error {
	if c.Token == "" || c.Spender == "" {
		return invalid(TypeAllowanceCheck, "token and spender are required")
	}
	return c.Comparison.validate(TypeAllowanceCheck)
}

// StateEquals requires a contract storage value to equal Expected.
type StateEquals struct {
	Contract string `yaml:"contract" json:"contract"`
	Key      string `yaml:"key" json:"key"`
	Expected any    `yaml:"expected" json:"expected"`
}

func (StateEquals) RuleType() string     { return string(TypeStateEquals) }
func (StateEquals) Family() rules.Family { return rules.FamilyCondition }

func (c StateEquals) Validate() error {
	if c.Contract == "" || c.Key == "" {
		return invalid(TypeStateEquals, "contract and key are required")
	}
	return nil
}

// Position metrics.
const (
	MetricSize         = "size"
	MetricCollateral   = "collateral"
	MetricDebt         = "debt"
	MetricHealthFactor = "health-factor"
)

// PositionCheck compares one metric of a protocol position.
type PositionCheck struct {
	Protocol   string `yaml:"protocol" json:"protocol"`
	Metric     string `yaml:"metric" json:"metric"`
	Comparison `yaml:",inline"`
}

func (PositionCheck) RuleType() string     { return string(TypePositionCheck) }
func (PositionCheck) Family() rules.Family { return rules.FamilyCondition }

func (c PositionCheck) Validate() error {
	switch c.Metric {
	case MetricSize, MetricCollateral, MetricDebt, MetricHealthFactor:
	default:
		return invalid(TypePositionCheck, "unknown metric %q", c.Metric)
	}
	return c.Comparison.validate(TypePositionCheck)
}

// PriceCheck compares an asset price and rejects quotes older than
// MaxAgeSeconds. Zero disables the freshness bound.
type PriceCheck struct {
	Asset         string `yaml:"asset" json:"asset"`
	MaxAgeSeconds int64  `yaml:"max_age_seconds" json:"maxAgeSeconds"`
	Comparison    `yaml:",inline"`
}

func (PriceCheck) RuleType() string     { return string(TypePriceCheck) }
func (PriceCheck) Family() rules.Family { return rules.FamilyCondition }

func (c PriceCheck) Validate() error {
	if c.Asset == "" {
		return invalid(TypePriceCheck, "asset is required")
	}
	if c.MaxAgeSeconds < 0 {
		return invalid(TypePriceCheck, "max_age_seconds must not be negative")
	}
	return c.Comparison.validate(TypePriceCheck)
}

// LiquidityCheck compares pool liquidity.
type LiquidityCheck struct {
	Pool       string `yaml:"pool" json:"pool"`
	Comparison `yaml:",inline"`
}

func (LiquidityCheck) RuleType() string     { return string(TypeLiquidityCheck) }
func (LiquidityCheck) Family() rules.Family { return rules.FamilyCondition }

func (c LiquidityCheck) Validate() error {
	if c.Pool == "" {
		return invalid(TypeLiquidityCheck, "pool is required")
	}
	return c.Comparison.validate(TypeLiquidityCheck)
}

// CustomCheck evaluates an arbitrary view call. With ExpectedReturn set the
// result must equal it; otherwise the result must be truthy.
type CustomCheck struct {
	Contract       string `yaml:"contract" json:"contract"`
	Method         string `yaml:"method" json:"method"`
	Args           []any  `yaml:"args,omitempty" json:"args,omitempty"`
	ExpectedReturn any    `yaml:"expected_return,omitempty" json:"expectedReturn,omitempty"`
}

func (CustomCheck) RuleType() string     { return string(TypeCustomCheck) }
func (CustomCheck) Family() rules.Family { return rules.FamilyCondition }

func (c CustomCheck) Validate() error {
	if c.Method == "" {
		return invalid(TypeCustomCheck, "method is required")
	}
	return nil
}

// Proof is caller-supplied state for a condition.
type Proof interface {
	proofKind() string
}

// BalanceProof is a balance snapshot.
type BalanceProof struct {
	Balance       rules.Amount `json:"balance"`
	BlockPosition uint64       `json:"blockPosition,omitempty"`
}

// AllowanceProof is an allowance snapshot.
type AllowanceProof struct {
	Allowance     rules.Amount `json:"allowance"`
	BlockPosition uint64       `json:"blockPosition,omitempty"`
}

// StateProof is a storage value snapshot.
type StateProof struct {
	Value         any    `json:"value"`
	BlockPosition uint64 `json:"blockPosition,omitempty"`
}

// PositionProof is a protocol position snapshot.
type PositionProof struct {
	Size         rules.Amount `json:"size"`
	Collateral   rules.Amount `json:"collateral"`
	Debt         rules.Amount `json:"debt"`
	HealthFactor rules.Amount `json:"healthFactor"`
}

// PriceProof is a price quote.
type PriceProof struct {
	Price     rules.Amount `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source,omitempty"`
}

// LiquidityProof is a pool liquidity snapshot.
type LiquidityProof struct {
	Liquidity     rules.Amount `json:"liquidity"`
	BlockPosition uint64       `json:"blockPosition,omitempty"`
}

// CustomProof is the return value of a view call.
type CustomProof struct {
	Result any `json:"result"`
}

func (BalanceProof) proofKind() string   { return string(TypeBalanceCheck) }
func (AllowanceProof) proofKind() string { return string(TypeAllowanceCheck) }
func (StateProof) proofKind() string     { return string(TypeStateEquals) }
func (PositionProof) proofKind() string  { return string(TypePositionCheck) }
func (PriceProof) proofKind() string     { return string(TypePriceCheck) }
func (LiquidityProof) proofKind() string { return string(TypeLiquidityCheck) }
func (CustomProof) proofKind() string    { return string(TypeCustomCheck) }
