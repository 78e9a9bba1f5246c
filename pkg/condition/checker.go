package condition

import (
	"fmt"
	"time"

	"mercator-hq/warden/pkg/rules"
)

type visitor interface {
	visitBalance(BalanceCheck, rules.VerificationContext, Proof) rules.CheckResult
	visitAllowance(AllowanceCheck, rules.VerificationContext, Proof) rules.CheckResult
	visitStateEquals(StateEquals, rules.VerificationContext, Proof) rules.CheckResult
	visitPosition(PositionCheck, rules.VerificationContext, Proof) rules.CheckResult
	visitPrice(PriceCheck, rules.VerificationContext, Proof) rules.CheckResult
	visitLiquidity(LiquidityCheck, rules.VerificationContext, Proof) rules.CheckResult
	visitCustom(CustomCheck, rules.VerificationContext, Proof) rules.CheckResult
}

func (c BalanceCheck) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitBalance(c, vctx, p)
}
func (c AllowanceCheck) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitAllowance(c, vctx, p)
}
func (c StateEquals) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitStateEquals(c, vctx, p)
}
func (c PositionCheck) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitPosition(c, vctx, p)
}
func (c PriceCheck) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitPrice(c, vctx, p)
}
func (c LiquidityCheck) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitLiquidity(c, vctx, p)
}
func (c CustomCheck) accept(v visitor, vctx rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitCustom(c, vctx, p)
}

// Checker evaluates state conditions.
type Checker struct{}

var _ visitor = Checker{}

// Check evaluates cond against vctx and proof. proof may be nil.
func Check(cond Condition, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	return Checker{}.Check(cond, vctx, proof)
}

// Check evaluates cond against vctx and proof. proof may be nil.
func (ch Checker) Check(cond Condition, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	if cond == nil {
		return rules.CheckUnknown(rules.Unknown{Type: "<nil>"})
	}
	return cond.accept(ch, vctx, proof)
}

func (Checker) visitBalance(c BalanceCheck, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(BalanceProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	addr := c.Address
	if addr == "" {
		addr = vctx.Sender
	}
	token := c.Token
	if token == "" {
		token = "native"
	}
	data := map[string]any{"token": token, "address": addr}
	return rules.CompareResult(t, "balance", c.op(), p.Balance.Int(), c.Value.Int(), data)
}

func (Checker) visitAllowance(c AllowanceCheck, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(AllowanceProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	owner := c.Owner
	if owner == "" {
		owner = vctx.Sender
	}
	data := map[string]any{"token": c.Token, "owner": owner, "spender": c.Spender}
	return rules.CompareResult(t, "allowance", c.op(), p.Allowance.Int(), c.Value.Int(), data)
}

func (Checker) visitStateEquals(c StateEquals, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(StateProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	data := map[string]any{"contract": c.Contract, "key": c.Key, "actual": p.Value, "expected": c.Expected}
	if !rules.ValuesEqual(p.Value, c.Expected) {
		return rules.Fail(t, fmt.Sprintf("state %s.%s is %v, expected %v", c.Contract, c.Key, p.Value, c.Expected), data)
	}
	return rules.Pass(t, fmt.Sprintf("state %s.%s matches", c.Contract, c.Key), data)
}

func (Checker) visitPosition(c PositionCheck, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(PositionProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	var actual rules.Amount
	switch c.Metric {
	case MetricSize:
		actual = p.Size
	case MetricCollateral:
		actual = p.Collateral
	case MetricDebt:
		actual = p.Debt
	case MetricHealthFactor:
		actual = p.HealthFactor
	default:
		return rules.Fail(t, fmt.Sprintf("position-check: unknown metric %q", c.Metric), nil)
	}
	data := map[string]any{"protocol": c.Protocol, "metric": c.Metric}
	return rules.CompareResult(t, "position "+c.Metric, c.op(), actual.Int(), c.Value.Int(), data)
}

func (Checker) visitPrice(c PriceCheck, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(PriceProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	data := map[string]any{"asset": c.Asset}
	if p.Source != "" {
		data["source"] = p.Source
	}
	if c.MaxAgeSeconds > 0 {
		age := vctx.Timestamp.Sub(p.Timestamp)
		if p.Timestamp.IsZero() || age > time.Duration(c.MaxAgeSeconds)*time.Second {
			ageSeconds := int64(age / time.Second)
			data["ageSeconds"] = ageSeconds
			data["maxAgeSeconds"] = c.MaxAgeSeconds
			return rules.Fail(t, fmt.Sprintf("price for %s is stale: %d seconds old, max %d", c.Asset, ageSeconds, c.MaxAgeSeconds), data)
		}
	}
	return rules.CompareResult(t, "price of "+c.Asset, c.op(), p.Price.Int(), c.Value.Int(), data)
}

func (Checker) visitLiquidity(c LiquidityCheck, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(LiquidityProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	return rules.CompareResult(t, "liquidity", c.op(), p.Liquidity.Int(), c.Value.Int(), map[string]any{"pool": c.Pool})
}

func (Checker) visitCustom(c CustomCheck, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := c.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(CustomProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	call := c.Method
	if c.Contract != "" {
		call = c.Contract + "." + c.Method
	}
	data := map[string]any{"method": call, "result": p.Result}

	if c.ExpectedReturn != nil {
		data["expected"] = c.ExpectedReturn
		if !rules.ValuesEqual(p.Result, c.ExpectedReturn) {
			return rules.Fail(t, fmt.Sprintf("%s returned %v, expected %v", call, p.Result, c.ExpectedReturn), data)
		}
		return rules.Pass(t, fmt.Sprintf("%s returned expected value", call), data)
	}
	if !rules.Truthy(p.Result) {
		return rules.Fail(t, fmt.Sprintf("%s returned falsy value %v", call, p.Result), data)
	}
	return rules.Pass(t, fmt.Sprintf("%s returned truthy value", call), data)
}
