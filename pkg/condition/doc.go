// Package condition checks on-chain state preconditions against
// caller-supplied proofs.
//
// Seven kinds are supported: balance-check, allowance-check, state-equals,
// position-check, price-check, liquidity-check and custom-check. The checker
// never fetches state; every condition that needs data is decided from a
// Proof and fails with "proof required" without one.
//
// All numeric comparisons go through rules.CompareResult, so operators and
// failure messages are uniform across kinds. An empty operator means gte.
package condition
