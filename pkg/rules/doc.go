// Package rules holds the types shared by every checker family: the action
// being proposed, the verification context it is evaluated in, the uniform
// CheckResult contract and the small helpers all checkers reuse.
//
// # Amounts
//
// Monetary values are arbitrary-precision integers. Amount decodes from YAML
// and JSON integers, decimal strings, scientific notation without a
// fractional part, and 0x-prefixed hex strings. Floating point values with a
// fractional part are rejected.
//
// # Comparison
//
// Compare is the single comparator used by condition and policy checkers for
// the operators eq, neq, gt, gte, lt and lte.
//
// # Patterns
//
// MatchPattern implements the action identifier matching used by whitelists,
// blacklists and approval triggers:
//
//	"*"       matches every identifier
//	"read:*"  matches identifiers starting with "read:"
//	"transfer" matches only "transfer"
//
// Action identifiers are case-sensitive. Addresses are compared
// case-insensitively with EqualAddress.
package rules
