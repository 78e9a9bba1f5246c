// Package authorization decides whether the sender of an action is allowed
// to perform it.
//
// Eleven rule kinds are supported: signature, multi-sig, threshold,
// whitelist, blacklist, token-gated, nft-gated, role-based, dao-approval,
// time-locked and social-recovery. Each rule is an immutable value; the
// Checker evaluates it against a VerificationContext and an optional Proof.
//
// Checks are pure and total. A missing or malformed proof is a failed
// CheckResult with an explanatory message, never an error or a panic.
//
// Dispatch is a visitor: every Rule implements an unexported accept method
// that calls the matching Checker method, so adding a rule kind without a
// checker does not compile.
//
// Signature recovery is delegated. Supply a SignatureRecoverer with
// WithRecoverer to verify signature and multi-sig proofs; without one,
// signature proofs are rejected and multi-sig proofs are taken at face value
// (the caller is expected to have verified them).
package authorization
