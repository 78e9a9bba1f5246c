package authorization

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// Type is an authorization rule tag.
type Type string

const (
	TypeSignature      Type = "signature"
	TypeMultiSig       Type = "multi-sig"
	TypeThreshold      Type = "threshold"
	TypeWhitelist      Type = "whitelist"
	TypeBlacklist      Type = "blacklist"
	TypeTokenGated     Type = "token-gated"
	TypeNFTGated       Type = "nft-gated"
	TypeRoleBased      Type = "role-based"
	TypeDAOApproval    Type = "dao-approval"
	TypeTimeLocked     Type = "time-locked"
	TypeSocialRecovery Type = "social-recovery"
)

// Types lists every authorization rule tag.
var Types = []Type{
	TypeSignature, TypeMultiSig, TypeThreshold, TypeWhitelist, TypeBlacklist,
	TypeTokenGated, TypeNFTGated, TypeRoleBased, TypeDAOApproval, TypeTimeLocked,
	TypeSocialRecovery,
}

// MaxBps is 100% expressed in basis points.
const MaxBps = 10000

// ErrInvalidRule wraps rule configuration errors.
var ErrInvalidRule = errors.New("invalid authorization rule")

// Rule is an authorization rule configuration.
type Rule interface {
	rules.Rule

	// Validate reports configuration errors.
	Validate() error

	accept(v visitor, vctx rules.VerificationContext, proof Proof) rules.CheckResult
}

func invalid(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRule, t, fmt.Sprintf(format, args...))
}

// SignatureRule requires the action to be signed by Signer.
type SignatureRule struct {
	Signer string `yaml:"signer" json:"signer"`
}

func (SignatureRule) RuleType() string     { return string(TypeSignature) }
func (SignatureRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r SignatureRule) Validate() error {
	if r.Signer == "" {
		return invalid(TypeSignature, "signer is required")
	}
	return nil
}

// MultiSigRule requires Required distinct signatures from Signers.
type MultiSigRule struct {
	Signers  []string `yaml:"signers" json:"signers"`
	Required int      `yaml:"required" json:"required"`

	// VotingPeriodSeconds bounds signature age relative to the evaluation
	// time. Zero disables the bound.
	VotingPeriodSeconds int64 `yaml:"voting_period_seconds" json:"votingPeriodSeconds"`
}

func (MultiSigRule) RuleType() string     { return string(TypeMultiSig) }
func (MultiSigRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r MultiSigRule) Validate() error {
	if len(r.Signers) == 0 {
		return invalid(TypeMultiSig, "signers are required")
	}
	if r.Required <= 0 || r.Required > len(rules.AddressSet(r.Signers)) {
		return invalid(TypeMultiSig, "required must be between 1 and %d", len(rules.AddressSet(r.Signers)))
	}
	if r.VotingPeriodSeconds < 0 {
		return invalid(TypeMultiSig, "voting period must not be negative")
	}
	return nil
}

// ThresholdRule requires the approving share of Voters to reach ThresholdBps.
type ThresholdRule struct {
	Voters              []string `yaml:"voters" json:"voters"`
	ThresholdBps        int64    `yaml:"threshold_bps" json:"thresholdBps"`
	VotingPeriodSeconds int64    `yaml:"voting_period_seconds" json:"votingPeriodSeconds"`
}

func (ThresholdRule) RuleType() string     { return string(TypeThreshold) }
func (ThresholdRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r ThresholdRule) Validate() error {
	if len(r.Voters) == 0 {
		return invalid(TypeThreshold, "voters are required")
	}
	if r.ThresholdBps <= 0 || r.ThresholdBps > MaxBps {
		return invalid(TypeThreshold, "threshold_bps must be between 1 and %d", MaxBps)
	}
	if r.VotingPeriodSeconds < 0 {
		return invalid(TypeThreshold, "voting period must not be negative")
	}
	return nil
}

// WhitelistRule passes when the subject address is listed. The subject is
// the sender unless Field names a context data field.
type WhitelistRule struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Field     string   `yaml:"field,omitempty" json:"field,omitempty"`
}

func (WhitelistRule) RuleType() string     { return string(TypeWhitelist) }
func (WhitelistRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r WhitelistRule) Validate() error {
	if len(r.Addresses) == 0 {
		return invalid(TypeWhitelist, "addresses are required")
	}
	return nil
}

// BlacklistRule passes when the subject address is not listed.
type BlacklistRule struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Field     string   `yaml:"field,omitempty" json:"field,omitempty"`
}

func (BlacklistRule) RuleType() string     { return string(TypeBlacklist) }
func (BlacklistRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r BlacklistRule) Validate() error { return nil }

// TokenGatedRule requires a minimum token balance.
type TokenGatedRule struct {
	Token         string       `yaml:"token" json:"token"`
	MinBalance    rules.Amount `yaml:"min_balance" json:"minBalance"`
	IncludeStaked bool         `yaml:"include_staked" json:"includeStaked"`
}

func (TokenGatedRule) RuleType() string     { return string(TypeTokenGated) }
func (TokenGatedRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r TokenGatedRule) Validate() error {
	if r.Token == "" {
		return invalid(TypeTokenGated, "token is required")
	}
	if r.MinBalance.Sign() < 0 {
		return invalid(TypeTokenGated, "min_balance must not be negative")
	}
	return nil
}

// NFTGatedRule requires holding NFTs from Collection. When TokenIDs is set,
// at least one of those ids must be held.
type NFTGatedRule struct {
	Collection string       `yaml:"collection" json:"collection"`
	MinBalance rules.Amount `yaml:"min_balance" json:"minBalance"`
	TokenIDs   []string     `yaml:"token_ids,omitempty" json:"tokenIds,omitempty"`
}

func (NFTGatedRule) RuleType() string     { return string(TypeNFTGated) }
func (NFTGatedRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r NFTGatedRule) Validate() error {
	if r.Collection == "" {
		return invalid(TypeNFTGated, "collection is required")
	}
	if r.MinBalance.Sign() < 0 {
		return invalid(TypeNFTGated, "min_balance must not be negative")
	}
	return nil
}

// minBalance defaults to one token when unset.
func (r NFTGatedRule) minBalance() rules.Amount {
	if !r.MinBalance.IsSet() {
		return rules.NewAmount(1)
	}
	return r.MinBalance
}

// RoleBasedRule requires the sender to hold Role.
type RoleBasedRule struct {
	Role string `yaml:"role" json:"role"`
}

func (RoleBasedRule) RuleType() string     { return string(TypeRoleBased) }
func (RoleBasedRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r RoleBasedRule) Validate() error {
	if r.Role == "" {
		return invalid(TypeRoleBased, "role is required")
	}
	return nil
}

// DAOApprovalRule requires a DAO proposal to pass with ThresholdBps of cast
// votes in favour and, when QuorumBps is set, participation of at least
// QuorumBps of the total supply.
type DAOApprovalRule struct {
	DAO          string `yaml:"dao" json:"dao"`
	ProposalID   string `yaml:"proposal_id,omitempty" json:"proposalId,omitempty"`
	ThresholdBps int64  `yaml:"threshold_bps" json:"thresholdBps"`
	QuorumBps    int64  `yaml:"quorum_bps,omitempty" json:"quorumBps,omitempty"`
}

func (DAOApprovalRule) RuleType() string     { return string(TypeDAOApproval) }
func (DAOApprovalRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r DAOApprovalRule) Validate() error {
	if r.DAO == "" {
		return invalid(TypeDAOApproval, "dao is required")
	}
	if r.ThresholdBps <= 0 || r.ThresholdBps > MaxBps {
		return invalid(TypeDAOApproval, "threshold_bps must be between 1 and %d", MaxBps)
	}
	if r.QuorumBps < 0 || r.QuorumBps > MaxBps {
		return invalid(TypeDAOApproval, "quorum_bps must be between 0 and %d", MaxBps)
	}
	return nil
}

// TimeLockedRule passes once UnlockTime is reached. The bound is inclusive
// unless Exclusive is set.
type TimeLockedRule struct {
	UnlockTime time.Time `yaml:"unlock_time" json:"unlockTime"`
	Exclusive  bool      `yaml:"exclusive,omitempty" json:"exclusive,omitempty"`
}

func (TimeLockedRule) RuleType() string     { return string(TypeTimeLocked) }
func (TimeLockedRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r TimeLockedRule) Validate() error {
	if r.UnlockTime.IsZero() {
		return invalid(TypeTimeLocked, "unlock_time is required")
	}
	return nil
}

// SocialRecoveryRule requires RequiredGuardians distinct guardian approvals
// and RecoveryDelaySeconds elapsed since recovery was initiated.
type SocialRecoveryRule struct {
	Guardians            []string `yaml:"guardians" json:"guardians"`
	RequiredGuardians    int      `yaml:"required_guardians" json:"requiredGuardians"`
	RecoveryDelaySeconds int64    `yaml:"recovery_delay_seconds" json:"recoveryDelaySeconds"`
}

func (SocialRecoveryRule) RuleType() string     { return string(TypeSocialRecovery) }
func (SocialRecoveryRule) Family() rules.Family { return rules.FamilyAuthorization }

func (r SocialRecoveryRule) Validate() error {
	n := len(rules.AddressSet(r.Guardians))
	if n == 0 {
		return invalid(TypeSocialRecovery, "guardians are required")
	}
	if r.RequiredGuardians <= 0 || r.RequiredGuardians > n {
		return invalid(TypeSocialRecovery, "required_guardians must be between 1 and %d", n)
	}
	if r.RecoveryDelaySeconds < 0 {
		return invalid(TypeSocialRecovery, "recovery delay must not be negative")
	}
	return nil
}
