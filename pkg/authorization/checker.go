package authorization

import (
	"fmt"
	"math/big"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// SignatureRecoverer recovers the signing address of a message.
type SignatureRecoverer interface {
	Recover(message, signature []byte) (string, error)
}

// RecovererFunc adapts a function to SignatureRecoverer.
type RecovererFunc func(message, signature []byte) (string, error)

// Recover implements SignatureRecoverer.
func (f RecovererFunc) Recover(message, signature []byte) (string, error) {
	return f(message, signature)
}

// visitor has one method per rule kind.
type visitor interface {
	visitSignature(SignatureRule, rules.VerificationContext, Proof) rules.CheckResult
	visitMultiSig(MultiSigRule, rules.VerificationContext, Proof) rules.CheckResult
	visitThreshold(ThresholdRule, rules.VerificationContext, Proof) rules.CheckResult
	visitWhitelist(WhitelistRule, rules.VerificationContext, Proof) rules.CheckResult
	visitBlacklist(BlacklistRule, rules.VerificationContext, Proof) rules.CheckResult
	visitTokenGated(TokenGatedRule, rules.VerificationContext, Proof) rules.CheckResult
	visitNFTGated(NFTGatedRule, rules.VerificationContext, Proof) rules.CheckResult
	visitRoleBased(RoleBasedRule, rules.VerificationContext, Proof) rules.CheckResult
	visitDAOApproval(DAOApprovalRule, rules.VerificationContext, Proof) rules.CheckResult
	visitTimeLocked(TimeLockedRule, rules.VerificationContext, Proof) rules.CheckResult
	visitSocialRecovery(SocialRecoveryRule, rules.VerificationContext, Proof) rules.CheckResult
}

func (r SignatureRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitSignature(r, c, p)
}
func (r MultiSigRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitMultiSig(r, c, p)
}
func (r ThresholdRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitThreshold(r, c, p)
}
func (r WhitelistRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitWhitelist(r, c, p)
}
func (r BlacklistRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitBlacklist(r, c, p)
}
func (r TokenGatedRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitTokenGated(r, c, p)
}
func (r NFTGatedRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitNFTGated(r, c, p)
}
func (r RoleBasedRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitRoleBased(r, c, p)
}
func (r DAOApprovalRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitDAOApproval(r, c, p)
}
func (r TimeLockedRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitTimeLocked(r, c, p)
}
func (r SocialRecoveryRule) accept(v visitor, c rules.VerificationContext, p Proof) rules.CheckResult {
	return v.visitSocialRecovery(r, c, p)
}

// Checker evaluates authorization rules.
type Checker struct {
	recoverer SignatureRecoverer
}

var _ visitor = (*Checker)(nil)

// Option configures a Checker.
type Option func(*Checker)

// WithRecoverer sets the signature recoverer.
func WithRecoverer(r SignatureRecoverer) Option {
	return func(c *Checker) { c.recoverer = r }
}

// NewChecker creates a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultChecker = NewChecker()

// Check evaluates rule with a Checker that has no signature recoverer.
func Check(rule Rule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	return defaultChecker.Check(rule, vctx, proof)
}

// Check evaluates rule against vctx and proof. proof may be nil.
func (c *Checker) Check(rule Rule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	if rule == nil {
		return rules.CheckUnknown(rules.Unknown{Type: "<nil>"})
	}
	return rule.accept(c, vctx, proof)
}

func (c *Checker) visitSignature(r SignatureRule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if r.Signer == "" {
		return rules.Fail(t, "signature: no signer configured", nil)
	}

	if proof == nil {
		if rules.EqualAddress(vctx.Sender, r.Signer) {
			return rules.Pass(t, "sender is the required signer", map[string]any{"signer": r.Signer})
		}
		return rules.Fail(t, fmt.Sprintf("sender %s is not the required signer %s", vctx.Sender, r.Signer),
			map[string]any{"signer": r.Signer, "sender": vctx.Sender})
	}

	p, ok := proof.(SignatureProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	if c.recoverer == nil {
		return rules.Fail(t, "signature: no signature recoverer configured", nil)
	}
	recovered, err := c.recoverer.Recover(p.Message, p.Signature)
	if err != nil {
		return rules.Fail(t, fmt.Sprintf("signature: recovery failed: %v", err), nil)
	}
	data := map[string]any{"signer": r.Signer, "recovered": recovered}
	if !rules.EqualAddress(recovered, r.Signer) {
		return rules.Fail(t, fmt.Sprintf("signature recovered %s, expected %s", recovered, r.Signer), data)
	}
	return rules.Pass(t, "valid signature", data)
}

func (c *Checker) visitMultiSig(r MultiSigRule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if err := r.Validate(); err != nil {
		return rules.Fail(t, err.Error(), nil)
	}
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(MultiSigProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}

	allowed := rules.AddressSet(r.Signers)
	period := time.Duration(r.VotingPeriodSeconds) * time.Second
	seen := make(map[string]struct{}, len(p.Signatures))
	for _, sig := range p.Signatures {
		signer := rules.NormalizeAddress(sig.Signer)
		if _, ok := allowed[signer]; !ok {
			continue
		}
		if period > 0 && !sig.Timestamp.IsZero() && vctx.Timestamp.Sub(sig.Timestamp) > period {
			continue
		}
		if c.recoverer != nil && len(sig.Signature) > 0 {
			recovered, err := c.recoverer.Recover(p.Message, sig.Signature)
			if err != nil || !rules.EqualAddress(recovered, signer) {
				continue
			}
		}
		seen[signer] = struct{}{}
	}

	data := map[string]any{"valid": len(seen), "required": r.Required}
	if len(seen) < r.Required {
		return rules.Fail(t, fmt.Sprintf("multi-sig: %d of %d required signatures", len(seen), r.Required), data)
	}
	return rules.Pass(t, fmt.Sprintf("multi-sig: %d of %d required signatures", len(seen), r.Required), data)
}

// approvalBps returns approvals*10000/total.
func approvalBps(approvals, total *big.Int) int64 {
	if total.Sign() <= 0 {
		return 0
	}
	bps := new(big.Int).Mul(approvals, big.NewInt(MaxBps))
	bps.Quo(bps, total)
	if !bps.IsInt64() {
		return MaxBps
	}
	return bps.Int64()
}

func (c *Checker) visitThreshold(r ThresholdRule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if err := r.Validate(); err != nil {
		return rules.Fail(t, err.Error(), nil)
	}
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(ThresholdProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}

	voters := rules.AddressSet(r.Voters)
	period := time.Duration(r.VotingPeriodSeconds) * time.Second
	ballots := make(map[string]bool, len(p.Votes))
	for _, v := range p.Votes {
		voter := rules.NormalizeAddress(v.Voter)
		if _, ok := voters[voter]; !ok {
			continue
		}
		if _, dup := ballots[voter]; dup {
			continue
		}
		if period > 0 && !p.VotingStart.IsZero() {
			if v.Timestamp.Before(p.VotingStart) || v.Timestamp.After(p.VotingStart.Add(period)) {
				continue
			}
		}
		ballots[voter] = v.Approve
	}

	approvals := 0
	for _, approve := range ballots {
		if approve {
			approvals++
		}
	}
	bps := approvalBps(big.NewInt(int64(approvals)), big.NewInt(int64(len(voters))))
	data := map[string]any{
		"approvals":    approvals,
		"totalVoters":  len(voters),
		"approvalBps":  bps,
		"thresholdBps": r.ThresholdBps,
	}
	if bps < r.ThresholdBps {
		return rules.Fail(t, fmt.Sprintf("threshold: approval %d bps below required %d bps", bps, r.ThresholdBps), data)
	}
	return rules.Pass(t, fmt.Sprintf("threshold: approval %d bps meets required %d bps", bps, r.ThresholdBps), data)
}

// subject returns the address a list rule applies to.
func subject(field string, vctx rules.VerificationContext) (string, bool) {
	if field == "" {
		return vctx.Sender, vctx.Sender != ""
	}
	return vctx.Field(field)
}

func (c *Checker) visitWhitelist(r WhitelistRule, vctx rules.VerificationContext, _ Proof) rules.CheckResult {
	t := r.RuleType()
	addr, ok := subject(r.Field, vctx)
	if !ok {
		return rules.Fail(t, "whitelist: no address to check", nil)
	}
	if !rules.ContainsAddress(r.Addresses, addr) {
		return rules.Fail(t, fmt.Sprintf("address %s is not whitelisted", addr), map[string]any{"address": addr})
	}
	return rules.Pass(t, fmt.Sprintf("address %s is whitelisted", addr), map[string]any{"address": addr})
}

func (c *Checker) visitBlacklist(r BlacklistRule, vctx rules.VerificationContext, _ Proof) rules.CheckResult {
	t := r.RuleType()
	addr, ok := subject(r.Field, vctx)
	if !ok {
		return rules.Fail(t, "blacklist: no address to check", nil)
	}
	if rules.ContainsAddress(r.Addresses, addr) {
		return rules.Fail(t, fmt.Sprintf("address %s is blacklisted", addr), map[string]any{"address": addr})
	}
	return rules.Pass(t, fmt.Sprintf("address %s is not blacklisted", addr), map[string]any{"address": addr})
}

func (c *Checker) visitTokenGated(r TokenGatedRule, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(BalanceProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}

	total := p.Balance.Int()
	if r.IncludeStaked {
		total.Add(total, p.Staked.Int())
	}
	required := r.MinBalance.Int()
	data := map[string]any{"token": r.Token, "balance": total.String(), "minBalance": required.String()}
	if total.Cmp(required) < 0 {
		return rules.Fail(t, fmt.Sprintf("token balance %s below required %s", total, required), data)
	}
	return rules.Pass(t, fmt.Sprintf("token balance %s meets required %s", total, required), data)
}

func (c *Checker) visitNFTGated(r NFTGatedRule, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(NFTProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}

	balance := p.Balance.Int()
	required := r.minBalance().Int()
	data := map[string]any{"collection": r.Collection, "balance": balance.String(), "minBalance": required.String()}
	if balance.Cmp(required) < 0 {
		return rules.Fail(t, fmt.Sprintf("NFT balance %s below required %s", balance, required), data)
	}
	if len(r.TokenIDs) > 0 {
		held := make(map[string]struct{}, len(p.TokenIDs))
		for _, id := range p.TokenIDs {
			held[id] = struct{}{}
		}
		found := false
		for _, id := range r.TokenIDs {
			if _, ok := held[id]; ok {
				found = true
				break
			}
		}
		if !found {
			return rules.Fail(t, "none of the required token ids are held", data)
		}
	}
	return rules.Pass(t, fmt.Sprintf("NFT balance %s meets required %s", balance, required), data)
}

func (c *Checker) visitRoleBased(r RoleBasedRule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if proof == nil {
		return rules.Fail(t, fmt.Sprintf("role %s: verification required", r.Role), map[string]any{"role": r.Role})
	}
	p, ok := proof.(RoleProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	if p.Account != "" && vctx.Sender != "" && !rules.EqualAddress(p.Account, vctx.Sender) {
		return rules.Fail(t, fmt.Sprintf("role proof is for %s, not sender %s", p.Account, vctx.Sender), nil)
	}
	for _, role := range p.Roles {
		if role == r.Role {
			return rules.Pass(t, fmt.Sprintf("sender holds role %s", r.Role), map[string]any{"role": r.Role})
		}
	}
	return rules.Fail(t, fmt.Sprintf("sender does not hold role %s", r.Role), map[string]any{"role": r.Role})
}

func (c *Checker) visitDAOApproval(r DAOApprovalRule, _ rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if err := r.Validate(); err != nil {
		return rules.Fail(t, err.Error(), nil)
	}
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(DAOProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	if r.ProposalID != "" && p.ProposalID != r.ProposalID {
		return rules.Fail(t, fmt.Sprintf("proof is for proposal %q, expected %q", p.ProposalID, r.ProposalID), nil)
	}

	forVotes := p.ForVotes.Int()
	cast := new(big.Int).Add(forVotes, p.AgainstVotes.Int())
	cast.Add(cast, p.AbstainVotes.Int())
	bps := approvalBps(forVotes, cast)
	data := map[string]any{
		"dao":          r.DAO,
		"approvalBps":  bps,
		"thresholdBps": r.ThresholdBps,
	}

	if r.QuorumBps > 0 {
		supply := p.TotalSupply.Int()
		if supply.Sign() <= 0 {
			return rules.Fail(t, "dao-approval: total supply required for quorum", data)
		}
		quorum := approvalBps(cast, supply)
		data["quorumBps"] = quorum
		if quorum < r.QuorumBps {
			return rules.Fail(t, fmt.Sprintf("dao-approval: participation %d bps below quorum %d bps", quorum, r.QuorumBps), data)
		}
	}
	if bps < r.ThresholdBps {
		return rules.Fail(t, fmt.Sprintf("dao-approval: approval %d bps below required %d bps", bps, r.ThresholdBps), data)
	}
	return rules.Pass(t, fmt.Sprintf("dao-approval: approval %d bps meets required %d bps", bps, r.ThresholdBps), data)
}

func (c *Checker) visitTimeLocked(r TimeLockedRule, vctx rules.VerificationContext, _ Proof) rules.CheckResult {
	t := r.RuleType()
	now := vctx.Timestamp
	unlocked := !now.Before(r.UnlockTime)
	if r.Exclusive {
		unlocked = now.After(r.UnlockTime)
	}
	data := map[string]any{"unlockTime": r.UnlockTime.UTC().Format(time.RFC3339)}
	if !unlocked {
		remaining := int64(r.UnlockTime.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		data["remainingSeconds"] = remaining
		return rules.Fail(t, fmt.Sprintf("time-locked until %s", r.UnlockTime.UTC().Format(time.RFC3339)), data)
	}
	return rules.Pass(t, "time lock expired", data)
}

func (c *Checker) visitSocialRecovery(r SocialRecoveryRule, vctx rules.VerificationContext, proof Proof) rules.CheckResult {
	t := r.RuleType()
	if err := r.Validate(); err != nil {
		return rules.Fail(t, err.Error(), nil)
	}
	if proof == nil {
		return rules.ProofRequired(t)
	}
	p, ok := proof.(SocialRecoveryProof)
	if !ok {
		return rules.InvalidProof(t, proof)
	}
	if p.RecoveryInitiated.IsZero() {
		return rules.Fail(t, "social-recovery: recovery start time required", nil)
	}

	guardians := rules.AddressSet(r.Guardians)
	approved := make(map[string]struct{}, len(p.Approvals))
	for _, a := range p.Approvals {
		g := rules.NormalizeAddress(a.Guardian)
		if _, ok := guardians[g]; !ok {
			continue
		}
		if c.recoverer != nil && len(a.Signature) > 0 {
			recovered, err := c.recoverer.Recover(p.Message, a.Signature)
			if err != nil || !rules.EqualAddress(recovered, g) {
				continue
			}
		}
		approved[g] = struct{}{}
	}

	delay := time.Duration(r.RecoveryDelaySeconds) * time.Second
	elapsed := vctx.Timestamp.Sub(p.RecoveryInitiated)
	data := map[string]any{
		"approvals":         len(approved),
		"requiredGuardians": r.RequiredGuardians,
		"elapsedSeconds":    int64(elapsed.Seconds()),
	}
	if elapsed < delay {
		remaining := int64((delay - elapsed + time.Second - 1) / time.Second)
		data["remainingSeconds"] = remaining
		return rules.Fail(t, fmt.Sprintf("social-recovery: delay not elapsed, %d seconds remaining", remaining), data)
	}
	if len(approved) < r.RequiredGuardians {
		return rules.Fail(t, fmt.Sprintf("social-recovery: %d of %d guardian approvals", len(approved), r.RequiredGuardians), data)
	}
	return rules.Pass(t, fmt.Sprintf("social-recovery: %d of %d guardian approvals", len(approved), r.RequiredGuardians), data)
}
