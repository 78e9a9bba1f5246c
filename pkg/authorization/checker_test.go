package authorization

import (
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/rules"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ctxFor(sender string) rules.VerificationContext {
	return rules.VerificationContext{Sender: sender, Timestamp: now, BlockPosition: 100}
}

func assertValid(t *testing.T, res rules.CheckResult) {
	t.Helper()
	if err := res.Validate(); err != nil {
		t.Fatalf("invalid result %v: %v", res, err)
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func TestCheck_NilRule(t *testing.T) {
	res := Check(nil, ctxFor("0xabc"), nil)
	if res.Passed {
		t.Fatal("expected nil rule to fail")
	}
	if res.RuleType != rules.UnknownRuleType {
		t.Errorf("expected rule type %q, got %q", rules.UnknownRuleType, res.RuleType)
	}
}

func TestCheck_RuleTypeReported(t *testing.T) {
	ruleset := []Rule{
		SignatureRule{Signer: "0xa"},
		MultiSigRule{Signers: []string{"0xa"}, Required: 1},
		ThresholdRule{Voters: []string{"0xa"}, ThresholdBps: 5000},
		WhitelistRule{Addresses: []string{"0xa"}},
		BlacklistRule{Addresses: []string{"0xa"}},
		TokenGatedRule{Token: "0xt", MinBalance: rules.NewAmount(1)},
		NFTGatedRule{Collection: "0xn"},
		RoleBasedRule{Role: "admin"},
		DAOApprovalRule{DAO: "0xd", ThresholdBps: 5000},
		TimeLockedRule{UnlockTime: now},
		SocialRecoveryRule{Guardians: []string{"0xg"}, RequiredGuardians: 1},
	}
	if len(ruleset) != len(Types) {
		t.Fatalf("expected %d rule kinds, got %d", len(Types), len(ruleset))
	}
	for i, rule := range ruleset {
		if rule.RuleType() != string(Types[i]) {
			t.Errorf("rule %d: expected type %s, got %s", i, Types[i], rule.RuleType())
		}
		if rule.Family() != rules.FamilyAuthorization {
			t.Errorf("rule %d: expected authorization family, got %s", i, rule.Family())
		}
		res := Check(rule, ctxFor("0xb"), nil)
		assertValid(t, res)
		if res.RuleType != rule.RuleType() {
			t.Errorf("expected result type %s, got %s", rule.RuleType(), res.RuleType)
		}
	}
}

func TestCheck_WrongProofShape(t *testing.T) {
	res := Check(ThresholdRule{Voters: []string{"0xa"}, ThresholdBps: 5000}, ctxFor("0xa"), BalanceProof{})
	if res.Passed {
		t.Fatal("expected wrong proof shape to fail")
	}
	if !strings.Contains(res.Message, "invalid proof type") {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestCheck_Idempotent(t *testing.T) {
	rule := ThresholdRule{Voters: []string{"0x1", "0x2"}, ThresholdBps: 5000}
	proof := ThresholdProof{Votes: []Vote{{Voter: "0x1", Approve: true, Timestamp: now}}}
	first := Check(rule, ctxFor("0x1"), proof)
	for i := 0; i < 5; i++ {
		again := Check(rule, ctxFor("0x1"), proof)
		if again.Passed != first.Passed || again.Message != first.Message {
			t.Fatalf("evaluation %d differs: %v vs %v", i, again, first)
		}
	}
}

// ============================================================================
// Signature
// ============================================================================

func TestSignature(t *testing.T) {
	rule := SignatureRule{Signer: "0xABCDEF"}
	recoverer := RecovererFunc(func(message, signature []byte) (string, error) {
		if string(signature) == "bad" {
			return "", errors.New("malformed signature")
		}
		return string(signature), nil
	})

	tests := []struct {
		name    string
		checker *Checker
		sender  string
		proof   Proof
		pass    bool
	}{
		{"sender fallback match", NewChecker(), "0xabcdef", nil, true},
		{"sender fallback mismatch", NewChecker(), "0x123", nil, false},
		{"recovered signer", NewChecker(WithRecoverer(recoverer)), "0x123", SignatureProof{Signature: []byte("0xabcdef")}, true},
		{"recovered other signer", NewChecker(WithRecoverer(recoverer)), "0xabcdef", SignatureProof{Signature: []byte("0x999")}, false},
		{"recovery error", NewChecker(WithRecoverer(recoverer)), "0xabcdef", SignatureProof{Signature: []byte("bad")}, false},
		{"proof without recoverer", NewChecker(), "0xabcdef", SignatureProof{Signature: []byte("0xabcdef")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.checker.Check(rule, ctxFor(tt.sender), tt.proof)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

// ============================================================================
// Multi-sig and threshold
// ============================================================================

func TestMultiSig(t *testing.T) {
	rule := MultiSigRule{Signers: []string{"0xA", "0xB", "0xC"}, Required: 2, VotingPeriodSeconds: 3600}

	tests := []struct {
		name string
		sigs []SignerSignature
		pass bool
	}{
		{"two distinct", []SignerSignature{{Signer: "0xa", Timestamp: now}, {Signer: "0xB", Timestamp: now}}, true},
		{"duplicate signer collapses", []SignerSignature{{Signer: "0xa", Timestamp: now}, {Signer: "0xA", Timestamp: now}}, false},
		{"outsider ignored", []SignerSignature{{Signer: "0xa", Timestamp: now}, {Signer: "0xz", Timestamp: now}}, false},
		{"stale signature ignored", []SignerSignature{{Signer: "0xa", Timestamp: now}, {Signer: "0xb", Timestamp: now.Add(-2 * time.Hour)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(rule, ctxFor("0xa"), MultiSigProof{Signatures: tt.sigs})
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

func TestMultiSig_ProofRequired(t *testing.T) {
	res := Check(MultiSigRule{Signers: []string{"0xa"}, Required: 1}, ctxFor("0xa"), nil)
	if res.Passed {
		t.Fatal("expected missing proof to fail")
	}
	if !strings.Contains(res.Message, "proof required") {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestThreshold_Bps(t *testing.T) {
	rule := ThresholdRule{
		Voters:       []string{"0x1", "0x2", "0x3", "0x4", "0x5"},
		ThresholdBps: 5000,
	}
	vote := func(voter string, approve bool) Vote {
		return Vote{Voter: voter, Approve: approve, Timestamp: now}
	}

	tests := []struct {
		name  string
		votes []Vote
		bps   int64
		pass  bool
	}{
		{"three of five", []Vote{vote("0x1", true), vote("0x2", true), vote("0x3", true), vote("0x4", false)}, 6000, true},
		{"two of five", []Vote{vote("0x1", true), vote("0x2", true), vote("0x3", false)}, 4000, false},
		{"duplicate voter counted once", []Vote{vote("0x1", true), vote("0x1", true), vote("0x2", true)}, 4000, false},
		{"non voter ignored", []Vote{vote("0x1", true), vote("0x2", true), vote("0x9", true)}, 4000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(rule, ctxFor("0x1"), ThresholdProof{Votes: tt.votes, VotingStart: now.Add(-time.Hour)})
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
			if got := res.Data["approvalBps"]; got != tt.bps {
				t.Errorf("expected approvalBps %d, got %v", tt.bps, got)
			}
		})
	}
}

func TestThreshold_VotingPeriod(t *testing.T) {
	rule := ThresholdRule{Voters: []string{"0x1", "0x2"}, ThresholdBps: 10000, VotingPeriodSeconds: 60}
	start := now.Add(-10 * time.Minute)
	proof := ThresholdProof{
		VotingStart: start,
		Votes: []Vote{
			{Voter: "0x1", Approve: true, Timestamp: start.Add(30 * time.Second)},
			{Voter: "0x2", Approve: true, Timestamp: start.Add(5 * time.Minute)},
		},
	}
	res := Check(rule, ctxFor("0x1"), proof)
	if res.Passed {
		t.Fatal("expected late vote to be discarded")
	}
	if res.Data["approvals"] != 1 {
		t.Errorf("expected 1 approval, got %v", res.Data["approvals"])
	}
}

// ============================================================================
// Lists
// ============================================================================

func TestWhitelistBlacklist(t *testing.T) {
	list := []string{"0xAAA", "0xbbb"}
	tests := []struct {
		name string
		rule Rule
		vctx rules.VerificationContext
		pass bool
	}{
		{"whitelist member case-insensitive", WhitelistRule{Addresses: list}, ctxFor("0xaaa"), true},
		{"whitelist non-member", WhitelistRule{Addresses: list}, ctxFor("0xccc"), false},
		{"blacklist member", BlacklistRule{Addresses: list}, ctxFor("0xBBB"), false},
		{"blacklist non-member", BlacklistRule{Addresses: list}, ctxFor("0xccc"), true},
		{
			"whitelist on data field",
			WhitelistRule{Addresses: list, Field: "recipient"},
			rules.VerificationContext{Sender: "0xccc", Timestamp: now, Data: map[string]any{"recipient": "0xAaA"}},
			true,
		},
		{"whitelist missing field", WhitelistRule{Addresses: list, Field: "recipient"}, ctxFor("0xaaa"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.rule, tt.vctx, nil)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

// ============================================================================
// Balances
// ============================================================================

func TestTokenGated(t *testing.T) {
	minBal := rules.MustAmount("1000000000000000000000")
	tests := []struct {
		name  string
		rule  TokenGatedRule
		proof Proof
		pass  bool
	}{
		{"enough balance", TokenGatedRule{Token: "0xt", MinBalance: minBal}, BalanceProof{Balance: rules.MustAmount("1000000000000000000000")}, true},
		{"one short", TokenGatedRule{Token: "0xt", MinBalance: minBal}, BalanceProof{Balance: rules.MustAmount("999999999999999999999")}, false},
		{
			"staked excluded",
			TokenGatedRule{Token: "0xt", MinBalance: minBal},
			BalanceProof{Balance: rules.MustAmount("600000000000000000000"), Staked: rules.MustAmount("400000000000000000000")},
			false,
		},
		{
			"staked included",
			TokenGatedRule{Token: "0xt", MinBalance: minBal, IncludeStaked: true},
			BalanceProof{Balance: rules.MustAmount("600000000000000000000"), Staked: rules.MustAmount("400000000000000000000")},
			true,
		},
		{"no proof", TokenGatedRule{Token: "0xt", MinBalance: minBal}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.rule, ctxFor("0xa"), tt.proof)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

func TestNFTGated(t *testing.T) {
	tests := []struct {
		name  string
		rule  NFTGatedRule
		proof NFTProof
		pass  bool
	}{
		{"default min of one", NFTGatedRule{Collection: "0xn"}, NFTProof{Balance: rules.NewAmount(1)}, true},
		{"empty wallet", NFTGatedRule{Collection: "0xn"}, NFTProof{Balance: rules.NewAmount(0)}, false},
		{"required id held", NFTGatedRule{Collection: "0xn", TokenIDs: []string{"7", "9"}}, NFTProof{Balance: rules.NewAmount(2), TokenIDs: []string{"1", "9"}}, true},
		{"required id missing", NFTGatedRule{Collection: "0xn", TokenIDs: []string{"7"}}, NFTProof{Balance: rules.NewAmount(2), TokenIDs: []string{"1"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.rule, ctxFor("0xa"), tt.proof)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

// ============================================================================
// Roles and governance
// ============================================================================

func TestRoleBased(t *testing.T) {
	rule := RoleBasedRule{Role: "treasurer"}

	res := Check(rule, ctxFor("0xa"), nil)
	if res.Passed || !strings.Contains(res.Message, "verification required") {
		t.Errorf("expected verification required failure, got %v", res)
	}

	res = Check(rule, ctxFor("0xa"), RoleProof{Account: "0xA", Roles: []string{"viewer", "treasurer"}})
	if !res.Passed {
		t.Errorf("expected role to pass, got %v", res)
	}

	res = Check(rule, ctxFor("0xa"), RoleProof{Account: "0xb", Roles: []string{"treasurer"}})
	if res.Passed {
		t.Error("expected proof for another account to fail")
	}

	res = Check(rule, ctxFor("0xa"), RoleProof{Roles: []string{"viewer"}})
	if res.Passed {
		t.Error("expected missing role to fail")
	}
}

func TestDAOApproval(t *testing.T) {
	rule := DAOApprovalRule{DAO: "0xdao", ProposalID: "42", ThresholdBps: 6000, QuorumBps: 2000}
	tests := []struct {
		name  string
		proof DAOProof
		pass  bool
	}{
		{
			"passes threshold and quorum",
			DAOProof{ProposalID: "42", ForVotes: rules.NewAmount(700), AgainstVotes: rules.NewAmount(300), TotalSupply: rules.NewAmount(4000)},
			true,
		},
		{
			"below threshold",
			DAOProof{ProposalID: "42", ForVotes: rules.NewAmount(500), AgainstVotes: rules.NewAmount(500), TotalSupply: rules.NewAmount(4000)},
			false,
		},
		{
			"below quorum",
			DAOProof{ProposalID: "42", ForVotes: rules.NewAmount(70), AgainstVotes: rules.NewAmount(30), TotalSupply: rules.NewAmount(4000)},
			false,
		},
		{
			"wrong proposal",
			DAOProof{ProposalID: "41", ForVotes: rules.NewAmount(700), AgainstVotes: rules.NewAmount(300), TotalSupply: rules.NewAmount(4000)},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(rule, ctxFor("0xa"), tt.proof)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

// ============================================================================
// Time locks and recovery
// ============================================================================

func TestTimeLocked(t *testing.T) {
	tests := []struct {
		name string
		rule TimeLockedRule
		pass bool
	}{
		{"inclusive at unlock", TimeLockedRule{UnlockTime: now}, true},
		{"exclusive at unlock", TimeLockedRule{UnlockTime: now, Exclusive: true}, false},
		{"past unlock", TimeLockedRule{UnlockTime: now.Add(-time.Second), Exclusive: true}, true},
		{"before unlock", TimeLockedRule{UnlockTime: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.rule, ctxFor("0xa"), nil)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
		})
	}
}

func TestSocialRecovery(t *testing.T) {
	rule := SocialRecoveryRule{
		Guardians:            []string{"0xG1", "0xG2", "0xG3"},
		RequiredGuardians:    2,
		RecoveryDelaySeconds: 86400,
	}
	approvals := []GuardianApproval{
		{Guardian: "0xg1", Timestamp: now},
		{Guardian: "0xG2", Timestamp: now},
	}

	t.Run("delay elapsed", func(t *testing.T) {
		proof := SocialRecoveryProof{Approvals: approvals, RecoveryInitiated: now.Add(-25 * time.Hour)}
		res := Check(rule, ctxFor("0xa"), proof)
		if !res.Passed {
			t.Fatalf("expected pass, got %v", res)
		}
	})

	t.Run("delay pending", func(t *testing.T) {
		proof := SocialRecoveryProof{Approvals: approvals, RecoveryInitiated: now.Add(-23 * time.Hour)}
		res := Check(rule, ctxFor("0xa"), proof)
		if res.Passed {
			t.Fatal("expected fail before delay")
		}
		if got := res.Data["remainingSeconds"]; got != int64(3600) {
			t.Errorf("expected remainingSeconds 3600, got %v", got)
		}
	})

	t.Run("duplicate guardian collapses", func(t *testing.T) {
		proof := SocialRecoveryProof{
			Approvals:         []GuardianApproval{{Guardian: "0xg1"}, {Guardian: "0xG1"}},
			RecoveryInitiated: now.Add(-48 * time.Hour),
		}
		res := Check(rule, ctxFor("0xa"), proof)
		if res.Passed {
			t.Fatal("expected duplicate guardian to count once")
		}
		if res.Data["approvals"] != 1 {
			t.Errorf("expected 1 approval, got %v", res.Data["approvals"])
		}
	})
}

func TestSocialRecovery_Signatures(t *testing.T) {
	rule := SocialRecoveryRule{Guardians: []string{"0xG1", "0xG2"}, RequiredGuardians: 2}
	checker := NewChecker(WithRecoverer(RecovererFunc(func(message, signature []byte) (string, error) {
		if string(message) != "recover 0xwallet" {
			return "", errors.New("unexpected message")
		}
		if string(signature) == "bad" {
			return "", errors.New("malformed signature")
		}
		return string(signature), nil
	})))

	tests := []struct {
		name      string
		approvals []GuardianApproval
		pass      bool
		count     int
	}{
		{"both signatures recover", []GuardianApproval{
			{Guardian: "0xG1", Signature: []byte("0xg1")},
			{Guardian: "0xG2", Signature: []byte("0xG2")},
		}, true, 2},
		{"signature from another key", []GuardianApproval{
			{Guardian: "0xG1", Signature: []byte("0xg1")},
			{Guardian: "0xG2", Signature: []byte("0xG1")},
		}, false, 1},
		{"malformed signature", []GuardianApproval{
			{Guardian: "0xG1", Signature: []byte("0xg1")},
			{Guardian: "0xG2", Signature: []byte("bad")},
		}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof := SocialRecoveryProof{
				Message:           []byte("recover 0xwallet"),
				Approvals:         tt.approvals,
				RecoveryInitiated: now.Add(-time.Hour),
			}
			res := checker.Check(rule, ctxFor("0xa"), proof)
			assertValid(t, res)
			if res.Passed != tt.pass {
				t.Errorf("expected passed=%v, got %v (%s)", tt.pass, res.Passed, res.Message)
			}
			if res.Data["approvals"] != tt.count {
				t.Errorf("expected %d approvals, got %v", tt.count, res.Data["approvals"])
			}
		})
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{"signature", SignatureRule{Signer: "0xa"}, true},
		{"signature without signer", SignatureRule{}, false},
		{"multi-sig required too high", MultiSigRule{Signers: []string{"0xa", "0xA"}, Required: 2}, false},
		{"threshold out of range", ThresholdRule{Voters: []string{"0xa"}, ThresholdBps: 10001}, false},
		{"whitelist empty", WhitelistRule{}, false},
		{"token negative min", TokenGatedRule{Token: "0xt", MinBalance: rules.NewAmount(-1)}, false},
		{"dao quorum out of range", DAOApprovalRule{DAO: "0xd", ThresholdBps: 5000, QuorumBps: 20000}, false},
		{"time lock zero", TimeLockedRule{}, false},
		{"recovery ok", SocialRecoveryRule{Guardians: []string{"0xa", "0xb"}, RequiredGuardians: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidRule) {
					t.Errorf("expected ErrInvalidRule, got %v", err)
				}
			}
		})
	}
}
