package authorization

import (
	"time"

	"mercator-hq/warden/pkg/rules"
)

// Proof is caller-supplied evidence for an authorization rule. The set of
// proof shapes is closed; each rule accepts exactly one of them.
type Proof interface {
	proofKind() string
}

// SignatureProof carries a signed message for the signature rule.
type SignatureProof struct {
	Message   []byte `json:"message"`
	Signature []byte `json:"signature"`
}

// SignerSignature is one signature in a multi-sig proof.
type SignerSignature struct {
	Signer    string    `json:"signer"`
	Signature []byte    `json:"signature,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MultiSigProof carries the collected signatures for a multi-sig rule.
type MultiSigProof struct {
	Message    []byte            `json:"message,omitempty"`
	Signatures []SignerSignature `json:"signatures"`
}

// Vote is one voter's ballot.
type Vote struct {
	Voter     string    `json:"voter"`
	Approve   bool      `json:"approve"`
	Timestamp time.Time `json:"timestamp"`
}

// ThresholdProof carries ballots for a threshold rule.
type ThresholdProof struct {
	Votes       []Vote    `json:"votes"`
	VotingStart time.Time `json:"votingStart"`
}

// BalanceProof is a token balance snapshot for the token-gated rule.
type BalanceProof struct {
	Balance       rules.Amount `json:"balance"`
	Staked        rules.Amount `json:"staked,omitzero"`
	BlockPosition uint64       `json:"blockPosition,omitempty"`
}

// NFTProof is an NFT holdings snapshot for the nft-gated rule.
type NFTProof struct {
	Balance       rules.Amount `json:"balance"`
	TokenIDs      []string     `json:"tokenIds,omitempty"`
	BlockPosition uint64       `json:"blockPosition,omitempty"`
}

// RoleProof asserts the roles held by Account.
type RoleProof struct {
	Account string   `json:"account"`
	Roles   []string `json:"roles"`
}

// DAOProof is a tally snapshot for a DAO proposal.
type DAOProof struct {
	ProposalID   string       `json:"proposalId"`
	ForVotes     rules.Amount `json:"forVotes"`
	AgainstVotes rules.Amount `json:"againstVotes"`
	AbstainVotes rules.Amount `json:"abstainVotes,omitzero"`
	TotalSupply  rules.Amount `json:"totalSupply,omitzero"`
}

// GuardianApproval is one guardian's approval of a recovery.
type GuardianApproval struct {
	Guardian  string    `json:"guardian"`
	Signature []byte    `json:"signature,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SocialRecoveryProof carries guardian approvals for a recovery. Message is
// what guardians signed; signatures are verified when the checker has a
// SignatureRecoverer.
type SocialRecoveryProof struct {
	Message           []byte             `json:"message,omitempty"`
	Approvals         []GuardianApproval `json:"approvals"`
	RecoveryInitiated time.Time          `json:"recoveryInitiated"`
}

func (SignatureProof) proofKind() string      { return string(TypeSignature) }
func (MultiSigProof) proofKind() string       { return string(TypeMultiSig) }
func (ThresholdProof) proofKind() string      { return string(TypeThreshold) }
func (BalanceProof) proofKind() string        { return string(TypeTokenGated) }
func (NFTProof) proofKind() string            { return string(TypeNFTGated) }
func (RoleProof) proofKind() string           { return string(TypeRoleBased) }
func (DAOProof) proofKind() string            { return string(TypeDAOApproval) }
func (SocialRecoveryProof) proofKind() string { return string(TypeSocialRecovery) }
