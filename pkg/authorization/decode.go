package authorization

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoProofShape is returned by DecodeProof for rules that take no proof.
var ErrNoProofShape = errors.New("rule takes no proof")

// DecodeProof decodes a JSON proof for the rule tagged ruleType.
func DecodeProof(ruleType string, data []byte) (Proof, error) {
	var p Proof
	var err error
	switch Type(ruleType) {
	case TypeSignature:
		p, err = decodeAs[SignatureProof](data)
	case TypeMultiSig:
		p, err = decodeAs[MultiSigProof](data)
	case TypeThreshold:
		p, err = decodeAs[ThresholdProof](data)
	case TypeTokenGated:
		p, err = decodeAs[BalanceProof](data)
	case TypeNFTGated:
		p, err = decodeAs[NFTProof](data)
	case TypeRoleBased:
		p, err = decodeAs[RoleProof](data)
	case TypeDAOApproval:
		p, err = decodeAs[DAOProof](data)
	case TypeSocialRecovery:
		p, err = decodeAs[SocialRecoveryProof](data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoProofShape, ruleType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s proof: %w", ruleType, err)
	}
	return p, nil
}

func decodeAs[T Proof](data []byte) (Proof, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
