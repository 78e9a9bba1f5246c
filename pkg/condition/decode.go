package condition

import (
	"encoding/json"
	"fmt"
)

// DecodeProof decodes a JSON proof for the condition tagged condType.
func DecodeProof(condType string, data []byte) (Proof, error) {
	var p Proof
	var err error
	switch Type(condType) {
	case TypeBalanceCheck:
		p, err = decodeAs[BalanceProof](data)
	case TypeAllowanceCheck:
		p, err = decodeAs[AllowanceProof](data)
	case TypeStateEquals:
		p, err = decodeAs[StateProof](data)
	case TypePositionCheck:
		p, err = decodeAs[PositionProof](data)
	case TypePriceCheck:
		p, err = decodeAs[PriceProof](data)
	case TypeLiquidityCheck:
		p, err = decodeAs[LiquidityProof](data)
	case TypeCustomCheck:
		p, err = decodeAs[CustomProof](data)
	default:
		return nil, fmt.Errorf("unknown condition type %q", condType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s proof: %w", condType, err)
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
