package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/condition"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/templates"
)

// ErrInvalidProof is returned by DecodeProofs for a proof that cannot be
// decoded.
var ErrInvalidProof = errors.New("invalid proof")

// DecodeProofs decodes JSON proofs for p. Keys are either a rule index or a
// rule type tag.
func DecodeProofs(p *templates.Policy, raw map[string]json.RawMessage) (Proofs, error) {
	var out Proofs
	for key, data := range raw {
		if idx, err := strconv.Atoi(key); err == nil {
			if idx < 0 || idx >= len(p.Rules) {
				return Proofs{}, fmt.Errorf("%w: rule index %d out of range", ErrInvalidProof, idx)
			}
			proof, err := decodeProof(p.Rules[idx], data)
			if err != nil {
				return Proofs{}, fmt.Errorf("%w: rule %d: %v", ErrInvalidProof, idx, err)
			}
			if out.ByIndex == nil {
				out.ByIndex = make(map[int]any)
			}
			out.ByIndex[idx] = proof
			continue
		}

		r, ok := ruleOfType(p, key)
		if !ok {
			return Proofs{}, fmt.Errorf("%w: policy %q has no %s rule", ErrInvalidProof, p.Name, key)
		}
		proof, err := decodeProof(r, data)
		if err != nil {
			return Proofs{}, fmt.Errorf("%w: %s: %v", ErrInvalidProof, key, err)
		}
		if out.ByType == nil {
			out.ByType = make(map[string]any)
		}
		out.ByType[key] = proof
	}
	return out, nil
}

func ruleOfType(p *templates.Policy, ruleType string) (rules.Rule, bool) {
	for _, r := range p.Rules {
		if r.RuleType() == ruleType {
			return r, true
		}
	}
	return nil, false
}

func decodeProof(r rules.Rule, data []byte) (any, error) {
	switch r.(type) {
	case authorization.Rule:
		return authorization.DecodeProof(r.RuleType(), data)
	case condition.Condition:
		return condition.DecodeProof(r.RuleType(), data)
	default:
		return nil, fmt.Errorf("%s rules take no proof", r.RuleType())
	}
}
