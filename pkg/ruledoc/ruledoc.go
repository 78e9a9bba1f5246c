package ruledoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/condition"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/timing"
)

// TypeKey is the document key holding the rule tag.
const TypeKey = "type"

var (
	ErrMissingType = errors.New("rule document has no type")
	ErrNotMapping  = errors.New("rule document must be a mapping")
)

// DecodeError reports a document that could not be decoded.
type DecodeError struct {
	Index int
	Type  string
	Line  int
	Cause error
}

func (e *DecodeError) Error() string {
	loc := ""
	if e.Index >= 0 {
		loc = fmt.Sprintf("rule %d", e.Index)
	}
	if e.Line > 0 {
		if loc != "" {
			loc += ", "
		}
		loc += fmt.Sprintf("line %d", e.Line)
	}
	prefix := "rule document"
	if loc != "" {
		prefix += " (" + loc + ")"
	}
	if e.Type != "" {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Type, e.Cause)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

type factory func() rules.Rule

// registry maps rule tags to pointer constructors for their structs.
var registry = map[string]factory{
	string(authorization.TypeSignature):      func() rules.Rule { return &authorization.SignatureRule{} },
	string(authorization.TypeMultiSig):       func() rules.Rule { return &authorization.MultiSigRule{} },
	string(authorization.TypeThreshold):      func() rules.Rule { return &authorization.ThresholdRule{} },
	string(authorization.TypeWhitelist):      func() rules.Rule { return &authorization.WhitelistRule{} },
	string(authorization.TypeBlacklist):      func() rules.Rule { return &authorization.BlacklistRule{} },
	string(authorization.TypeTokenGated):     func() rules.Rule { return &authorization.TokenGatedRule{} },
	string(authorization.TypeNFTGated):       func() rules.Rule { return &authorization.NFTGatedRule{} },
	string(authorization.TypeRoleBased):      func() rules.Rule { return &authorization.RoleBasedRule{} },
	string(authorization.TypeDAOApproval):    func() rules.Rule { return &authorization.DAOApprovalRule{} },
	string(authorization.TypeTimeLocked):     func() rules.Rule { return &authorization.TimeLockedRule{} },
	string(authorization.TypeSocialRecovery): func() rules.Rule { return &authorization.SocialRecoveryRule{} },

	string(condition.TypeBalanceCheck):   func() rules.Rule { return &condition.BalanceCheck{} },
	string(condition.TypeAllowanceCheck): func() rules.Rule { return &condition.AllowanceCheck{} },
	string(condition.TypeStateEquals):    func() rules.Rule { return &condition.StateEquals{} },
	string(condition.TypePositionCheck):  func() rules.Rule { return &condition.PositionCheck{} },
	string(condition.TypePriceCheck):     func() rules.Rule { return &condition.PriceCheck{} },
	string(condition.TypeLiquidityCheck): func() rules.Rule { return &condition.LiquidityCheck{} },
	string(condition.TypeCustomCheck):    func() rules.Rule { return &condition.CustomCheck{} },

	string(timing.TypeTimeWindow):      func() rules.Rule { return &timing.TimeWindow{} },
	string(timing.TypeCooldown):        func() rules.Rule { return &timing.Cooldown{} },
	string(timing.TypeEpochBased):      func() rules.Rule { return &timing.EpochBased{} },
	string(timing.TypeBlockDelay):      func() rules.Rule { return &timing.BlockDelay{} },
	string(timing.TypeBeforeTimestamp): func() rules.Rule { return &timing.BeforeTimestamp{} },
	string(timing.TypeAfterTimestamp):  func() rules.Rule { return &timing.AfterTimestamp{} },
	string(timing.TypeEventTriggered):  func() rules.Rule { return &timing.EventTriggered{} },
	string(timing.TypeBlockWindow):     func() rules.Rule { return &timing.BlockWindow{} },

	string(policy.TypeSpendingCap):        func() rules.Rule { return &policy.SpendingCapRule{} },
	string(policy.TypeActionWhitelist):    func() rules.Rule { return &policy.ActionWhitelistRule{} },
	string(policy.TypeActionBlacklist):    func() rules.Rule { return &policy.ActionBlacklistRule{} },
	string(policy.TypeRecipientWhitelist): func() rules.Rule { return &policy.RecipientWhitelistRule{} },
	string(policy.TypeRateLimit):          func() rules.Rule { return &policy.RateLimitRule{} },
	string(policy.TypeActionCooldown):     func() rules.Rule { return &policy.CooldownRule{} },

	approval.RuleType: func() rules.Rule {
		return &approval.Config{TimeoutSeconds: int64(approval.DefaultTimeout / time.Second)}
	},
}

// Types returns every recognised rule tag, sorted.
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Known reports whether tag is a recognised rule type.
func Known(tag string) bool {
	_, ok := registry[tag]
	return ok
}

// Decode decodes a rule from a generic mapping, such as one produced by
// encoding/json or yaml.v3.
func Decode(doc map[string]any) (rules.Rule, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, &DecodeError{Index: -1, Cause: err}
	}
	return DecodeYAML(data)
}

// DecodeYAML decodes a single rule document. JSON is accepted as well.
func DecodeYAML(data []byte) (rules.Rule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, &DecodeError{Index: -1, Cause: err}
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return decodeNode(node.Content[0], -1)
	}
	return nil, &DecodeError{Index: -1, Cause: ErrNotMapping}
}

// DecodeList decodes a sequence of rule documents.
func DecodeList(data []byte) ([]rules.Rule, error) {
	var list List
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// DecodeNode decodes a rule from a parsed YAML mapping node.
func DecodeNode(node *yaml.Node) (rules.Rule, error) {
	return decodeNode(node, -1)
}

// List is a rule sequence that decodes from YAML rule documents.
type List []rules.Rule

// UnmarshalYAML decodes each element with DecodeNode.
func (l *List) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return &DecodeError{Index: -1, Line: node.Line, Cause: errors.New("rules must be a sequence")}
	}
	out := make(List, 0, len(node.Content))
	for i, item := range node.Content {
		r, err := decodeNode(item, i)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	*l = out
	return nil
}

// MarshalYAML encodes each rule with Encode.
func (l List) MarshalYAML() (any, error) {
	out := make([]map[string]any, 0, len(l))
	for _, r := range l {
		doc, err := Encode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// MarshalJSON encodes each rule with Encode.
func (l List) MarshalJSON() ([]byte, error) {
	docs, err := l.MarshalYAML()
	if err != nil {
		return nil, err
	}
	return json.Marshal(docs)
}

// UnmarshalJSON decodes a JSON array of rule documents. JSON is parsed as
// YAML so both encodings share one decoding path.
func (l *List) UnmarshalJSON(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &DecodeError{Index: -1, Cause: err}
	}
	if len(doc.Content) == 0 {
		*l = nil
		return nil
	}
	node := doc.Content[0]
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*l = nil
		return nil
	}
	return l.UnmarshalYAML(node)
}

func decodeNode(node *yaml.Node, index int) (rules.Rule, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &DecodeError{Index: index, Line: node.Line, Cause: ErrNotMapping}
	}

	var tag string
	body := &yaml.Node{Kind: yaml.MappingNode, Tag: node.Tag, Line: node.Line, Column: node.Column}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Value == TypeKey {
			tag = v.Value
			continue
		}
		body.Content = append(body.Content, k, v)
	}
	if tag == "" {
		return nil, &DecodeError{Index: index, Line: node.Line, Cause: ErrMissingType}
	}

	newRule, ok := registry[tag]
	if !ok {
		return rules.Unknown{Type: tag}, nil
	}

	// Re-encode so the strict decoder can reject unknown fields.
	raw, err := yaml.Marshal(body)
	if err != nil {
		return nil, &DecodeError{Index: index, Type: tag, Line: node.Line, Cause: err}
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	target := newRule()
	if err := dec.Decode(target); err != nil {
		return nil, &DecodeError{Index: index, Type: tag, Line: node.Line, Cause: err}
	}
	return deref(target), nil
}

// deref returns the value behind the pointer a factory produced, so decoded
// rules are values like the ones callers construct in code.
func deref(r rules.Rule) rules.Rule {
	v := reflect.ValueOf(r)
	if v.Kind() != reflect.Pointer {
		return r
	}
	if out, ok := v.Elem().Interface().(rules.Rule); ok {
		return out
	}
	return r
}

// Encode renders rule as a document with its type tag.
func Encode(rule rules.Rule) (map[string]any, error) {
	if u, ok := rule.(rules.Unknown); ok {
		return map[string]any{TypeKey: u.Type}, nil
	}
	raw, err := yaml.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rule.RuleType(), err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode %s: %w", rule.RuleType(), err)
	}
	doc[TypeKey] = rule.RuleType()
	return doc, nil
}

// Clone returns a copy of rule that shares no slices, maps or amounts with
// it, by encoding and decoding the rule document.
func Clone(rule rules.Rule) (rules.Rule, error) {
	doc, err := Encode(rule)
	if err != nil {
		return nil, err
	}
	return Decode(doc)
}

// Validate runs the rule's own validation, if it has one.
func Validate(rule rules.Rule) error {
	if u, ok := rule.(rules.Unknown); ok {
		return fmt.Errorf("unknown rule type %q", u.Type)
	}
	if v, ok := rule.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}
