package templates

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/ruledoc"
	"mercator-hq/warden/pkg/rules"
)

// Param is a template field callers fill in through Overrides.Params. The
// value is written to field Name of the rule at index Rule.
type Param struct {
	Name        string `yaml:"name" json:"name"`
	Rule        int    `yaml:"rule" json:"rule"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Template is a named bundle of rules.
type Template struct {
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Params      []Param      `yaml:"params,omitempty" json:"params,omitempty"`
	Rules       ruledoc.List `yaml:"rules" json:"-"`
	Builtin     bool         `yaml:"-" json:"builtin"`

	// Source is the file the template was loaded from, if any.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Clone returns a deep copy of t. Rules are copied through their documents
// so slice fields such as signer lists are not shared.
func (t *Template) Clone() *Template {
	out := *t
	out.Params = slices.Clone(t.Params)
	out.Rules = make(ruledoc.List, len(t.Rules))
	for i, r := range t.Rules {
		c, err := ruledoc.Clone(r)
		if err != nil {
			// Rules that cannot be re-encoded are shared as is.
			c = r
		}
		out.Rules[i] = c
	}
	return &out
}

// Validate checks the template's structure. Rules with declared parameters
// are only checked for a known type, since their values arrive at Build.
func (t *Template) Validate() error {
	if t.Name == "" {
		return &ValidationError{Rule: -1, Cause: ErrInvalidName}
	}
	if len(t.Rules) == 0 {
		return &ValidationError{Template: t.Name, Rule: -1, Cause: ErrNoRules}
	}
	parameterized := make(map[int]bool)
	seen := make(map[string]bool)
	for _, p := range t.Params {
		if p.Name == "" || p.Rule < 0 || p.Rule >= len(t.Rules) {
			return &ValidationError{Template: t.Name, Rule: -1, Message: fmt.Sprintf("invalid parameter %q for rule %d", p.Name, p.Rule)}
		}
		if seen[p.Name] {
			return &ValidationError{Template: t.Name, Rule: -1, Message: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		seen[p.Name] = true
		parameterized[p.Rule] = true
	}
	for i, r := range t.Rules {
		if r == nil {
			return &ValidationError{Template: t.Name, Rule: i, Message: "rule is nil"}
		}
		if u, ok := r.(rules.Unknown); ok {
			return &ValidationError{Template: t.Name, Rule: i, Message: fmt.Sprintf("unknown rule type %q", u.Type)}
		}
		if parameterized[i] {
			continue
		}
		if err := ruledoc.Validate(r); err != nil {
			return &ValidationError{Template: t.Name, Rule: i, Cause: err}
		}
	}
	return nil
}

// Summary describes a template for listings.
type Summary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Builtin     bool     `json:"builtin"`
	RuleTypes   []string `json:"ruleTypes"`
	Params      []string `json:"params,omitempty"`
}

// Summary describes t for listings.
func (t *Template) Summary() Summary {
	s := Summary{Name: t.Name, Description: t.Description, Builtin: t.Builtin}
	for _, r := range t.Rules {
		s.RuleTypes = append(s.RuleTypes, r.RuleType())
	}
	for _, p := range t.Params {
		s.Params = append(s.Params, p.Name)
	}
	return s
}

// Overrides customise a policy built from a template.
type Overrides struct {
	// Name replaces the template name as the policy name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Description replaces the template description.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Params fills declared template parameters.
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// Rules are appended after the template's rules.
	Rules ruledoc.List `yaml:"rules,omitempty" json:"-"`

	// ExpiresAt, when set, is the instant from which the policy denies
	// every action.
	ExpiresAt time.Time `yaml:"expires_at,omitempty" json:"expiresAt,omitzero"`
}

// Policy is a composed, ready to compile set of rules.
type Policy struct {
	Name        string
	Template    string
	Description string
	Rules       []rules.Rule
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// NewPolicy builds a policy directly from rules, without a template.
func NewPolicy(name string, rs ...rules.Rule) (*Policy, error) {
	p := &Policy{Name: name, Rules: slices.Clone(rs), CreatedAt: time.Now()}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Expired reports whether the policy has expired at now.
func (p *Policy) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Validate checks every rule and allows at most one approval rule. Rules of
// unknown type are accepted here and fail when evaluated.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return &ValidationError{Rule: -1, Cause: ErrInvalidName}
	}
	approvals := 0
	for i, r := range p.Rules {
		if r == nil {
			return &ValidationError{Template: p.Name, Rule: i, Message: "rule is nil"}
		}
		if _, ok := r.(rules.Unknown); ok {
			continue
		}
		if err := ruledoc.Validate(r); err != nil {
			return &ValidationError{Template: p.Name, Rule: i, Cause: err}
		}
		if _, ok := r.(approval.Config); ok {
			approvals++
		}
	}
	if approvals > 1 {
		return &ValidationError{Template: p.Name, Rule: -1, Message: "at most one human-approval rule is allowed"}
	}
	return nil
}

// build composes a policy from t.
func (t *Template) build(o Overrides, now time.Time) (*Policy, error) {
	base, err := t.applyParams(o.Params)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Name:        t.Name,
		Template:    t.Name,
		Description: t.Description,
		Rules:       append(base, o.Rules...),
		ExpiresAt:   o.ExpiresAt,
		CreatedAt:   now,
	}
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.Description != "" {
		p.Description = o.Description
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *Template) applyParams(values map[string]any) ([]rules.Rule, error) {
	out := slices.Clone([]rules.Rule(t.Rules))
	if len(values) == 0 && !t.hasRequiredParams() {
		return out, nil
	}

	byName := make(map[string]Param, len(t.Params))
	for _, p := range t.Params {
		byName[p.Name] = p
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: %q for template %q", ErrUnknownParam, name, t.Name)
		}
	}

	docs := make(map[int]map[string]any)
	for _, p := range t.Params {
		v, ok := values[p.Name]
		if !ok {
			if p.Required {
				return nil, fmt.Errorf("%w: %q for template %q", ErrMissingParam, p.Name, t.Name)
			}
			continue
		}
		doc, ok := docs[p.Rule]
		if !ok {
			var err error
			doc, err = ruledoc.Encode(out[p.Rule])
			if err != nil {
				return nil, err
			}
			docs[p.Rule] = doc
		}
		doc[p.Name] = v
	}
	for i, doc := range docs {
		r, err := ruledoc.Decode(doc)
		if err != nil {
			return nil, &ValidationError{Template: t.Name, Rule: i, Cause: err}
		}
		out[i] = r
	}
	return out, nil
}

func (t *Template) hasRequiredParams() bool {
	for _, p := range t.Params {
		if p.Required {
			return true
		}
	}
	return false
}
