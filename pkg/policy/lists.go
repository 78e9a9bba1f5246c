package policy

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"mercator-hq/warden/pkg/rules"
)

// ActionWhitelistRule allows only actions whose type matches a pattern.
// Patterns are exact, a sole "*", or a "prefix*" wildcard.
type ActionWhitelistRule struct {
	AllowedActions []string `yaml:"allowed_actions" json:"allowedActions"`
}

func (ActionWhitelistRule) RuleType() string     { return string(TypeActionWhitelist) }
func (ActionWhitelistRule) Family() rules.Family { return rules.FamilyPolicy }

func (r ActionWhitelistRule) Validate() error {
	if len(r.AllowedActions) == 0 {
		return invalid(TypeActionWhitelist, "allowed_actions must not be empty")
	}
	return nil
}

func (r ActionWhitelistRule) instantiate([]Option) (Policy, error) {
	return NewActionWhitelist(r)
}

// ActionBlacklistRule rejects actions whose type matches a pattern.
type ActionBlacklistRule struct {
	BlockedActions []string `yaml:"blocked_actions" json:"blockedActions"`
}

func (ActionBlacklistRule) RuleType() string     { return string(TypeActionBlacklist) }
func (ActionBlacklistRule) Family() rules.Family { return rules.FamilyPolicy }

func (r ActionBlacklistRule) Validate() error { return nil }

func (r ActionBlacklistRule) instantiate([]Option) (Policy, error) {
	return NewActionBlacklist(r)
}

// patternSet is a copy-on-write list of patterns. Readers load the current
// slice without locking; writers serialize on mu and publish a new slice.
type patternSet struct {
	mu       sync.Mutex
	patterns atomic.Pointer[[]string]
}

func newPatternSet(patterns []string) *patternSet {
	ps := &patternSet{}
	p := slices.Clone(patterns)
	ps.patterns.Store(&p)
	return ps
}

func (ps *patternSet) load() []string {
	return *ps.patterns.Load()
}

func (ps *patternSet) add(pattern string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	cur := ps.load()
	if slices.Contains(cur, pattern) {
		return false
	}
	next := append(slices.Clone(cur), pattern)
	ps.patterns.Store(&next)
	return true
}

func (ps *patternSet) remove(pattern string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	cur := ps.load()
	i := slices.Index(cur, pattern)
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	ps.patterns.Store(&next)
	return true
}

// ActionWhitelist enforces an ActionWhitelistRule.
type ActionWhitelist struct {
	set *patternSet
}

// NewActionWhitelist creates an ActionWhitelist. An empty pattern list is a
// configuration error.
func NewActionWhitelist(rule ActionWhitelistRule) (*ActionWhitelist, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &ActionWhitelist{set: newPatternSet(rule.AllowedActions)}, nil
}

// Name implements Policy.
func (w *ActionWhitelist) Name() string { return string(TypeActionWhitelist) }

// Check implements Policy.
func (w *ActionWhitelist) Check(action rules.ActionInput) Result {
	if p, ok := rules.MatchAny(w.set.load(), action.Type); ok {
		return allow(TypeActionWhitelist, fmt.Sprintf("action %q allowed by %q", action.Type, p), map[string]any{"pattern": p})
	}
	return deny(TypeActionWhitelist, fmt.Sprintf("action %q is not whitelisted", action.Type), map[string]any{"action": action.Type})
}

// Add adds a pattern. It reports false if the pattern was already present.
func (w *ActionWhitelist) Add(pattern string) bool { return w.set.add(pattern) }

// Remove removes a pattern. It reports false if the pattern was absent.
// Removing the last pattern leaves a whitelist that denies everything.
func (w *ActionWhitelist) Remove(pattern string) bool { return w.set.remove(pattern) }

// Patterns returns the current patterns.
func (w *ActionWhitelist) Patterns() []string { return slices.Clone(w.set.load()) }

// ActionBlacklist enforces an ActionBlacklistRule.
type ActionBlacklist struct {
	set *patternSet
}

// NewActionBlacklist creates an ActionBlacklist.
func NewActionBlacklist(rule ActionBlacklistRule) (*ActionBlacklist, error) {
	return &ActionBlacklist{set: newPatternSet(rule.BlockedActions)}, nil
}

// Name implements Policy.
func (b *ActionBlacklist) Name() string { return string(TypeActionBlacklist) }

// Check implements Policy.
func (b *ActionBlacklist) Check(action rules.ActionInput) Result {
	if p, ok := rules.MatchAny(b.set.load(), action.Type); ok {
		return deny(TypeActionBlacklist, fmt.Sprintf("action %q blocked by %q", action.Type, p), map[string]any{"pattern": p})
	}
	return allow(TypeActionBlacklist, fmt.Sprintf("action %q is not blacklisted", action.Type), nil)
}

// Add adds a pattern.
func (b *ActionBlacklist) Add(pattern string) bool { return b.set.add(pattern) }

// Remove removes a pattern.
func (b *ActionBlacklist) Remove(pattern string) bool { return b.set.remove(pattern) }

// Patterns returns the current patterns.
func (b *ActionBlacklist) Patterns() []string { return slices.Clone(b.set.load()) }

// DefaultRecipientParams are the parameters a recipient is read from when
// RecipientWhitelistRule.Param is empty.
var DefaultRecipientParams = []string{"to", "recipient"}

// RecipientWhitelistRule allows transfers only to listed addresses.
// Actions without a recipient parameter pass.
type RecipientWhitelistRule struct {
	Recipients []string `yaml:"recipients" json:"recipients"`
	Param      string   `yaml:"param,omitempty" json:"param,omitempty"`
}

func (RecipientWhitelistRule) RuleType() string     { return string(TypeRecipientWhitelist) }
func (RecipientWhitelistRule) Family() rules.Family { return rules.FamilyPolicy }

func (r RecipientWhitelistRule) Validate() error {
	if len(r.Recipients) == 0 {
		return invalid(TypeRecipientWhitelist, "recipients must not be empty")
	}
	return nil
}

func (r RecipientWhitelistRule) instantiate([]Option) (Policy, error) {
	return NewRecipientWhitelist(r)
}

// RecipientWhitelist enforces a RecipientWhitelistRule.
type RecipientWhitelist struct {
	params     []string
	recipients map[string]struct{}
}

// NewRecipientWhitelist creates a RecipientWhitelist.
func NewRecipientWhitelist(rule RecipientWhitelistRule) (*RecipientWhitelist, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	params := DefaultRecipientParams
	if rule.Param != "" {
		params = []string{rule.Param}
	}
	return &RecipientWhitelist{params: params, recipients: rules.AddressSet(rule.Recipients)}, nil
}

// Name implements Policy.
func (w *RecipientWhitelist) Name() string { return string(TypeRecipientWhitelist) }

// Check implements Policy.
func (w *RecipientWhitelist) Check(action rules.ActionInput) Result {
	for _, p := range w.params {
		to, ok := action.StringParam(p)
		if !ok {
			continue
		}
		if _, listed := w.recipients[rules.NormalizeAddress(to)]; listed {
			return allow(TypeRecipientWhitelist, fmt.Sprintf("recipient %s is whitelisted", to), map[string]any{"recipient": to})
		}
		return deny(TypeRecipientWhitelist, fmt.Sprintf("recipient %s is not whitelisted", to), map[string]any{"recipient": to})
	}
	return allow(TypeRecipientWhitelist, "no recipient in action", nil)
}
