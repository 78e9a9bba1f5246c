package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// CooldownRule requires Seconds between recorded executions. With
// PerAction each action type cools down independently.
type CooldownRule struct {
	Seconds   int64 `yaml:"seconds" json:"seconds"`
	PerAction bool  `yaml:"per_action,omitempty" json:"perAction,omitempty"`
}

func (CooldownRule) RuleType() string     { return string(TypeActionCooldown) }
func (CooldownRule) Family() rules.Family { return rules.FamilyPolicy }

func (r CooldownRule) Validate() error {
	if r.Seconds <= 0 {
		return invalid(TypeActionCooldown, "seconds must be positive")
	}
	return nil
}

func (r CooldownRule) instantiate(opts []Option) (Policy, error) {
	return NewCooldown(r, opts...)
}

// Cooldown enforces a CooldownRule.
type Cooldown struct {
	rule   CooldownRule
	period time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown creates a Cooldown.
func NewCooldown(rule CooldownRule, opts ...Option) (*Cooldown, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts, TypeActionCooldown)
	return &Cooldown{
		rule:   rule,
		period: time.Duration(rule.Seconds) * time.Second,
		now:    o.now,
		last:   make(map[string]time.Time),
	}, nil
}

// Name implements Policy.
func (c *Cooldown) Name() string { return string(TypeActionCooldown) }

func (c *Cooldown) key(action rules.ActionInput) string {
	if c.rule.PerAction {
		return action.Type
	}
	return ""
}

// Check implements Policy.
func (c *Cooldown) Check(action rules.ActionInput) Result {
	now := c.now()
	c.mu.Lock()
	last, ok := c.last[c.key(action)]
	c.mu.Unlock()

	if !ok {
		return allow(TypeActionCooldown, "no prior execution", nil)
	}
	elapsed := now.Sub(last)
	if elapsed < c.period {
		remaining := int64((c.period - elapsed + time.Second - 1) / time.Second)
		return deny(TypeActionCooldown, fmt.Sprintf("cooldown active, %d seconds remaining", remaining),
			map[string]any{"remainingSeconds": remaining})
	}
	return allow(TypeActionCooldown, "cooldown elapsed", nil)
}

// Record implements Recorder.
func (c *Cooldown) Record(_ context.Context, action rules.ActionInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[c.key(action)] = c.now()
	return nil
}
