package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"mercator-hq/warden/pkg/policy/storage"
	"mercator-hq/warden/pkg/rules"
)

// SpendingCapRule limits the amount moved per transaction and per UTC day.
// An unset limit is not enforced.
type SpendingCapRule struct {
	MaxPerTx  rules.Amount `yaml:"max_per_tx,omitempty" json:"maxPerTx,omitzero"`
	MaxPerDay rules.Amount `yaml:"max_per_day,omitempty" json:"maxPerDay,omitzero"`
}

func (SpendingCapRule) RuleType() string     { return string(TypeSpendingCap) }
func (SpendingCapRule) Family() rules.Family { return rules.FamilyPolicy }

func (r SpendingCapRule) Validate() error {
	if !r.MaxPerTx.IsSet() && !r.MaxPerDay.IsSet() {
		return invalid(TypeSpendingCap, "max_per_tx or max_per_day is required")
	}
	if r.MaxPerTx.Sign() < 0 || r.MaxPerDay.Sign() < 0 {
		return invalid(TypeSpendingCap, "limits must not be negative")
	}
	return nil
}

func (r SpendingCapRule) instantiate(opts []Option) (Policy, error) {
	return NewSpendingCap(r, opts...)
}

// SpendingCap enforces a SpendingCapRule.
type SpendingCap struct {
	rule   SpendingCapRule
	now    func() time.Time
	logger *slog.Logger
	store  storage.Store
	key    string

	mu            sync.Mutex
	dailySpent    *big.Int
	totalSpent    *big.Int
	lastResetDate string
}

// NewSpendingCap creates a SpendingCap with zero spending.
func NewSpendingCap(rule SpendingCapRule, opts ...Option) (*SpendingCap, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts, TypeSpendingCap)
	return &SpendingCap{
		rule:          rule,
		now:           o.now,
		logger:        o.logger,
		store:         o.store,
		key:           o.key,
		dailySpent:    new(big.Int),
		totalSpent:    new(big.Int),
		lastResetDate: utcDate(o.now()),
	}, nil
}

// Name implements Policy.
func (s *SpendingCap) Name() string { return string(TypeSpendingCap) }

func utcDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// rolloverLocked resets the daily counter when the UTC date changed.
func (s *SpendingCap) rolloverLocked(now time.Time) {
	today := utcDate(now)
	if today == s.lastResetDate {
		return
	}
	s.logger.Debug("daily spending reset",
		"key", s.key,
		"previous_date", s.lastResetDate,
		"previous_spent", s.dailySpent.String())
	s.dailySpent.SetInt64(0)
	s.lastResetDate = today
}

// Check implements Policy. Actions without an amount parameter pass.
func (s *SpendingCap) Check(action rules.ActionInput) Result {
	amount, param, found, ok := action.Amount()
	if !found {
		return allow(TypeSpendingCap, "no amount in action", nil)
	}
	if !ok {
		v, _ := action.Param(param)
		return deny(TypeSpendingCap, fmt.Sprintf("invalid amount in %q: %v", param, v), nil)
	}
	if amount.Sign() < 0 {
		return deny(TypeSpendingCap, fmt.Sprintf("negative amount %s", amount), nil)
	}

	s.mu.Lock()
	s.rolloverLocked(s.now())
	daily := new(big.Int).Set(s.dailySpent)
	s.mu.Unlock()

	data := map[string]any{"amount": amount.String(), "dailySpent": daily.String()}
	if s.rule.MaxPerTx.IsSet() {
		maxTx := s.rule.MaxPerTx.Int()
		data["maxPerTx"] = maxTx.String()
		if amount.Cmp(maxTx) > 0 {
			return deny(TypeSpendingCap, fmt.Sprintf("amount %s exceeds per-transaction limit %s", amount, maxTx), data)
		}
	}
	if s.rule.MaxPerDay.IsSet() {
		maxDay := s.rule.MaxPerDay.Int()
		projected := new(big.Int).Add(daily, amount)
		data["maxPerDay"] = maxDay.String()
		if projected.Cmp(maxDay) > 0 {
			remaining := new(big.Int).Sub(maxDay, daily)
			if remaining.Sign() < 0 {
				remaining.SetInt64(0)
			}
			data["remaining"] = remaining.String()
			return deny(TypeSpendingCap, fmt.Sprintf("amount %s exceeds remaining daily limit %s", amount, remaining), data)
		}
	}
	return allow(TypeSpendingCap, "within spending limits", data)
}

// Record implements Recorder by recording the action's amount.
func (s *SpendingCap) Record(ctx context.Context, action rules.ActionInput) error {
	amount, _, found, ok := action.Amount()
	if !found || !ok {
		return nil
	}
	return s.RecordSpent(ctx, amount)
}

// RecordSpent adds amount to the daily and lifetime counters and persists
// them when a store is configured. Call it only after the action executed.
func (s *SpendingCap) RecordSpent(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}

	s.mu.Lock()
	s.rolloverLocked(s.now())
	s.dailySpent.Add(s.dailySpent, amount)
	s.totalSpent.Add(s.totalSpent, amount)
	state := s.stateLocked()
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, state); err != nil {
		return fmt.Errorf("persist spending state: %w", err)
	}
	return nil
}

// DailySpent returns the amount spent today.
func (s *SpendingCap) DailySpent() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(s.now())
	return new(big.Int).Set(s.dailySpent)
}

// State returns a snapshot of the counters.
func (s *SpendingCap) State() *storage.SpendingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *SpendingCap) stateLocked() *storage.SpendingState {
	return &storage.SpendingState{
		Policy:        s.key,
		DailySpent:    rules.AmountFromBig(s.dailySpent),
		LastResetDate: s.lastResetDate,
		TotalSpent:    rules.AmountFromBig(s.totalSpent),
		UpdatedAt:     s.now(),
	}
}

// Restore loads persisted counters from the configured store. A missing
// entry leaves the counters at zero. The daily counter still resets lazily
// if the stored date is not today.
func (s *SpendingCap) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	st, err := s.store.Load(ctx, s.key)
	if err != nil {
		return fmt.Errorf("load spending state: %w", err)
	}
	if st == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailySpent = st.DailySpent.Int()
	s.totalSpent = st.TotalSpent.Int()
	if st.LastResetDate != "" {
		s.lastResetDate = st.LastResetDate
	}
	s.logger.Info("restored spending state",
		"key", s.key,
		"daily_spent", s.dailySpent.String(),
		"last_reset_date", s.lastResetDate)
	return nil
}
