package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// RateLimitRule allows at most MaxCalls recorded executions within a
// sliding window of WindowSeconds. With PerAction each action type has its
// own window.
type RateLimitRule struct {
	MaxCalls      int   `yaml:"max_calls" json:"maxCalls"`
	WindowSeconds int64 `yaml:"window_seconds" json:"windowSeconds"`
	PerAction     bool  `yaml:"per_action,omitempty" json:"perAction,omitempty"`
}

func (RateLimitRule) RuleType() string     { return string(TypeRateLimit) }
func (RateLimitRule) Family() rules.Family { return rules.FamilyPolicy }

func (r RateLimitRule) Validate() error {
	if r.MaxCalls <= 0 {
		return invalid(TypeRateLimit, "max_calls must be positive")
	}
	if r.WindowSeconds <= 0 {
		return invalid(TypeRateLimit, "window_seconds must be positive")
	}
	return nil
}

func (r RateLimitRule) instantiate(opts []Option) (Policy, error) {
	return NewRateLimit(r, opts...)
}

// RateLimit enforces a RateLimitRule.
type RateLimit struct {
	rule       RateLimitRule
	window     time.Duration
	bucketSize time.Duration
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

// NewRateLimit creates a RateLimit.
func NewRateLimit(rule RateLimitRule, opts ...Option) (*RateLimit, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts, TypeRateLimit)
	window := time.Duration(rule.WindowSeconds) * time.Second
	bucket := window / 60
	if bucket < time.Second {
		bucket = time.Second
	}
	return &RateLimit{
		rule:       rule,
		window:     window,
		bucketSize: bucket,
		now:        o.now,
		windows:    make(map[string]*slidingWindow),
	}, nil
}

// Name implements Policy.
func (r *RateLimit) Name() string { return string(TypeRateLimit) }

func (r *RateLimit) key(action rules.ActionInput) string {
	if r.rule.PerAction {
		return action.Type
	}
	return ""
}

// Check implements Policy.
func (r *RateLimit) Check(action rules.ActionInput) Result {
	now := r.now()
	key := r.key(action)

	r.mu.Lock()
	var used int64
	var retryAfter time.Duration
	if w, ok := r.windows[key]; ok {
		used = w.sum(now)
		if oldest, ok := w.oldest(now); ok {
			retryAfter = oldest.Add(r.bucketSize + r.window).Sub(now)
		}
	}
	r.mu.Unlock()

	data := map[string]any{"calls": used, "maxCalls": r.rule.MaxCalls, "windowSeconds": r.rule.WindowSeconds}
	if used >= int64(r.rule.MaxCalls) {
		data["retryAfterSeconds"] = int64((retryAfter + time.Second - 1) / time.Second)
		return deny(TypeRateLimit, fmt.Sprintf("rate limit exceeded: %d calls in %ds window, max %d", used, r.rule.WindowSeconds, r.rule.MaxCalls), data)
	}
	return allow(TypeRateLimit, fmt.Sprintf("%d of %d calls used", used, r.rule.MaxCalls), data)
}

// Record implements Recorder.
func (r *RateLimit) Record(_ context.Context, action rules.ActionInput) error {
	r.RecordCall(action)
	return nil
}

// RecordCall counts one execution of action.
func (r *RateLimit) RecordCall(action rules.ActionInput) {
	now := r.now()
	key := r.key(action)

	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[key]
	if !ok {
		w = newSlidingWindow(r.window, r.bucketSize)
		r.windows[key] = w
	}
	w.add(now, 1)
}
