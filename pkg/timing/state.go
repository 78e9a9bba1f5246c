package timing

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// Event is an observed event occurrence.
type Event struct {
	Block     uint64    `json:"block"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the caller-owned history timing rules are evaluated against.
// The zero value is empty and usable.
type State struct {
	LastExecutions  map[string]time.Time `json:"lastExecutions,omitempty"`
	EpochCounts     map[string]int       `json:"epochCounts,omitempty"`
	Events          map[string]Event     `json:"events,omitempty"`
	ReferenceBlocks map[string]uint64    `json:"referenceBlocks,omitempty"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	return &State{
		LastExecutions:  maps.Clone(s.LastExecutions),
		EpochCounts:     maps.Clone(s.EpochCounts),
		Events:          maps.Clone(s.Events),
		ReferenceBlocks: maps.Clone(s.ReferenceBlocks),
	}
}

func (s *State) lastExecution(key string) (time.Time, bool) {
	if s == nil || s.LastExecutions == nil {
		return time.Time{}, false
	}
	t, ok := s.LastExecutions[key]
	return t, ok
}

func (s *State) epochCount(key string) int {
	if s == nil || s.EpochCounts == nil {
		return 0
	}
	return s.EpochCounts[key]
}

func (s *State) event(name string) (Event, bool) {
	if s == nil || s.Events == nil {
		return Event{}, false
	}
	e, ok := s.Events[name]
	return e, ok
}

func (s *State) referenceBlock(name string) (uint64, bool) {
	if s == nil || s.ReferenceBlocks == nil {
		return 0, false
	}
	b, ok := s.ReferenceBlocks[name]
	return b, ok
}

// CooldownKey returns the state key a cooldown rule tracks for vctx. The
// second result is false when the scope subject is missing from vctx.
func CooldownKey(r Cooldown, vctx rules.VerificationContext) (string, bool) {
	ns := r.Key
	if ns == "" {
		ns = string(TypeCooldown)
	}
	switch r.Scope {
	case "", ScopeGlobal:
		return ns + ":" + ScopeGlobal, true
	case ScopePerAddress:
		addr := vctx.Sender
		if r.TrackBy != "" {
			v, ok := vctx.Field(r.TrackBy)
			if !ok {
				return "", false
			}
			addr = v
		}
		if addr == "" {
			return "", false
		}
		return ns + ":" + ScopePerAddress + ":" + rules.NormalizeAddress(addr), true
	case ScopePerFunction:
		field := r.TrackBy
		if field == "" {
			field = DefaultFunctionField
		}
		fn, ok := vctx.Field(field)
		if !ok {
			return "", false
		}
		return ns + ":" + ScopePerFunction + ":" + fn, true
	}
	return "", false
}

// Epoch returns the epoch index for vctx. It is negative before the epoch
// origin.
func Epoch(r EpochBased, vctx rules.VerificationContext) int64 {
	if r.BlocksPerEpoch > 0 {
		if vctx.BlockPosition < r.StartBlock {
			return -1
		}
		return int64((vctx.BlockPosition - r.StartBlock) / r.BlocksPerEpoch)
	}
	if r.EpochDurationSeconds <= 0 {
		return -1
	}
	elapsed := vctx.Timestamp.Sub(r.EpochStart)
	if elapsed < 0 {
		return -1
	}
	return int64(elapsed / (time.Duration(r.EpochDurationSeconds) * time.Second))
}

// EpochKey returns the state key counting executions in epoch.
func EpochKey(r EpochBased, epoch int64) string {
	ns := r.Key
	if ns == "" {
		ns = string(TypeEpochBased)
	}
	return fmt.Sprintf("%s:%d", ns, epoch)
}

// Recorder guards a State for concurrent use.
type Recorder struct {
	mu    sync.RWMutex
	state *State
}

// NewRecorder wraps initial, which may be nil. The recorder takes a copy.
func NewRecorder(initial *State) *Recorder {
	return &Recorder{state: initial.Clone()}
}

// Snapshot returns a copy of the current state.
func (r *Recorder) Snapshot() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Check evaluates rule against the current state.
func (r *Recorder) Check(rule Rule, vctx rules.VerificationContext) rules.CheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Check(rule, vctx, r.state)
}

// RecordExecution updates the cooldown and epoch history of the given rules
// after an action executed at vctx. Other rule kinds are ignored.
func (r *Recorder) RecordExecution(vctx rules.VerificationContext, ruleset ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range ruleset {
		switch rr := rule.(type) {
		case Cooldown:
			if key, ok := CooldownKey(rr, vctx); ok {
				if r.state.LastExecutions == nil {
					r.state.LastExecutions = make(map[string]time.Time)
				}
				r.state.LastExecutions[key] = vctx.Timestamp
			}
		case EpochBased:
			if epoch := Epoch(rr, vctx); epoch >= 0 {
				if r.state.EpochCounts == nil {
					r.state.EpochCounts = make(map[string]int)
				}
				r.state.EpochCounts[EpochKey(rr, epoch)]++
			}
		}
	}
}

// ObserveEvent records an event occurrence, replacing any earlier one.
func (r *Recorder) ObserveEvent(name string, block uint64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Events == nil {
		r.state.Events = make(map[string]Event)
	}
	r.state.Events[name] = Event{Block: block, Timestamp: at}
}

// SetReference sets a named reference block for block-delay rules.
func (r *Recorder) SetReference(name string, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.ReferenceBlocks == nil {
		r.state.ReferenceBlocks = make(map[string]uint64)
	}
	r.state.ReferenceBlocks[name] = block
}
