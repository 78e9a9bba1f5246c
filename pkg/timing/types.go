package timing

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// Type is a timing rule tag.
type Type string

const (
	TypeTimeWindow      Type = "time-window"
	TypeCooldown        Type = "cooldown"
	TypeEpochBased      Type = "epoch-based"
	TypeBlockDelay      Type = "block-delay"
	TypeBeforeTimestamp Type = "before-timestamp"
	TypeAfterTimestamp  Type = "after-timestamp"
	TypeEventTriggered  Type = "event-triggered"
	TypeBlockWindow     Type = "block-window"
)

// Types lists every timing rule tag.
var Types = []Type{
	TypeTimeWindow, TypeCooldown, TypeEpochBased, TypeBlockDelay,
	TypeBeforeTimestamp, TypeAfterTimestamp, TypeEventTriggered, TypeBlockWindow,
}

// ErrInvalidRule wraps timing rule configuration errors.
var ErrInvalidRule = errors.New("invalid timing rule")

// Rule is a timing rule configuration.
type Rule interface {
	rules.Rule

	// Validate reports configuration errors.
	Validate() error

	accept(v visitor, vctx rules.VerificationContext, state *State) rules.CheckResult
}

func invalid(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRule, t, fmt.Sprintf(format, args...))
}

// TimeWindow allows actions on Days between StartHour and EndHour in a fixed
// UTC offset. StartHour > EndHour is an overnight window; StartHour ==
// EndHour covers the whole day. An empty Days allows every day.
type TimeWindow struct {
	Days             []time.Weekday `yaml:"days,omitempty" json:"days,omitempty"`
	StartHour        int            `yaml:"start_hour" json:"startHour"`
	EndHour          int            `yaml:"end_hour" json:"endHour"`
	UTCOffsetMinutes int            `yaml:"utc_offset_minutes,omitempty" json:"utcOffsetMinutes,omitempty"`
}

func (TimeWindow) RuleType() string     { return string(TypeTimeWindow) }
func (TimeWindow) Family() rules.Family { return rules.FamilyTiming }

func (r TimeWindow) Validate() error {
	if r.StartHour < 0 || r.StartHour > 23 || r.EndHour < 0 || r.EndHour > 24 {
		return invalid(TypeTimeWindow, "hours must be within 0-23 (end may be 24)")
	}
	if r.UTCOffsetMinutes < -14*60 || r.UTCOffsetMinutes > 14*60 {
		return invalid(TypeTimeWindow, "utc offset out of range")
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return invalid(TypeTimeWindow, "invalid weekday %d", d)
		}
	}
	return nil
}

// Cooldown scopes.
const (
	ScopeGlobal      = "global"
	ScopePerAddress  = "per-address"
	ScopePerFunction = "per-function"
)

// DefaultFunctionField is the context field used by per-function cooldowns.
const DefaultFunctionField = "function"

// Cooldown requires PeriodSeconds between executions in the same scope.
type Cooldown struct {
	PeriodSeconds int64  `yaml:"period_seconds" json:"periodSeconds"`
	Scope         string `yaml:"scope,omitempty" json:"scope,omitempty"`

	// TrackBy names the context field keying per-address and per-function
	// scopes. per-address defaults to the sender.
	TrackBy string `yaml:"track_by,omitempty" json:"trackBy,omitempty"`

	// Key namespaces this rule's state entries.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

func (Cooldown) RuleType() string     { return string(TypeCooldown) }
func (Cooldown) Family() rules.Family { return rules.FamilyTiming }

func (r Cooldown) Validate() error {
	if r.PeriodSeconds <= 0 {
		return invalid(TypeCooldown, "period_seconds must be positive")
	}
	switch r.Scope {
	case "", ScopeGlobal, ScopePerAddress, ScopePerFunction:
	default:
		return invalid(TypeCooldown, "unknown scope %q", r.Scope)
	}
	return nil
}

// EpochBased limits executions per epoch. Epochs are block based when
// BlocksPerEpoch is set, time based otherwise.
type EpochBased struct {
	EpochStart           time.Time `yaml:"epoch_start,omitempty" json:"epochStart,omitempty"`
	EpochDurationSeconds int64     `yaml:"epoch_duration_seconds,omitempty" json:"epochDurationSeconds,omitempty"`
	StartBlock           uint64    `yaml:"start_block,omitempty" json:"startBlock,omitempty"`
	BlocksPerEpoch       uint64    `yaml:"blocks_per_epoch,omitempty" json:"blocksPerEpoch,omitempty"`
	AllowedEpochs        []int64   `yaml:"allowed_epochs,omitempty" json:"allowedEpochs,omitempty"`
	MaxPerEpoch          int       `yaml:"max_per_epoch,omitempty" json:"maxPerEpoch,omitempty"`
	Key                  string    `yaml:"key,omitempty" json:"key,omitempty"`
}

func (EpochBased) RuleType() string     { return string(TypeEpochBased) }
func (EpochBased) Family() rules.Family { return rules.FamilyTiming }

func (r EpochBased) Validate() error {
	if r.BlocksPerEpoch == 0 && r.EpochDurationSeconds <= 0 {
		return invalid(TypeEpochBased, "blocks_per_epoch or epoch_duration_seconds is required")
	}
	if r.MaxPerEpoch < 0 {
		return invalid(TypeEpochBased, "max_per_epoch must not be negative")
	}
	return nil
}

// BlockDelay requires at least MinBlocks and, when MaxBlocks is set, at most
// MaxBlocks since a reference block. The reference is ReferenceBlock when
// set, otherwise the state reference named Reference.
type BlockDelay struct {
	MinBlocks      uint64 `yaml:"min_blocks" json:"minBlocks"`
	MaxBlocks      uint64 `yaml:"max_blocks,omitempty" json:"maxBlocks,omitempty"`
	ReferenceBlock uint64 `yaml:"reference_block,omitempty" json:"referenceBlock,omitempty"`
	Reference      string `yaml:"reference,omitempty" json:"reference,omitempty"`
}

func (BlockDelay) RuleType() string     { return string(TypeBlockDelay) }
func (BlockDelay) Family() rules.Family { return rules.FamilyTiming }

func (r BlockDelay) Validate() error {
	if r.MaxBlocks > 0 && r.MaxBlocks < r.MinBlocks {
		return invalid(TypeBlockDelay, "max_blocks must not be below min_blocks")
	}
	if r.ReferenceBlock == 0 && r.Reference == "" {
		return invalid(TypeBlockDelay, "reference_block or reference is required")
	}
	return nil
}

// BeforeTimestamp allows actions strictly before Timestamp, or at it when
// Inclusive.
type BeforeTimestamp struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Inclusive bool      `yaml:"inclusive,omitempty" json:"inclusive,omitempty"`
}

func (BeforeTimestamp) RuleType() string     { return string(TypeBeforeTimestamp) }
func (BeforeTimestamp) Family() rules.Family { return rules.FamilyTiming }

func (r BeforeTimestamp) Validate() error {
	if r.Timestamp.IsZero() {
		return invalid(TypeBeforeTimestamp, "timestamp is required")
	}
	return nil
}

// AfterTimestamp allows actions strictly after Timestamp, or at it when
// Inclusive.
type AfterTimestamp struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Inclusive bool      `yaml:"inclusive,omitempty" json:"inclusive,omitempty"`
}

func (AfterTimestamp) RuleType() string     { return string(TypeAfterTimestamp) }
func (AfterTimestamp) Family() rules.Family { return rules.FamilyTiming }

func (r AfterTimestamp) Validate() error {
	if r.Timestamp.IsZero() {
		return invalid(TypeAfterTimestamp, "timestamp is required")
	}
	return nil
}

// EventTriggered requires Event to have been observed, and the blocks since
// it to fall within [MinBlocksAfterEvent, MaxBlocksAfterEvent]. A zero
// maximum is unbounded.
type EventTriggered struct {
	Event               string `yaml:"event" json:"event"`
	MinBlocksAfterEvent uint64 `yaml:"min_blocks_after_event,omitempty" json:"minBlocksAfterEvent,omitempty"`
	MaxBlocksAfterEvent uint64 `yaml:"max_blocks_after_event,omitempty" json:"maxBlocksAfterEvent,omitempty"`
}

func (EventTriggered) RuleType() string     { return string(TypeEventTriggered) }
func (EventTriggered) Family() rules.Family { return rules.FamilyTiming }

func (r EventTriggered) Validate() error {
	if r.Event == "" {
		return invalid(TypeEventTriggered, "event is required")
	}
	if r.MaxBlocksAfterEvent > 0 && r.MaxBlocksAfterEvent < r.MinBlocksAfterEvent {
		return invalid(TypeEventTriggered, "max_blocks_after_event must not be below min_blocks_after_event")
	}
	return nil
}

// BlockWindow allows actions while the block position is within
// [StartBlock, EndBlock]. A zero EndBlock is unbounded.
type BlockWindow struct {
	StartBlock uint64 `yaml:"start_block" json:"startBlock"`
	EndBlock   uint64 `yaml:"end_block,omitempty" json:"endBlock,omitempty"`
}

func (BlockWindow) RuleType() string     { return string(TypeBlockWindow) }
func (BlockWindow) Family() rules.Family { return rules.FamilyTiming }

func (r BlockWindow) Validate() error {
	if r.EndBlock > 0 && r.EndBlock < r.StartBlock {
		return invalid(TypeBlockWindow, "end_block must not be below start_block")
	}
	return nil
}
