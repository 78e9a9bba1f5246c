package timing

import (
	"fmt"
	"slices"
	"time"

	"mercator-hq/warden/pkg/rules"
)

type visitor interface {
	visitTimeWindow(TimeWindow, rules.VerificationContext, *State) rules.CheckResult
	visitCooldown(Cooldown, rules.VerificationContext, *State) rules.CheckResult
	visitEpochBased(EpochBased, rules.VerificationContext, *State) rules.CheckResult
	visitBlockDelay(BlockDelay, rules.VerificationContext, *State) rules.CheckResult
	visitBeforeTimestamp(BeforeTimestamp, rules.VerificationContext, *State) rules.CheckResult
	visitAfterTimestamp(AfterTimestamp, rules.VerificationContext, *State) rules.CheckResult
	visitEventTriggered(EventTriggered, rules.VerificationContext, *State) rules.CheckResult
	visitBlockWindow(BlockWindow, rules.VerificationContext, *State) rules.CheckResult
}

func (r TimeWindow) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitTimeWindow(r, c, s)
}
func (r Cooldown) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitCooldown(r, c, s)
}
func (r EpochBased) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitEpochBased(r, c, s)
}
func (r BlockDelay) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitBlockDelay(r, c, s)
}
func (r BeforeTimestamp) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitBeforeTimestamp(r, c, s)
}
func (r AfterTimestamp) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitAfterTimestamp(r, c, s)
}
func (r EventTriggered) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitEventTriggered(r, c, s)
}
func (r BlockWindow) accept(v visitor, c rules.VerificationContext, s *State) rules.CheckResult {
	return v.visitBlockWindow(r, c, s)
}

type checker struct{}

var _ visitor = checker{}

// Check evaluates rule at vctx against state. state may be nil and is never
// modified.
func Check(rule Rule, vctx rules.VerificationContext, state *State) rules.CheckResult {
	if rule == nil {
		return rules.CheckUnknown(rules.Unknown{Type: "<nil>"})
	}
	return rule.accept(checker{}, vctx, state)
}

// InWindow reports whether hour falls in [start, end), wrapping overnight
// when start > end. start == end is the whole day.
func InWindow(start, end, hour int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func (checker) visitTimeWindow(r TimeWindow, vctx rules.VerificationContext, _ *State) rules.CheckResult {
	t := r.RuleType()
	local := vctx.Timestamp.In(time.FixedZone("", r.UTCOffsetMinutes*60))
	hour := local.Hour()
	data := map[string]any{"hour": hour, "weekday": local.Weekday().String()}

	if len(r.Days) > 0 && !slices.Contains(r.Days, local.Weekday()) {
		return rules.Fail(t, fmt.Sprintf("actions not allowed on %s", local.Weekday()), data)
	}
	if !InWindow(r.StartHour, r.EndHour, hour) {
		return rules.Fail(t, fmt.Sprintf("hour %d outside allowed window %02d:00-%02d:00", hour, r.StartHour, r.EndHour), data)
	}
	return rules.Pass(t, "within allowed time window", data)
}

func (checker) visitCooldown(r Cooldown, vctx rules.VerificationContext, state *State) rules.CheckResult {
	t := r.RuleType()
	key, ok := CooldownKey(r, vctx)
	if !ok {
		return rules.Fail(t, fmt.Sprintf("cooldown: context has no subject for scope %s", r.Scope), nil)
	}
	last, seen := state.lastExecution(key)
	if !seen {
		return rules.Pass(t, "no prior execution", map[string]any{"key": key})
	}

	period := time.Duration(r.PeriodSeconds) * time.Second
	elapsed := vctx.Timestamp.Sub(last)
	data := map[string]any{"key": key, "elapsedSeconds": int64(elapsed / time.Second)}
	if elapsed < period {
		remaining := int64((period - elapsed + time.Second - 1) / time.Second)
		data["remainingSeconds"] = remaining
		return rules.Fail(t, fmt.Sprintf("cooldown active, %d seconds remaining", remaining), data)
	}
	return rules.Pass(t, "cooldown elapsed", data)
}

func (checker) visitEpochBased(r EpochBased, vctx rules.VerificationContext, state *State) rules.CheckResult {
	t := r.RuleType()
	if err := r.Validate(); err != nil {
		return rules.Fail(t, err.Error(), nil)
	}
	epoch := Epoch(r, vctx)
	if epoch < 0 {
		return rules.Fail(t, "epoch schedule has not started", nil)
	}
	data := map[string]any{"epoch": epoch}
	if len(r.AllowedEpochs) > 0 && !slices.Contains(r.AllowedEpochs, epoch) {
		return rules.Fail(t, fmt.Sprintf("epoch %d is not an allowed epoch", epoch), data)
	}
	if r.MaxPerEpoch > 0 {
		count := state.epochCount(EpochKey(r, epoch))
		data["count"] = count
		data["maxPerEpoch"] = r.MaxPerEpoch
		if count >= r.MaxPerEpoch {
			return rules.Fail(t, fmt.Sprintf("epoch %d limit reached: %d of %d executions", epoch, count, r.MaxPerEpoch), data)
		}
	}
	return rules.Pass(t, fmt.Sprintf("epoch %d allowed", epoch), data)
}

func (checker) visitBlockDelay(r BlockDelay, vctx rules.VerificationContext, state *State) rules.CheckResult {
	t := r.RuleType()
	ref := r.ReferenceBlock
	if ref == 0 {
		b, ok := state.referenceBlock(r.Reference)
		if !ok {
			return rules.Fail(t, fmt.Sprintf("block-delay: reference %q not recorded", r.Reference), nil)
		}
		ref = b
	}
	if vctx.BlockPosition < ref {
		return rules.Fail(t, fmt.Sprintf("block %d is before reference block %d", vctx.BlockPosition, ref), nil)
	}

	elapsed := vctx.BlockPosition - ref
	data := map[string]any{"blocksElapsed": elapsed, "referenceBlock": ref}
	if elapsed < r.MinBlocks {
		return rules.Fail(t, fmt.Sprintf("%d blocks elapsed, %d required", elapsed, r.MinBlocks), data)
	}
	if r.MaxBlocks > 0 && elapsed > r.MaxBlocks {
		return rules.Fail(t, fmt.Sprintf("%d blocks elapsed, deadline was %d", elapsed, r.MaxBlocks), data)
	}
	return rules.Pass(t, fmt.Sprintf("%d blocks elapsed", elapsed), data)
}

func (checker) visitBeforeTimestamp(r BeforeTimestamp, vctx rules.VerificationContext, _ *State) rules.CheckResult {
	t := r.RuleType()
	ok := vctx.Timestamp.Before(r.Timestamp)
	if r.Inclusive {
		ok = !vctx.Timestamp.After(r.Timestamp)
	}
	deadline := r.Timestamp.UTC().Format(time.RFC3339)
	if !ok {
		return rules.Fail(t, "deadline "+deadline+" has passed", map[string]any{"timestamp": deadline})
	}
	return rules.Pass(t, "before "+deadline, map[string]any{"timestamp": deadline})
}

func (checker) visitAfterTimestamp(r AfterTimestamp, vctx rules.VerificationContext, _ *State) rules.CheckResult {
	t := r.RuleType()
	ok := vctx.Timestamp.After(r.Timestamp)
	if r.Inclusive {
		ok = !vctx.Timestamp.Before(r.Timestamp)
	}
	start := r.Timestamp.UTC().Format(time.RFC3339)
	if !ok {
		return rules.Fail(t, "not allowed before "+start, map[string]any{"timestamp": start})
	}
	return rules.Pass(t, "after "+start, map[string]any{"timestamp": start})
}

func (checker) visitEventTriggered(r EventTriggered, vctx rules.VerificationContext, state *State) rules.CheckResult {
	t := r.RuleType()
	ev, ok := state.event(r.Event)
	if !ok {
		return rules.Fail(t, fmt.Sprintf("event %q has not occurred", r.Event), nil)
	}
	if vctx.BlockPosition < ev.Block {
		return rules.Fail(t, fmt.Sprintf("event %q is ahead of block %d", r.Event, vctx.BlockPosition), nil)
	}

	since := vctx.BlockPosition - ev.Block
	data := map[string]any{"event": r.Event, "eventBlock": ev.Block, "blocksSinceEvent": since}
	if since < r.MinBlocksAfterEvent {
		return rules.Fail(t, fmt.Sprintf("%d blocks since %s, %d required", since, r.Event, r.MinBlocksAfterEvent), data)
	}
	if r.MaxBlocksAfterEvent > 0 && since > r.MaxBlocksAfterEvent {
		return rules.Fail(t, fmt.Sprintf("%d blocks since %s, window closed after %d", since, r.Event, r.MaxBlocksAfterEvent), data)
	}
	return rules.Pass(t, fmt.Sprintf("%d blocks since %s", since, r.Event), data)
}

func (checker) visitBlockWindow(r BlockWindow, vctx rules.VerificationContext, _ *State) rules.CheckResult {
	t := r.RuleType()
	pos := vctx.BlockPosition
	data := map[string]any{"block": pos}
	if pos < r.StartBlock {
		return rules.Fail(t, fmt.Sprintf("block %d before window start %d", pos, r.StartBlock), data)
	}
	if r.EndBlock > 0 && pos > r.EndBlock {
		return rules.Fail(t, fmt.Sprintf("block %d after window end %d", pos, r.EndBlock), data)
	}
	return rules.Pass(t, "within block window", data)
}
