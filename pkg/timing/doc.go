// Package timing decides whether an action is allowed at the current instant
// or block position.
//
// Rule kinds: time-window, cooldown, epoch-based, block-delay,
// before-timestamp, after-timestamp, event-triggered and block-window.
//
// Checkers are pure over (rule, context, state). State is owned by the
// caller: last executions, per-epoch counters, observed events and reference
// blocks. A Recorder wraps a State with a mutex for callers that record
// executions and events from several goroutines.
package timing
