// Package approval gates actions behind a human decision.
//
// A Config lists triggers (action types, amount thresholds, always, or a
// registered predicate). When any trigger matches an action the action needs
// approval; otherwise it is allowed with status not-required.
//
// The Engine offers two entry points:
//
//   - Check is synchronous. It never blocks and reports a triggered action
//     as denied with status pending.
//   - Submit and CheckAsync open a request and resolve it through the
//     configured channel: a callback Approver, a webhook notification
//     followed by Approve/Reject, or plain polling through PendingRequests.
//
// Every request resolves exactly once. Whichever of approval, rejection,
// timeout or cancellation happens first wins; later attempts return
// ErrAlreadyResolved. A timed-out request is a deny with status timed-out.
//
//	eng, err := approval.New(approval.Config{
//		Triggers:       []approval.Trigger{{Type: approval.TriggerAmountThreshold, Threshold: rules.MustAmount("1000000000000000000")}},
//		TimeoutSeconds: 300,
//		Channel:        approval.ChannelPoll,
//	})
//	fut, err := eng.Submit(ctx, action)
//	// elsewhere: eng.Approve(fut.RequestID())
//	decision, err := fut.Wait(ctx)
package approval
