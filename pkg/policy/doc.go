// Package policy implements stateful action policies: spending caps, action
// and recipient allow/deny lists, rate limits and cooldowns.
//
// Each policy kind has an immutable rule (its configuration, decodable from
// a rule document) and a stateful instance created from it with New. An
// instance's Check never changes state; callers record an action through
// the Recorder methods only after it actually executed.
//
//	sc, err := policy.NewSpendingCap(policy.SpendingCapRule{
//		MaxPerTx:  rules.MustAmount("1000000000000000000"),
//		MaxPerDay: rules.MustAmount("5000000000000000000"),
//	})
//	res := sc.Check(action)
//	if res.Allowed {
//		execute(action)
//		_ = sc.Record(ctx, action)
//	}
//
// # Thread Safety
//
// All instances are safe for concurrent use. Allow/deny lists replace their
// pattern set atomically, so readers never observe a partial update.
package policy
