// Package engine evaluates agent actions against a composed policy.
//
// A templates.Policy is compiled once into an Instance, which owns the
// stateful parts of the policy: spending counters, rate limit windows,
// cooldown history, timing state and, when the policy carries a
// human-approval rule, an approval.Engine. Evaluation is a logical AND over
// the policy's rules:
//
//	inst, err := engine.Compile(policy, nil)
//	if err != nil {
//		return err
//	}
//	defer inst.Close()
//
//	d := inst.Evaluate(ctx, engine.Input{Action: action, Context: vctx})
//	if d.Allowed {
//		// execute the action, then
//		_ = inst.RecordExecution(ctx, in)
//	}
//
// Evaluate never blocks on a human: approval rules answer with the quick
// deny of approval.Engine.Check. EvaluateAsync instead opens an approval
// request and waits for it to resolve.
package engine
