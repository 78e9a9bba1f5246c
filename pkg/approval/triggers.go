package approval

import (
	"strings"

	"mercator-hq/warden/pkg/rules"
)

// Predicate is a custom trigger function. It must not block.
type Predicate func(action rules.ActionInput) bool

// tokenParams are the parameters an amount-threshold trigger reads the
// action's asset from.
var tokenParams = []string{"token", "asset"}

// Matches returns the descriptions of the triggers action fires.
func (e *Engine) Matches(action rules.ActionInput) []string {
	var matched []string
	for _, t := range e.cfg.Triggers {
		if e.fires(t, action) {
			matched = append(matched, t.String())
		}
	}
	return matched
}

func (e *Engine) fires(t Trigger, action rules.ActionInput) bool {
	switch t.Type {
	case TriggerAlways:
		return true
	case TriggerActionType:
		_, ok := rules.MatchAny(t.Actions, action.Type)
		return ok
	case TriggerAmountThreshold:
		if t.Token != "" && !actionToken(action, t.Token) {
			return false
		}
		amount, param, found, ok := action.Amount()
		if !found {
			return false
		}
		if !ok {
			// An amount that cannot be read is treated as above any threshold.
			e.logger.Warn("unreadable amount, requiring approval",
				"param", param,
				"action", action.Type,
			)
			return true
		}
		return amount.Cmp(t.Threshold.Int()) >= 0
	case TriggerCustom:
		pred, ok := e.predicates[t.Predicate]
		if !ok {
			e.logger.Warn("custom trigger predicate not registered",
				"predicate", t.Predicate,
			)
			return false
		}
		return e.callPredicate(t.Predicate, pred, action)
	default:
		return false
	}
}

func (e *Engine) callPredicate(id string, pred Predicate, action rules.ActionInput) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("custom trigger predicate panicked",
				"predicate", id,
				"panic", r,
			)
			matched = true
		}
	}()
	return pred(action)
}

func actionToken(action rules.ActionInput, token string) bool {
	for _, name := range tokenParams {
		if v, ok := action.StringParam(name); ok {
			return strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(token))
		}
	}
	return false
}
