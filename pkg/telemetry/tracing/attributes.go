package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys under the "warden.*" namespace.
const (
	// Evaluation attributes
	AttrPolicy     = "warden.policy"
	AttrActionType = "warden.action.type"
	AttrRuleCount  = "warden.rules"

	// Per-rule attributes
	AttrRuleIndex  = "warden.rule.index"
	AttrRuleType   = "warden.rule.type"
	AttrRulePassed = "warden.rule.passed"

	// Decision attributes
	AttrAllowed    = "warden.allowed"
	AttrFailedRule = "warden.failed_rule"
	AttrReason     = "warden.reason"

	// Approval attributes
	AttrApprovalID     = "warden.approval.id"
	AttrApprovalStatus = "warden.approval.status"

	// API attributes
	AttrRequestID = "warden.request_id"
	AttrRoute     = "http.route"
	AttrMethod    = "http.request.method"
	AttrStatus    = "http.response.status_code"
)

// ActionAttributes describes the evaluated action.
func ActionAttributes(policy, actionType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPolicy, policy),
		attribute.String(AttrActionType, actionType),
	}
}

// RuleEvent records one rule result as a span event.
func RuleEvent(span trace.Span, index int, ruleType string, passed bool) {
	span.AddEvent("rule", trace.WithAttributes(
		attribute.Int(AttrRuleIndex, index),
		attribute.String(AttrRuleType, ruleType),
		attribute.Bool(AttrRulePassed, passed),
	))
}

// SetDecisionAttributes records the final decision on span.
func SetDecisionAttributes(span trace.Span, allowed bool, failedRule int, reason string) {
	span.SetAttributes(
		attribute.Bool(AttrAllowed, allowed),
		attribute.Int(AttrFailedRule, failedRule),
	)
	if !allowed && reason != "" {
		span.SetAttributes(attribute.String(AttrReason, reason))
	}
}

// SetApprovalAttributes records an approval request on span.
func SetApprovalAttributes(span trace.Span, requestID, status string) {
	if requestID != "" {
		span.SetAttributes(attribute.String(AttrApprovalID, requestID))
	}
	span.SetAttributes(attribute.String(AttrApprovalStatus, status))
}
