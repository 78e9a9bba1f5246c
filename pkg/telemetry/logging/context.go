package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	policyKey    contextKey = "policy"
	agentKey     contextKey = "agent"
	approvalKey  contextKey = "approval_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPolicy adds the evaluated policy name to the context.
func WithPolicy(ctx context.Context, policy string) context.Context {
	return context.WithValue(ctx, policyKey, policy)
}

// GetPolicy retrieves the policy name from the context.
func GetPolicy(ctx context.Context) string {
	p, _ := ctx.Value(policyKey).(string)
	return p
}

// WithAgent adds the acting agent's address to the context.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// GetAgent retrieves the agent address from the context.
func GetAgent(ctx context.Context) string {
	a, _ := ctx.Value(agentKey).(string)
	return a
}

// WithApprovalID adds an approval request ID to the context.
func WithApprovalID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, approvalKey, id)
}

// GetApprovalID retrieves the approval request ID from the context.
func GetApprovalID(ctx context.Context) string {
	id, _ := ctx.Value(approvalKey).(string)
	return id
}

// contextAttrs collects the fields stored in ctx, including the active
// span's trace and span IDs.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v := GetPolicy(ctx); v != "" {
		attrs = append(attrs, slog.String("policy", v))
	}
	if v := GetAgent(ctx); v != "" {
		attrs = append(attrs, slog.String("agent", v))
	}
	if v := GetApprovalID(ctx); v != "" {
		attrs = append(attrs, slog.String("approval_id", v))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}
