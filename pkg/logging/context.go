package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	RuleIDKey      = "rule_id"
	NodeIndexKey   = "node_index"
	ServiceNameKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey(TraceIDKey), traceID)
}

func WithRuleID(ctx context.Context, ruleID string) context.Context {
	return context.WithValue(ctx, contextKey(RuleIDKey), ruleID)
}

func WithNodeIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, contextKey(NodeIndexKey), index)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, contextKey(ServiceNameKey), serviceName)
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKey(TraceIDKey)).(string); ok {
		return traceID
	}
	return ""
}

func GetRuleID(ctx context.Context) string {
	if ruleID, ok := ctx.Value(contextKey(RuleIDKey)).(string); ok {
		return ruleID
	}
	return ""
}

func GetNodeIndex(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(contextKey(NodeIndexKey)).(int)
	return index, ok
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(contextKey(ServiceNameKey)).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, TraceIDKey, traceID)
	}

	if ruleID := GetRuleID(ctx); ruleID != "" {
		fields = append(fields, RuleIDKey, ruleID)
	}

	if index, ok := GetNodeIndex(ctx); ok {
		fields = append(fields, NodeIndexKey, index)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, ServiceNameKey, serviceName)
	}

	return fields
}
