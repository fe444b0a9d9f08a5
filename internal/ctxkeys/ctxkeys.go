// Package ctxkeys holds the context keys shared by the engine, the scheduler
// and the checkpoint layer.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	executionIDKey contextKey = "execution_id"
	nodeIDKey      contextKey = "node_id"
	unitIDKey      contextKey = "unit_id"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return stringValue(ctx, traceIDKey)
}

// WithExecutionID 设置执行 ID（图运行或批次运行）
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionID 获取执行 ID
func ExecutionID(ctx context.Context) (string, bool) {
	return stringValue(ctx, executionIDKey)
}

// WithNodeID 设置当前图节点 ID
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// NodeID 获取当前图节点 ID
func NodeID(ctx context.Context) (string, bool) {
	return stringValue(ctx, nodeIDKey)
}

// WithUnitID 设置当前调度单元 ID
func WithUnitID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, unitIDKey, id)
}

// UnitID 获取当前调度单元 ID
func UnitID(ctx context.Context) (string, bool) {
	return stringValue(ctx, unitIDKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
