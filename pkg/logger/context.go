package logger

import "context"

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	connIDKey  contextKey = "conn_id"
	userIDKey  contextKey = "user_id"
)

// WithTraceID 注入 trace_id（无 OpenTelemetry Span 时使用）
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithConnID 注入连接 ID
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

// WithUserID 注入用户 ID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ConnIDFrom 读取连接 ID
func ConnIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(connIDKey).(string)
	return v
}

// UserIDFrom 读取用户 ID
func UserIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
