package wsgate

const (
	// ContextTraceIDKey 链路追踪trace_id键
	ContextTraceIDKey = "trace_id"
	// ContextUserIDKey 用户 ID 键
	ContextUserIDKey = "user_id"
)

// GetContextTraceID 获取上下文链路追踪trace_id
func GetContextTraceID(ctx *Context) string {
	return ctx.GetString(ContextTraceIDKey)
}

// SetContextTraceID 设置上下文链路追踪trace_id
func SetContextTraceID(ctx *Context, traceID string) {
	ctx.Set(ContextTraceIDKey, traceID)
}

// GetContextUserID 获取上下文用户 ID
func GetContextUserID(ctx *Context) string {
	return ctx.GetString(ContextUserIDKey)
}

// SetContextUserID 设置上下文用户 ID
func SetContextUserID(ctx *Context, userID string) {
	ctx.Set(ContextUserIDKey, userID)
}
