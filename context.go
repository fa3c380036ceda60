package wsgate

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/wsgate/pkg/errors"
	"github.com/tokmz/wsgate/pkg/logger"
	"github.com/tokmz/wsgate/pkg/tracing"
)

// Context 包装 gin.Context，gin.Context 作为私有字段不对外暴露
type Context struct {
	ctx *gin.Context
}

// NewContext 创建新的上下文（用于测试）
func NewContext(c *gin.Context) *Context {
	return &Context{ctx: c}
}

// Request 返回底层的 *http.Request
func (c *Context) Request() *http.Request {
	return c.ctx.Request
}

// Writer 返回底层的 http.ResponseWriter
func (c *Context) Writer() gin.ResponseWriter {
	return c.ctx.Writer
}

// FullPath 获取路由模板路径
func (c *Context) FullPath() string {
	return c.ctx.FullPath()
}

// Query 获取 URL 查询参数
func (c *Context) Query(key string) string {
	return c.ctx.Query(key)
}

// JSON 发送 JSON 响应
func (c *Context) JSON(code int, obj any) {
	c.ctx.JSON(code, obj)
}

// Set 设置上下文键值对
func (c *Context) Set(key string, value any) {
	c.ctx.Set(key, value)
}

// Get 获取上下文键值对
func (c *Context) Get(key string) (any, bool) {
	return c.ctx.Get(key)
}

// GetString 获取字符串类型的上下文值
func (c *Context) GetString(key string) string {
	return c.ctx.GetString(key)
}

// Next 执行下一个中间件或处理函数
func (c *Context) Next() {
	c.ctx.Next()
}

// Abort 中止请求处理
func (c *Context) Abort() {
	c.ctx.Abort()
}

// AbortWithStatus 中止请求并设置状态码
func (c *Context) AbortWithStatus(code int) {
	c.ctx.AbortWithStatus(code)
}

// IsAborted 检查请求是否已中止
func (c *Context) IsAborted() bool {
	return c.ctx.IsAborted()
}

// ClientIP 获取客户端 IP
func (c *Context) ClientIP() string {
	return c.ctx.ClientIP()
}

// GetHeader 获取请求头
func (c *Context) GetHeader(key string) string {
	return c.ctx.GetHeader(key)
}

// Header 设置响应头
func (c *Context) Header(key, value string) {
	c.ctx.Header(key, value)
}

// ============ 响应方法 ============

// Success 成功响应
func (c *Context) Success(data any) {
	c.respond(http.StatusOK, Success(data))
}

// Fail 失败响应，HTTP 状态码固定 200，业务码放在 code 字段
func (c *Context) Fail(code int, message string) {
	c.respond(http.StatusOK, Fail(code, message))
}

// AbortWithError 以错误响应中止请求
func (c *Context) AbortWithError(err error) {
	c.RespondError(err)
	c.ctx.Abort()
}

// RespondError 错误响应
func (c *Context) RespondError(err error) {
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		c.respond(bizErr.HttpCode, NewResponse(bizErr.Code, nil, bizErr.Message))
		return
	}

	// 未知错误使用 ErrServer 的错误码，保留原始错误信息
	message := errors.ErrServer.Message
	if err != nil {
		message = err.Error()
	}
	c.respond(errors.ErrServer.HttpCode, NewResponse(errors.ErrServer.Code, nil, message))
}

// respond 统一响应处理（自动添加 TraceID）
func (c *Context) respond(statusCode int, resp *Response) {
	if traceID := GetContextTraceID(c); traceID != "" {
		resp.WithTraceID(traceID)
	}
	c.JSON(statusCode, resp)
}

// RequestContext 返回标准库 context.Context，用于传递给 Service 层
// 无 OTel Span 时将 trace_id 与 user_id 写入 logger 的 context key
func (c *Context) RequestContext() context.Context {
	ctx := c.ctx.Request.Context()

	if tracing.TraceID(ctx) == "" {
		if traceID := GetContextTraceID(c); traceID != "" {
			ctx = logger.WithTraceID(ctx, traceID)
		}
	}
	if userID := GetContextUserID(c); userID != "" {
		ctx = logger.WithUserID(ctx, userID)
	}
	return ctx
}

// SetRequestContext 更新 Request 的 Context（用于中间件注入 SpanContext）
func (c *Context) SetRequestContext(ctx context.Context) {
	c.ctx.Request = c.ctx.Request.WithContext(ctx)
}
