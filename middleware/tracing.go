package middleware

import (
	"fmt"
	"strings"

	"github.com/tokmz/wsgate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig 链路追踪中间件配置
type TracingConfig struct {
	// TracerName Tracer 名称（默认 "wsgate.http"）
	TracerName string

	// SpanNameFormatter 自定义 Span 名称格式
	SpanNameFormatter func(c *wsgate.Context) string

	// Filter 过滤不需要追踪的请求
	// 返回 true 表示需要追踪，false 表示跳过
	Filter func(c *wsgate.Context) bool

	// ExcludePaths 排除的路径（不追踪）
	ExcludePaths []string
}

// DefaultTracingConfig 返回默认配置
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		TracerName: "wsgate.http",
		SpanNameFormatter: func(c *wsgate.Context) string {
			return fmt.Sprintf("%s %s", c.Request().Method, c.FullPath())
		},
	}
}

// Tracing 创建链路追踪中间件
// 自动提取/注入 TraceContext，创建 HTTP Server Span
// 升级请求的 Span 只覆盖握手，会话本身的 Span 由会话层创建
func Tracing(cfgs ...*TracingConfig) wsgate.HandlerFunc {
	cfg := DefaultTracingConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	// 构建跳过路径 map
	skipMap := make(map[string]bool)
	for _, path := range cfg.ExcludePaths {
		skipMap[path] = true
	}

	return func(c *wsgate.Context) {
		// 检查是否跳过
		if cfg.Filter != nil && !cfg.Filter(c) {
			c.Next()
			return
		}
		if skipMap[c.Request().URL.Path] {
			c.Next()
			return
		}

		// 每次请求时获取 tracer 和 propagator，避免 Provider 后初始化导致使用 noop
		tracer := otel.Tracer(cfg.TracerName)
		propagator := otel.GetTextMapPropagator()

		// 从 HTTP Header 提取上游 TraceContext（如果有）
		ctx := propagator.Extract(c.Request().Context(), propagation.HeaderCarrier(c.Request().Header))

		// 创建 Server Span（OTel 自动生成 TraceID/SpanID）
		spanName := cfg.SpanNameFormatter(c)
		if spanName == "" || strings.HasSuffix(spanName, " ") {
			// FullPath() 未匹配路由时返回空字符串，回退到 URL.Path
			spanName = fmt.Sprintf("%s %s", c.Request().Method, c.Request().URL.Path)
		}
		spanAttrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(c.Request().Method),
			semconv.URLPath(c.Request().URL.Path),
			semconv.ServerAddress(c.Request().Host),
			semconv.UserAgentOriginalKey.String(c.Request().UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		if fullPath := c.FullPath(); fullPath != "" {
			spanAttrs = append(spanAttrs, semconv.HTTPRouteKey.String(fullPath))
		}
		ctx, span := tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(spanAttrs...),
		)
		defer span.End()

		if isUpgrade(c) {
			span.SetAttributes(attribute.Bool("websocket.upgrade", true))
		}

		// 将 OTel 生成的 TraceID 同步到 wsgate.Context
		traceID := span.SpanContext().TraceID().String()
		wsgate.SetContextTraceID(c, traceID)

		// 将 SpanContext 注入到 Request.Context
		c.SetRequestContext(ctx)

		// 响应头须在写出响应体之前设置；升级请求的 101 由 Upgrader 直接写到劫持的连接上
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer().Header()))

		c.Next()

		// 记录响应状态
		statusCode := c.Writer().Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(statusCode))

		if statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		}
	}
}

func isUpgrade(c *wsgate.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
