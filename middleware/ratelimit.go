package middleware

import (
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wsgate"
	"github.com/tokmz/wsgate/pkg/cache"
	"github.com/tokmz/wsgate/pkg/errors"
	"github.com/tokmz/wsgate/pkg/logger"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// Limiter 计数存储（必填），多实例部署时使用 Redis 实现共享配额
	Limiter cache.Limiter

	// Limit 每个窗口允许的请求数（默认 60）
	Limit int

	// Window 滑动窗口长度（默认 1 分钟）
	Window time.Duration

	// KeyFunc 自定义限流 key 函数（默认使用客户端 IP）
	KeyFunc func(c *wsgate.Context) string

	// SkipFunc 跳过限流的函数
	SkipFunc func(c *wsgate.Context) bool

	Logger logger.Logger
}

// RateLimiter 创建限流中间件
// 挂在升级端点上，限制单个来源建立连接的频率；消息级限流由会话层负责
// 计数存储不可用时放行
func RateLimiter(cfg *RateLimiterConfig) wsgate.HandlerFunc {
	if cfg == nil || cfg.Limiter == nil {
		panic("wsgate/middleware: RateLimiter requires a Limiter")
	}
	c := *cfg
	if c.Limit <= 0 {
		c.Limit = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.KeyFunc == nil {
		c.KeyFunc = func(ctx *wsgate.Context) string { return ctx.ClientIP() }
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return func(ctx *wsgate.Context) {
		if c.SkipFunc != nil && c.SkipFunc(ctx) {
			ctx.Next()
			return
		}

		key := "upgrade:" + c.KeyFunc(ctx)
		res, err := c.Limiter.Allow(ctx.RequestContext(), key, c.Limit, c.Window)
		if err != nil {
			c.Logger.WarnContext(ctx.RequestContext(), "rate limiter unavailable, allowing request",
				zap.String("key", key), zap.Error(err))
			ctx.Next()
			return
		}

		if !res.Allowed {
			c.Logger.WarnContext(ctx.RequestContext(), "rate limit exceeded",
				zap.String("key", key),
				zap.String("path", ctx.Request().URL.Path),
				zap.Int("limit", c.Limit),
			)
			ctx.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.Reset.Seconds()))))
			ctx.AbortWithError(errors.ErrTooManyRequests)
			return
		}

		ctx.Next()
	}
}
