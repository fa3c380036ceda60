package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tokmz/wsgate"
	"github.com/tokmz/wsgate/pkg/session"
)

// CORSConfig 管理接口（状态、客户端参数）的跨域配置
// 来源白名单与 WebSocket 升级共用，浏览器能握手的页面才能读管理接口
type CORSConfig struct {
	// Origins 来源策略，通常取 Manager.Origins()
	Origins *session.OriginPolicy

	// MaxAge 预检缓存时间（默认 12 小时）
	MaxAge time.Duration
}

const (
	// 管理接口只读
	corsMethods = "GET, OPTIONS"
	// 浏览器读取管理接口时可能携带令牌
	corsHeaders = "Authorization, Content-Type, Accept"
	// 升级限流返回的 Retry-After 需要对页面可见，客户端据此退避重连
	corsExpose = "Retry-After"
)

// CORS 创建管理接口的 CORS 中间件，配合 wsgate.WithAdminMiddleware 挂载
// 不允许的来源不写任何 CORS 头；预检请求直接以 204/403 结束
func CORS(cfg *CORSConfig) wsgate.HandlerFunc {
	if cfg == nil || cfg.Origins == nil {
		panic("wsgate/middleware: CORS requires an origin policy")
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 12 * time.Hour
	}
	maxAgeSeconds := strconv.Itoa(int(maxAge.Seconds()))

	return func(c *wsgate.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		preflight := c.Request().Method == http.MethodOptions
		if !cfg.Origins.Allow(origin, c.Request().Host) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		// 回显具体来源，响应随 Origin 变化
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Expose-Headers", corsExpose)

		if preflight {
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", corsHeaders)
			c.Header("Access-Control-Max-Age", maxAgeSeconds)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
