package wsgate

import (
	"net/http"

	"github.com/tokmz/wsgate/pkg/session"
)

// GatewayConfig 网关路由配置
type GatewayConfig struct {
	// Path WebSocket 端点，默认 /ws
	Path string `mapstructure:"path" yaml:"path"`
	// StatusPath 健康状态，默认 {Path}/status
	StatusPath string `mapstructure:"status_path" yaml:"status_path"`
	// ConfigPath 客户端参数，默认 {Path}/config
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
	// CORS 管理接口按 session.allowed_origins 开放跨域读取
	CORS bool `mapstructure:"cors" yaml:"cors"`
}

func (g *GatewayConfig) setDefaults() {
	if g.Path == "" {
		g.Path = "/ws"
	}
	if g.StatusPath == "" {
		g.StatusPath = g.Path + "/status"
	}
	if g.ConfigPath == "" {
		g.ConfigPath = g.Path + "/config"
	}
}

// MountOption 挂载选项
type MountOption func(*mountOptions)

type mountOptions struct {
	upgrade []HandlerFunc
	admin   []HandlerFunc
}

// WithUpgradeMiddleware 只作用于升级请求的中间件（如按 IP 限流）
func WithUpgradeMiddleware(h ...HandlerFunc) MountOption {
	return func(o *mountOptions) { o.upgrade = append(o.upgrade, h...) }
}

// WithAdminMiddleware 只作用于状态与参数接口的中间件（如 CORS）
// 设置后同时为两个接口注册 OPTIONS 路由，预检请求才能进入中间件
func WithAdminMiddleware(h ...HandlerFunc) MountOption {
	return func(o *mountOptions) { o.admin = append(o.admin, h...) }
}

// Mount 在路由组上挂载 WebSocket 端点与两个只读管理接口
func Mount(rg *RouterGroup, m *session.Manager, cfg GatewayConfig, opts ...MountOption) {
	cfg.setDefaults()
	var o mountOptions
	for _, opt := range opts {
		opt(&o)
	}

	rg.GET(cfg.Path, func(c *Context) {
		// 升级失败时 gorilla 已写出 HTTP 错误响应
		if err := m.HandleUpgrade(c.Writer(), c.Request()); err != nil {
			c.Abort()
		}
	}, o.upgrade...)

	admin := rg.Group("", o.admin...)
	HandleOnly(admin.GET, cfg.StatusPath, func(c *Context) (*session.Status, error) {
		status := m.Status()
		return &status, nil
	})
	HandleOnly(admin.GET, cfg.ConfigPath, func(c *Context) (*session.ClientConfig, error) {
		cc := m.ClientConfig()
		return &cc, nil
	})

	if len(o.admin) > 0 {
		for _, path := range []string{cfg.StatusPath, cfg.ConfigPath} {
			admin.OPTIONS(path, func(c *Context) { c.AbortWithStatus(http.StatusNoContent) })
		}
	}
}
