package wsgate

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/wsgate/pkg/logger"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr" yaml:"addr"`

	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout 对升级后的 WebSocket 连接不生效
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	MaxHeaderBytes int `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// BeforeShutdown 关机前回调，在 HTTP 服务停止接收请求之前执行
	BeforeShutdown func(ctx context.Context) `mapstructure:"-" yaml:"-"`

	// AfterShutdown 关机后回调
	AfterShutdown func() `mapstructure:"-" yaml:"-"`
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode" yaml:"mode"`

	Server ServerConfig `mapstructure:"server" yaml:"server"`

	Shutdown ShutdownConfig `mapstructure:"shutdown" yaml:"shutdown"`

	// TrustedProxies 信任的代理 IP，影响 ClientIP 与按 IP 限流
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`

	// Banner 启动时打印 banner 和路由表
	Banner bool `mapstructure:"banner" yaml:"banner"`

	// Logger 服务器日志，默认不输出
	Logger logger.Logger `mapstructure:"-" yaml:"-"`
}

// Option 配置选项函数
type Option func(*Config)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Banner: true,
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithServer 整体替换服务器配置，零值字段保留默认值
func WithServer(s ServerConfig) Option {
	return func(c *Config) {
		if s.Addr != "" {
			c.Server.Addr = s.Addr
		}
		if s.ReadTimeout > 0 {
			c.Server.ReadTimeout = s.ReadTimeout
		}
		if s.WriteTimeout > 0 {
			c.Server.WriteTimeout = s.WriteTimeout
		}
		if s.IdleTimeout > 0 {
			c.Server.IdleTimeout = s.IdleTimeout
		}
		if s.MaxHeaderBytes > 0 {
			c.Server.MaxHeaderBytes = s.MaxHeaderBytes
		}
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func(ctx context.Context)) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithBanner 是否打印启动 banner
func WithBanner(enabled bool) Option {
	return func(c *Config) {
		c.Banner = enabled
	}
}

// WithLogger 设置服务器日志
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}
