package session

import (
	"fmt"
	"time"
)

// Config 会话配置，从配置文件的 session 节解码
type Config struct {
	// 连接
	MaxConnections   int           `mapstructure:"max_connections" yaml:"max_connections"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size" yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// 心跳与超时
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	// ReceiveTimeout 为 0 时取 HeartbeatInterval
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// 入站限制
	MaxMessageBytes    int `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	ViolationThreshold int `mapstructure:"violation_threshold" yaml:"violation_threshold"`

	// 处理失败预算
	MaxHandlerFailures int           `mapstructure:"max_handler_failures" yaml:"max_handler_failures"`
	BackoffBase        time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`

	// 出站队列
	SendQueueSize         int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	HighPriorityQueueSize int           `mapstructure:"high_priority_queue_size" yaml:"high_priority_queue_size"`
	WriteWait             time.Duration `mapstructure:"write_wait" yaml:"write_wait"`

	// 客户端重连建议
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`

	// StrictMode 没有 AgentRunner 时拒绝连接（1011），否则降级为仅持久化并提示
	StrictMode bool `mapstructure:"strict_mode" yaml:"strict_mode"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:        10000,
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
		HandshakeTimeout:      10 * time.Second,
		HeartbeatInterval:     45 * time.Second,
		HeartbeatTimeout:      10 * time.Second,
		IdleTimeout:           300 * time.Second,
		MaxMessageBytes:       8 * 1024,
		RateLimitPerMinute:    30,
		ViolationThreshold:    10,
		MaxHandlerFailures:    5,
		BackoffBase:           100 * time.Millisecond,
		BackoffMax:            5 * time.Second,
		SendQueueSize:         256,
		HighPriorityQueueSize: 64,
		WriteWait:             10 * time.Second,
		ReconnectBaseDelay:    time.Second,
		ReconnectMaxDelay:     30 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	positive := []struct {
		name string
		v    int64
	}{
		{"MaxConnections", int64(c.MaxConnections)},
		{"ReadBufferSize", int64(c.ReadBufferSize)},
		{"WriteBufferSize", int64(c.WriteBufferSize)},
		{"HandshakeTimeout", int64(c.HandshakeTimeout)},
		{"HeartbeatInterval", int64(c.HeartbeatInterval)},
		{"HeartbeatTimeout", int64(c.HeartbeatTimeout)},
		{"IdleTimeout", int64(c.IdleTimeout)},
		{"MaxMessageBytes", int64(c.MaxMessageBytes)},
		{"MaxHandlerFailures", int64(c.MaxHandlerFailures)},
		{"BackoffBase", int64(c.BackoffBase)},
		{"SendQueueSize", int64(c.SendQueueSize)},
		{"HighPriorityQueueSize", int64(c.HighPriorityQueueSize)},
		{"WriteWait", int64(c.WriteWait)},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return ErrInvalidConfig.WithMessage(fmt.Sprintf("%s must be positive, got %d", p.name, p.v))
		}
	}
	if c.HeartbeatTimeout >= c.HeartbeatInterval {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("HeartbeatTimeout (%v) must be less than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.BackoffMax < c.BackoffBase {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("BackoffMax (%v) must not be less than BackoffBase (%v)",
			c.BackoffMax, c.BackoffBase))
	}
	if c.RateLimitPerMinute < 0 || c.ViolationThreshold < 0 || c.ReceiveTimeout < 0 {
		return ErrInvalidConfig.WithMessage("rate limit, violation threshold and receive timeout must not be negative")
	}
	return nil
}

// receiveTimeout 单次等待入站帧的上限
func (c *Config) receiveTimeout() time.Duration {
	if c.ReceiveTimeout > 0 {
		return c.ReceiveTimeout
	}
	return c.HeartbeatInterval
}

func (c *Config) guardConfig() GuardConfig {
	return GuardConfig{
		MaxMessageBytes:    c.MaxMessageBytes,
		RateLimitPerMinute: c.RateLimitPerMinute,
		ViolationThreshold: c.ViolationThreshold,
	}
}

// GuardConfig 入站限制部分，热更新时传给 Guard.UpdateLimits
func (c *Config) GuardConfig() GuardConfig { return c.guardConfig() }

func (c *Config) routerConfig() RouterConfig {
	return RouterConfig{
		MaxFailures: c.MaxHandlerFailures,
		BackoffBase: c.BackoffBase,
		BackoffMax:  c.BackoffMax,
	}
}

func (c *Config) transportConfig() TransportConfig {
	// 读上限放宽到消息上限的 4 倍，超限消息先交给 Guard 判定违规而不是直接断开
	limit := int64(c.MaxMessageBytes) * 4
	if limit < 64*1024 {
		limit = 64 * 1024
	}
	return TransportConfig{
		SendQueueSize:         c.SendQueueSize,
		HighPriorityQueueSize: c.HighPriorityQueueSize,
		WriteWait:             c.WriteWait,
		ReadLimit:             limit,
	}
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeat 设置心跳间隔与回复超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithMessageLimits 设置消息大小与每分钟速率
func WithMessageLimits(maxBytes, perMinute int) Option {
	return func(c *Config) {
		c.MaxMessageBytes = maxBytes
		c.RateLimitPerMinute = perMinute
	}
}

// WithBackoff 设置失败预算与退避
func WithBackoff(maxFailures int, base, max time.Duration) Option {
	return func(c *Config) {
		c.MaxHandlerFailures = maxFailures
		c.BackoffBase = base
		c.BackoffMax = max
	}
}

// WithStrictMode 设置严格模式
func WithStrictMode(strict bool) Option {
	return func(c *Config) {
		c.StrictMode = strict
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单，"*" 表示允许全部，支持 "https://*.example.com"
func WithCheckOriginWhitelist(origins ...string) Option {
	return func(c *Config) {
		c.AllowedOrigins = origins
	}
}

// Origins 由 AllowedOrigins 构造来源策略
func (c *Config) Origins() *OriginPolicy {
	return NewOriginPolicy(c.AllowedOrigins...)
}
