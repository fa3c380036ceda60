package main

import (
	"time"

	"github.com/tokmz/wsgate"
	"github.com/tokmz/wsgate/pkg/auth"
	"github.com/tokmz/wsgate/pkg/cache"
	"github.com/tokmz/wsgate/pkg/config"
	"github.com/tokmz/wsgate/pkg/events"
	"github.com/tokmz/wsgate/pkg/logger"
	"github.com/tokmz/wsgate/pkg/session"
	"github.com/tokmz/wsgate/pkg/store"
	"github.com/tokmz/wsgate/pkg/tracing"
)

// AppConfig 进程配置，每段对应一个组件
type AppConfig struct {
	Mode     string               `mapstructure:"mode" yaml:"mode"`
	Server   wsgate.ServerConfig  `mapstructure:"server" yaml:"server"`
	Shutdown time.Duration        `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Gateway  wsgate.GatewayConfig `mapstructure:"gateway" yaml:"gateway"`

	Session session.Config     `mapstructure:"session" yaml:"session"`
	Auth    AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Log     logger.FileConfig  `mapstructure:"log" yaml:"log"`
	Tracing tracing.Config     `mapstructure:"tracing" yaml:"tracing"`
	Limiter cache.Config       `mapstructure:"limiter" yaml:"limiter"`
	Upgrade UpgradeLimitConfig `mapstructure:"upgrade_limit" yaml:"upgrade_limit"`
	Store   StoreConfig        `mapstructure:"store" yaml:"store"`
	Events  EventsConfig       `mapstructure:"events" yaml:"events"`
	Agent   AgentConfig        `mapstructure:"agent" yaml:"agent"`
}

// AuthConfig JWT 与吊销列表
type AuthConfig struct {
	auth.JWTConfig `mapstructure:",squash" yaml:",inline"`
	// Revoked 启动时载入的已吊销 jti
	Revoked []string `mapstructure:"revoked" yaml:"revoked"`
}

// UpgradeLimitConfig 按来源 IP 限制升级请求
type UpgradeLimitConfig struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// StoreConfig 消息持久化，关闭时 user_message 只确认不落库
type StoreConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	store.Config `mapstructure:",squash" yaml:",inline"`
}

// EventsConfig 生命周期事件，Kafka/AMQP 为空时不启用
type EventsConfig struct {
	Bus   events.BusConfig    `mapstructure:"bus" yaml:"bus"`
	Kafka *events.KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	AMQP  *events.AMQPConfig  `mapstructure:"amqp" yaml:"amqp"`
}

// AgentConfig Agent 接入
// echo 只用于本地联调：把用户消息原样流式返回
type AgentConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"` // none / echo
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Mode:     "release",
		Server:   wsgate.DefaultConfig().Server,
		Shutdown: 15 * time.Second,
		Session:  *session.DefaultConfig(),
		Log: logger.FileConfig{
			Level:  "info",
			Config: logger.Config{Format: logger.JSONFormat, Console: true},
		},
		Tracing: *tracing.DefaultConfig(),
		Limiter: *cache.DefaultConfig(),
		Upgrade: UpgradeLimitConfig{Limit: 60, Window: time.Minute},
		Store:   StoreConfig{Config: *store.DefaultConfig()},
		Events:  EventsConfig{Bus: events.DefaultBusConfig()},
		Agent:   AgentConfig{Mode: "none"},
	}
}

// loadConfig 读取配置文件与 WSGATE_ 环境变量，path 为空时只用默认值和环境变量
func loadConfig(path string) (*config.Config, AppConfig, error) {
	opts := []config.Option{config.WithEnvPrefix("WSGATE")}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts,
			config.WithConfigName("wsgate"),
			config.WithConfigType("yaml"),
			config.WithConfigPaths(".", "/etc/wsgate"),
			config.WithOptionalFile(true),
		)
	}
	c := config.New(opts...)
	if err := c.Load(); err != nil {
		return nil, AppConfig{}, err
	}
	app, err := decodeApp(c)
	return c, app, err
}

func decodeApp(c *config.Config) (AppConfig, error) {
	app, err := config.Unmarshal(c, defaultAppConfig())
	if err != nil {
		return AppConfig{}, err
	}
	if err := app.Session.Validate(); err != nil {
		return AppConfig{}, err
	}
	return app, nil
}

// redacted 打印前隐藏密钥
func (a AppConfig) redacted() AppConfig {
	if a.Auth.SigningKey != "" {
		a.Auth.SigningKey = "******"
	}
	if a.Limiter.Redis != nil && a.Limiter.Redis.Password != "" {
		r := *a.Limiter.Redis
		r.Password = "******"
		a.Limiter.Redis = &r
	}
	if a.Events.AMQP != nil {
		amqp := *a.Events.AMQP
		amqp.URL = "******"
		a.Events.AMQP = &amqp
	}
	a.Store.DSN = "******"
	return a
}
