package cache

import (
	"fmt"
	"time"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 计数存储配置
// memory 只在单进程内计数，多实例部署共享限额时使用 redis
type Config struct {
	Driver    DriverType   `mapstructure:"driver" yaml:"driver"`
	KeyPrefix string       `mapstructure:"key_prefix" yaml:"key_prefix"`
	Redis     *RedisConfig `mapstructure:"redis" yaml:"redis"`

	// memory 驱动：空闲 key 的清理间隔
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Mode         RedisMode     `mapstructure:"mode" yaml:"mode"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`   // 单机
	Addrs        []string      `mapstructure:"addrs" yaml:"addrs"` // 集群/哨兵
	MasterName   string        `mapstructure:"master_name" yaml:"master_name"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig 默认使用内存驱动
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverMemory,
		KeyPrefix:       "wsgate:rl:",
		CleanupInterval: time.Minute,
	}
}

// DefaultRedisConfig 默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Mode:         RedisStandalone,
		Addr:         "localhost:6379",
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverRedis:
	default:
		return fmt.Errorf("%w: invalid driver type %q", ErrCacheInvalidConfig, c.Driver)
	}

	if c.Redis == nil {
		return fmt.Errorf("%w: redis config is required", ErrCacheInvalidConfig)
	}
	switch c.Redis.Mode {
	case RedisStandalone, "":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis addr is required for standalone mode", ErrCacheInvalidConfig)
		}
	case RedisCluster:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("%w: redis cluster requires addrs", ErrCacheInvalidConfig)
		}
	case RedisSentinel:
		if len(c.Redis.Addrs) == 0 || c.Redis.MasterName == "" {
			return fmt.Errorf("%w: redis sentinel requires addrs and master name", ErrCacheInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: invalid redis mode %q", ErrCacheInvalidConfig, c.Redis.Mode)
	}
	return nil
}
