package cache

import (
	"context"
	"fmt"
	"time"
)

// Result 一次限流判定的结果
type Result struct {
	Allowed bool
	Count   int           // 窗口内（含本次）已计数的次数
	Reset   time.Duration // 最早一条记录离开窗口的剩余时间
}

// Limiter 滑动窗口限流器
// limit 与 window 每次调用传入，调用方可以随时调整限额
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Close() error
}

// New 根据配置创建限流器
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverRedis:
		client, err := NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisLimiter(client, cfg.KeyPrefix), nil
	case DriverMemory:
		return NewMemoryLimiter(cfg.CleanupInterval), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver type", ErrCacheInvalidConfig)
	}
}
