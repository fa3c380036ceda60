package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient 按模式创建 UniversalClient 并检查连通性
func NewRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: redis config is required", ErrCacheInvalidConfig)
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case RedisStandalone, "":
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	case RedisCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	case RedisSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrCacheInvalidConfig, cfg.Mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrCacheConnection, err)
	}
	return client, nil
}

// redisLimiter 基于有序集合的滑动窗口，多实例共享同一份计数
type redisLimiter struct {
	client redis.UniversalClient
	prefix string
	seq    atomic.Uint64
}

// NewRedisLimiter 使用已有客户端创建限流器，Close 会关闭该客户端
func NewRedisLimiter(client redis.UniversalClient, prefix string) Limiter {
	return &redisLimiter{client: client, prefix: prefix}
}

// Allow 先裁剪窗口再写入本次记录，超限时撤回本次写入
func (r *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	fullKey := r.prefix + key
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, fullKey, "-inf", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
		pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, fullKey)
		oldest = pipe.ZRangeWithScores(ctx, fullKey, 0, 0)
		pipe.PExpire(ctx, fullKey, window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCacheOperation, err)
	}

	count := int(card.Val())
	reset := window
	if zs := oldest.Val(); len(zs) > 0 {
		reset = time.Unix(0, int64(zs[0].Score)).Add(window).Sub(now)
	}

	if count > limit {
		if err := r.client.ZRem(ctx, fullKey, member).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrCacheOperation, err)
		}
		return Result{Allowed: false, Count: count - 1, Reset: reset}, nil
	}
	return Result{Allowed: true, Count: count, Reset: reset}, nil
}

// Close 关闭客户端
func (r *redisLimiter) Close() error {
	return r.client.Close()
}
