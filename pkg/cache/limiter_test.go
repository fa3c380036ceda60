package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wsgate/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiter(0, clock.Now)
	defer l.Close()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "alice", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Count)
		clock.Advance(10 * time.Second)
	}

	res, err := l.Allow(ctx, "alice", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.Reset)

	// 其他 key 不受影响
	res, err = l.Allow(ctx, "bob", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// 第一条记录滑出窗口
	clock.Advance(31 * time.Second)
	res, err = l.Allow(ctx, "alice", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Count)
}

func TestMemoryLimiterRaisedLimit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(0)
	defer l.Close()

	res, _ := l.Allow(ctx, "k", 1, time.Minute)
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "k", 1, time.Minute)
	assert.False(t, res.Allowed)
	res, _ = l.Allow(ctx, "k", 2, time.Minute)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterSweepAndClose(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newMemoryLimiter(0, clock.Now)

	_, err := l.Allow(context.Background(), "k", 5, time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	l.sweep()
	assert.Empty(t, l.windows)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	_, err = l.Allow(context.Background(), "k", 5, time.Second)
	assert.True(t, errors.Is(err, ErrLimiterClosed))
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	defer l.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(context.Background(), "shared", 30, time.Minute)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 30, allowed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		ok   bool
	}{
		{"memory", DefaultConfig(), true},
		{"redis default", &Config{Driver: DriverRedis, Redis: DefaultRedisConfig()}, true},
		{"redis missing", &Config{Driver: DriverRedis}, false},
		{"cluster no addrs", &Config{Driver: DriverRedis, Redis: &RedisConfig{Mode: RedisCluster}}, false},
		{"sentinel no master", &Config{Driver: DriverRedis, Redis: &RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:1"}}}, false},
		{"unknown driver", &Config{Driver: "etcd"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.Equal(t, tt.ok, err == nil)
			if err != nil {
				assert.True(t, errors.Is(err, ErrCacheInvalidConfig))
			}
		})
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	cfg := &Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1}}
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheConnection))
}
