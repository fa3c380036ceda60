package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// memoryLimiter 进程内滑动窗口，每个 key 保存窗口内的命中时间
type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*hitLog
	now     func() time.Time

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type hitLog struct {
	hits   []time.Time
	window time.Duration
}

// NewMemoryLimiter 创建内存限流器，cleanup <= 0 时不启动后台清理
func NewMemoryLimiter(cleanup time.Duration) Limiter {
	return newMemoryLimiter(cleanup, time.Now)
}

func newMemoryLimiter(cleanup time.Duration, now func() time.Time) *memoryLimiter {
	m := &memoryLimiter{
		windows: make(map[string]*hitLog),
		now:     now,
		done:    make(chan struct{}),
	}
	if cleanup > 0 {
		m.wg.Add(1)
		go m.janitor(cleanup)
	}
	return m
}

// Allow 实现 Limiter
func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if m.closed.Load() {
		return Result{}, ErrLimiterClosed
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.windows[key]
	if !ok {
		log = &hitLog{}
		m.windows[key] = log
	}
	log.window = window
	log.evict(now)

	if len(log.hits) >= limit {
		return Result{Allowed: false, Count: len(log.hits), Reset: log.hits[0].Add(window).Sub(now)}, nil
	}
	log.hits = append(log.hits, now)
	return Result{Allowed: true, Count: len(log.hits), Reset: log.hits[0].Add(window).Sub(now)}, nil
}

// evict 丢弃离开窗口的记录
func (l *hitLog) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.hits) && !l.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.hits = append(l.hits[:0], l.hits[i:]...)
	}
}

func (m *memoryLimiter) janitor(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

// sweep 删除窗口内已无记录的 key
func (m *memoryLimiter) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, log := range m.windows {
		log.evict(now)
		if len(log.hits) == 0 {
			delete(m.windows, key)
		}
	}
}

// Close 停止后台清理
func (m *memoryLimiter) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
		m.wg.Wait()
	}
	return nil
}
