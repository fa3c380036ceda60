package auth

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Denylist 已吊销令牌 ID 集合
// 布隆过滤器做快速否定判断，命中后再查精确集合排除误判
type Denylist struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewDenylist expected 为预计条目数，fpRate 为误判率
func NewDenylist(expected uint, fpRate float64) *Denylist {
	if expected == 0 {
		expected = 1024
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &Denylist{
		filter: bloom.NewWithEstimates(expected, fpRate),
		exact:  make(map[string]struct{}),
	}
}

// Revoke 吊销令牌
func (d *Denylist) Revoke(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.filter.AddString(id)
		d.exact[id] = struct{}{}
	}
}

// Contains 是否已吊销
func (d *Denylist) Contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.filter.TestString(id) {
		return false
	}
	_, ok := d.exact[id]
	return ok
}

// Len 已吊销数量
func (d *Denylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.exact)
}
