package session

import (
	"sync"
)

// Registry 连接表，连接的唯一权威来源
// 主表与 user/thread 两个二级索引由同一把锁保护，部分更新不可见
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	byUser   map[string]map[string]struct{}
	byThread map[string]map[string]struct{}
	max      int
}

// NewRegistry 创建连接表，max <= 0 表示不限制
func NewRegistry(max int) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		byUser:   make(map[string]map[string]struct{}),
		byThread: make(map[string]map[string]struct{}),
		max:      max,
	}
}

// Register 注册连接
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return ErrDuplicateConnection
	}
	if r.max > 0 && len(r.conns) >= r.max {
		return ErrTooManyConnections
	}

	r.conns[conn.ID] = conn
	addIndex(r.byUser, conn.UserID, conn.ID)
	if thread := conn.ThreadID(); thread != "" {
		addIndex(r.byThread, thread, conn.ID)
	}
	return nil
}

// Unregister 移除连接，重复调用返回 false
func (r *Registry) Unregister(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	removeIndex(r.byUser, conn.UserID, id)
	if thread := conn.ThreadID(); thread != "" {
		removeIndex(r.byThread, thread, id)
	}
	return conn, true
}

// Get 按 id 查找
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetByUser 用户的全部连接（快照）
func (r *Registry) GetByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byUser[userID])
}

// GetByThread 绑定到线程的全部连接（快照）
func (r *Registry) GetByThread(threadID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byThread[threadID])
}

func (r *Registry) collect(ids map[string]struct{}) []*Connection {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, ok := r.conns[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// BindThread 切换连接绑定的线程，空字符串表示解绑
func (r *Registry) BindThread(id, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if old := conn.ThreadID(); old != "" {
		removeIndex(r.byThread, old, id)
	}
	conn.setThread(threadID)
	if threadID != "" {
		addIndex(r.byThread, threadID, id)
	}
	return nil
}

// Range 遍历快照，回调中可以安全地调用 Registry 的其他方法
func (r *Registry) Range(fn func(*Connection) bool) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		if !fn(conn) {
			return
		}
	}
}

// Count 连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserCount 在线用户数
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Transition 按 id 迁移连接状态
func (r *Registry) Transition(id string, target State) (TransitionResult, error) {
	conn, ok := r.Get(id)
	if !ok {
		return TransitionResult{}, ErrConnectionNotFound
	}
	return conn.machine.Transition(target), nil
}

// TransitionConn 迁移一条具体记录的状态，registered 表示该记录此刻仍在表中
// 按记录而不是按 id 迁移，同 id 的新记录不受旧会话影响；迁移与 Register/Unregister 互斥
func (r *Registry) TransitionConn(conn *Connection, target State) (res TransitionResult, registered bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered = r.conns[conn.ID] == conn
	return conn.machine.Transition(target), registered
}

func addIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
