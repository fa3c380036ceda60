package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HandlingState 单个连接的消息处理状态
type HandlingState int32

const (
	HandlingIdle HandlingState = iota
	HandlingProcessing
	HandlingBackoff
)

func (s HandlingState) String() string {
	switch s {
	case HandlingProcessing:
		return "processing"
	case HandlingBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

// Closer 请求关闭连接的能力，赢得 Closing 迁移的调用方执行清理
type Closer interface {
	RequestClose(reason string, code int) bool
}

// taskGroup 会话持有的后台任务集合，会话结束前等待全部任务退出
type taskGroup interface {
	Go(fn func(ctx context.Context)) bool
}

// Connection 一个已认证连接的记录，由 Registry 持有
type Connection struct {
	ID        string
	UserID    string
	Scopes    []string
	CreatedAt time.Time

	transport Transport
	machine   *StateMachine
	closer    Closer
	tasks     taskGroup
	metrics   Metrics

	// thread 只在 Registry 锁内写入
	thread atomic.Pointer[string]

	lastActivity atomic.Int64

	sent       atomic.Int64
	received   atomic.Int64
	errs       atomic.Int64
	violations atomic.Int64

	// 路由失败计数与退避
	failures atomic.Int32
	backoff  atomic.Int64
	handling atomic.Int32
}

// NewConnection 创建连接记录，id 为空时生成 uuid
func NewConnection(id, userID string, t Transport) *Connection {
	return newConnection(id, userID, t, NewStateMachine())
}

func newConnection(id, userID string, t Transport, m *StateMachine) *Connection {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	c := &Connection{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		transport: t,
		machine:   m,
		metrics:   NoopMetrics{},
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// Machine 连接的状态机
func (c *Connection) Machine() *StateMachine { return c.machine }

// State 当前状态
func (c *Connection) State() State { return c.machine.State() }

// IsClosing 连接已进入 Closing/Closed/Failed
func (c *Connection) IsClosing() bool {
	return c.machine.State() >= StateClosing
}

// ThreadID 当前绑定的线程
func (c *Connection) ThreadID() string {
	if p := c.thread.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Connection) setThread(id string) {
	c.thread.Store(&id)
}

// Touch 刷新最后活跃时间
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity 最后活跃时间
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RemoteAddr 对端地址
func (c *Connection) RemoteAddr() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.RemoteAddr()
}

// RequestClose 通过会话的关闭路径关闭连接
// 未绑定会话的连接（测试或嵌入场景）直接做 Closing CAS 并关闭传输
func (c *Connection) RequestClose(reason string, code int) bool {
	if c.closer != nil {
		return c.closer.RequestClose(reason, code)
	}
	if !c.machine.Transition(StateClosing).Applied {
		return false
	}
	if c.transport != nil {
		_ = c.transport.Close(code, reason)
	}
	c.machine.Transition(StateClosed)
	return true
}

// Go 在会话生命周期内运行后台任务，会话关闭时取消 ctx 并等待任务返回
// 连接未绑定会话或已关闭时不运行，返回 false
func (c *Connection) Go(fn func(ctx context.Context)) bool {
	if c.tasks == nil || c.IsClosing() {
		return false
	}
	return c.tasks.Go(fn)
}

// Send 非阻塞写入已编码的帧
func (c *Connection) Send(data []byte) error {
	return c.send(data, false)
}

// SendMessage 编码并发送消息
func (c *Connection) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.send(data, false)
}

// sendPriority 只用于心跳探测，它不回应任何入站帧，可以越过普通队列
// 对入站帧的回复一律走普通队列，保证回复顺序与入站顺序一致
func (c *Connection) sendPriority(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.send(data, true)
}

func (c *Connection) send(data []byte, priority bool) error {
	if c.IsClosing() || c.transport == nil {
		return ErrConnectionClosed
	}
	var err error
	if ps, ok := c.transport.(prioritySender); ok && priority {
		err = ps.SendPriority(data)
	} else {
		err = c.transport.Send(data)
	}
	if err != nil {
		c.errs.Add(1)
		c.metrics.SendFailed()
		return err
	}
	c.sent.Add(1)
	c.metrics.MessageSent(1)
	return nil
}

// reply 发送给自己的响应，失败只计数
func (c *Connection) reply(typ MessageType, payload map[string]any) error {
	return c.SendMessage(NewMessage(typ, payload, InThread(c.ThreadID())))
}

func (c *Connection) replyError(err error, reason string) error {
	payload := map[string]any{"message": reason}
	if code := errorCode(err); code != 0 {
		payload["code"] = code
	}
	return c.SendMessage(NewMessage(TypeError, payload))
}

// Failures 连续处理失败次数
func (c *Connection) Failures() int { return int(c.failures.Load()) }

// Backoff 当前退避时长
func (c *Connection) Backoff() time.Duration { return time.Duration(c.backoff.Load()) }

// Handling 当前消息处理状态
func (c *Connection) Handling() HandlingState { return HandlingState(c.handling.Load()) }

func (c *Connection) setHandling(s HandlingState) { c.handling.Store(int32(s)) }

// Violations 安全违规次数
func (c *Connection) Violations() int64 { return c.violations.Load() }

// ConnectionStats 连接计数快照
type ConnectionStats struct {
	Sent       int64 `json:"sent"`
	Received   int64 `json:"received"`
	Errors     int64 `json:"errors"`
	Violations int64 `json:"violations"`
}

// Stats 计数快照
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		Sent:       c.sent.Load(),
		Received:   c.received.Load(),
		Errors:     c.errs.Load(),
		Violations: c.violations.Load(),
	}
}
