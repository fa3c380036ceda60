package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/logger"
)

// Heartbeat 存活探测
// 超时只通过 Closer 请求关闭，不直接操作 Registry 或传输
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	log      logger.Logger
}

// HeartbeatHandle 单个连接的探测任务
type HeartbeatHandle struct {
	conn     *Connection
	pong     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	lastPong atomic.Int64
	probes   atomic.Int64
}

// NewHeartbeat 创建探测器
func NewHeartbeat(interval, timeout time.Duration, log logger.Logger) *Heartbeat {
	if log == nil {
		log = logger.Nop()
	}
	return &Heartbeat{interval: interval, timeout: timeout, log: log}
}

// Start 启动探测，ctx 取消或 Stop 后退出
func (h *Heartbeat) Start(ctx context.Context, conn *Connection, closer Closer) *HeartbeatHandle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &HeartbeatHandle{
		conn:   conn,
		pong:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	handle.lastPong.Store(time.Now().UnixNano())
	go h.run(ctx, handle, closer)
	return handle
}

// PongReceived 收到 pong（应用层消息或控制帧）
func (h *Heartbeat) PongReceived(handle *HeartbeatHandle) {
	if handle == nil {
		return
	}
	handle.lastPong.Store(time.Now().UnixNano())
	select {
	case handle.pong <- struct{}{}:
	default:
	}
}

// Stop 停止探测，不等待退出，可以在探测协程内调用
func (h *Heartbeat) Stop(handle *HeartbeatHandle) {
	if handle == nil {
		return
	}
	handle.cancel()
}

// Done 探测协程退出后关闭
func (hh *HeartbeatHandle) Done() <-chan struct{} { return hh.done }

// LastPong 最近一次收到 pong 的时间
func (hh *HeartbeatHandle) LastPong() time.Time { return time.Unix(0, hh.lastPong.Load()) }

// Probes 已发送的探测次数
func (hh *HeartbeatHandle) Probes() int64 { return hh.probes.Load() }

func (h *Heartbeat) run(ctx context.Context, handle *HeartbeatHandle, closer Closer) {
	defer close(handle.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// 丢弃上一轮之后迟到的 pong
		select {
		case <-handle.pong:
		default:
		}

		if !h.probe(ctx, handle) {
			h.log.InfoContext(ctx, "heartbeat timeout",
				zap.Duration("timeout", h.timeout),
				zap.Time("last_pong", handle.LastPong()),
			)
			closer.RequestClose(ReasonHeartbeatTimeout, CloseHeartbeatTimeout)
			return
		}
	}
}

// probe 发一次探测并等待回复，ctx 取消时视为成功（由关闭方处理）
func (h *Heartbeat) probe(ctx context.Context, handle *HeartbeatHandle) bool {
	handle.probes.Add(1)
	conn := handle.conn

	ping := NewMessage(TypePing, map[string]any{"server_time": time.Now().Unix()})
	if err := conn.sendPriority(ping); err != nil {
		h.log.DebugContext(ctx, "heartbeat ping not queued", zap.Error(err))
	}
	if conn.transport != nil {
		if err := conn.transport.Ping(); err != nil {
			h.log.DebugContext(ctx, "heartbeat control ping failed", zap.Error(err))
		}
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case <-handle.pong:
		return true
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
