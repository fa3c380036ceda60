package session

import "sync/atomic"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	ConnectionOpened()
	ConnectionClosed(reason string)
	AuthFailed()

	// 消息指标
	MessageReceived()
	MessageSent(n int)
	SendFailed()
	FormatError()
	HandlerError(msgType MessageType)

	// 安全指标
	Violation(reason string)
}

// NoopMetrics 空实现
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened()        {}
func (NoopMetrics) ConnectionClosed(string)  {}
func (NoopMetrics) AuthFailed()              {}
func (NoopMetrics) MessageReceived()         {}
func (NoopMetrics) MessageSent(int)          {}
func (NoopMetrics) SendFailed()              {}
func (NoopMetrics) FormatError()             {}
func (NoopMetrics) HandlerError(MessageType) {}
func (NoopMetrics) Violation(string)         {}

// Stats 基于原子计数的 Metrics 实现，/ws/status 从这里取数
type Stats struct {
	active       atomic.Int64
	total        atomic.Int64
	authFailures atomic.Int64
	received     atomic.Int64
	sent         atomic.Int64
	sendFailures atomic.Int64
	formatErrors atomic.Int64
	handlerErrs  atomic.Int64
	violations   atomic.Int64
}

func (s *Stats) ConnectionOpened() {
	s.active.Add(1)
	s.total.Add(1)
}

func (s *Stats) ConnectionClosed(string)  { s.active.Add(-1) }
func (s *Stats) AuthFailed()              { s.authFailures.Add(1) }
func (s *Stats) MessageReceived()         { s.received.Add(1) }
func (s *Stats) MessageSent(n int)        { s.sent.Add(int64(n)) }
func (s *Stats) SendFailed()              { s.sendFailures.Add(1) }
func (s *Stats) FormatError()             { s.formatErrors.Add(1) }
func (s *Stats) HandlerError(MessageType) { s.handlerErrs.Add(1) }
func (s *Stats) Violation(string)         { s.violations.Add(1) }

// StatsSnapshot 计数快照
type StatsSnapshot struct {
	ActiveConnections int64
	TotalConnections  int64
	AuthFailures      int64
	MessagesReceived  int64
	MessagesSent      int64
	ErrorsHandled     int64
	Violations        int64
}

// Snapshot 读取当前计数
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ActiveConnections: s.active.Load(),
		TotalConnections:  s.total.Load(),
		AuthFailures:      s.authFailures.Load(),
		MessagesReceived:  s.received.Load(),
		MessagesSent:      s.sent.Load(),
		ErrorsHandled:     s.sendFailures.Load() + s.formatErrors.Load() + s.handlerErrs.Load(),
		Violations:        s.violations.Load(),
	}
}
