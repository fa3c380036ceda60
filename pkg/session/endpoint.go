package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/wsgate/pkg/auth"
	"github.com/tokmz/wsgate/pkg/events"
	"github.com/tokmz/wsgate/pkg/logger"
)

// Endpoint 单条连接的编排：认证 → 注册 → 心跳 → 接收循环 → 清理
// 所有协作者显式注入，关闭路径不依赖任何外部作用域
type Endpoint struct {
	cfg        *Config
	registry   *Registry
	router     *Router
	guard      *Guard
	heartbeat  *Heartbeat
	auth       auth.Authenticator
	events     events.Publisher
	metrics    Metrics
	log        logger.Logger
	agentReady bool
	newID      func() string
}

// Serve 驱动一条连接直到关闭，返回值仅用于日志
func (e *Endpoint) Serve(ctx context.Context, setup *auth.SetupContext, t Transport) error {
	machine := NewStateMachine()
	machine.Transition(StateAuthenticating)

	info, err := e.auth.Authenticate(ctx, setup)
	if err != nil {
		code := CloseAuthFailed
		if errors.Is(err, auth.ErrRevokedCredential) {
			code = CloseForbidden
		}
		machine.Transition(StateFailed)
		_ = t.Close(code, "authentication failed")
		e.metrics.AuthFailed()
		e.events.Publish(events.New(events.AuthFailed, "", "", err.Error()).With("remote_addr", t.RemoteAddr()))
		e.log.WarnContext(ctx, "authentication failed", zap.String("remote_addr", t.RemoteAddr()), zap.Error(err))
		return ErrAuthentication.WithError(err)
	}

	if e.cfg.StrictMode && !e.agentReady {
		machine.Transition(StateFailed)
		_ = t.Close(CloseInternalError, "agent unavailable")
		e.log.ErrorContext(ctx, "refusing connection in strict mode without agent runner", zap.String("user_id", info.UserID))
		return ErrAgentUnavailable
	}

	id := ""
	if e.newID != nil {
		id = e.newID()
	}
	conn := newConnection(id, info.UserID, t, machine)
	conn.Scopes = info.Scopes
	conn.metrics = e.metrics
	s := newSession(ctx, e, conn)
	conn.closer = s

	if err := e.registry.Register(conn); err != nil {
		code := CloseDuplicate
		if errors.Is(err, ErrTooManyConnections) {
			code = CloseTryAgainLater
		}
		machine.Transition(StateFailed)
		s.cancel()
		_ = t.Close(code, "registration failed")
		e.log.WarnContext(s.ctx, "connection registration failed", zap.Error(err))
		return err
	}
	machine.Transition(StateConnected)

	e.metrics.ConnectionOpened()
	e.events.Publish(events.New(events.ConnectionOpened, conn.ID, conn.UserID, "").
		With("remote_addr", conn.RemoteAddr()))
	e.log.InfoContext(s.ctx, "connection opened", zap.String("remote_addr", conn.RemoteAddr()))

	return s.run()
}

type frame struct {
	data []byte
	err  error
}

// Session 一条已注册连接的运行期状态
type Session struct {
	endpoint *Endpoint
	conn     *Connection
	ctx      context.Context
	cancel   context.CancelFunc
	hb       atomic.Pointer[HeartbeatHandle]

	// 读协程、心跳与 Agent 等后台任务都在 group 内，sealed 之后不再接收新任务
	taskMu sync.Mutex
	group  *errgroup.Group
	gctx   context.Context
	sealed bool

	closed    chan struct{}
	closeErr  error
	reason    string
	closeCode int
}

func newSession(parent context.Context, e *Endpoint, conn *Connection) *Session {
	ctx, cancel := context.WithCancel(parent)
	ctx = logger.WithUserID(logger.WithConnID(ctx, conn.ID), conn.UserID)
	return &Session{
		endpoint: e,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
}

// Connection 会话对应的连接
func (s *Session) Connection() *Connection { return s.conn }

func (s *Session) run() error {
	e := s.endpoint
	g, gctx := errgroup.WithContext(s.ctx)
	s.taskMu.Lock()
	s.group, s.gctx = g, gctx
	s.taskMu.Unlock()
	s.conn.tasks = s

	hb := e.heartbeat.Start(gctx, s.conn, s)
	s.hb.Store(hb)
	s.conn.transport.OnPong(func() { e.heartbeat.PongReceived(hb) })

	frames := make(chan frame, 1)
	g.Go(func() error {
		s.readLoop(gctx, frames)
		return nil
	})
	g.Go(func() error {
		<-hb.Done()
		return nil
	})

	reason, code, loopErr := s.loop(gctx, frames)
	s.RequestClose(reason, code)
	<-s.closed

	s.taskMu.Lock()
	s.sealed = true
	s.taskMu.Unlock()
	_ = g.Wait()
	if loopErr != nil {
		return loopErr
	}
	return s.closeErr
}

// Go 实现 taskGroup，任务拿到的 ctx 在连接关闭时取消
func (s *Session) Go(fn func(ctx context.Context)) bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.sealed || s.group == nil || s.gctx.Err() != nil {
		return false
	}
	ctx := s.gctx
	s.group.Go(func() error {
		fn(ctx)
		return nil
	})
	return true
}

// readLoop 读协程，传输关闭后 Receive 返回错误而退出
func (s *Session) readLoop(ctx context.Context, frames chan<- frame) {
	for {
		data, err := s.conn.transport.Receive()
		select {
		case frames <- frame{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// loop 顺序处理入站帧，返回关闭原因
func (s *Session) loop(ctx context.Context, frames <-chan frame) (string, int, error) {
	e := s.endpoint
	timer := time.NewTimer(e.cfg.receiveTimeout())
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return s.canceledReason()
		}
		if !e.guard.ValidateConnectionSecurity(s.conn) {
			if s.conn.IsClosing() {
				return s.canceledReason()
			}
			return ReasonSecurity, ClosePolicyViolation, nil
		}
		// 心跳回复不计入活跃，只有业务帧刷新
		if idle := time.Since(s.conn.LastActivity()); idle > e.cfg.IdleTimeout {
			e.log.InfoContext(ctx, "connection idle", zap.Duration("idle", idle))
			return ReasonIdleTimeout, CloseIdleTimeout, nil
		}

		resetTimer(timer, e.cfg.receiveTimeout())
		select {
		case <-ctx.Done():
			return s.canceledReason()

		case <-timer.C:
			// 接收超时只用于重新检查空闲与安全状态

		case f := <-frames:
			if f.err != nil {
				if errors.Is(f.err, ErrPeerClosed) {
					return ReasonPeerClosed, CloseNormal, nil
				}
				return ReasonTransportError, CloseInternalError, f.err
			}
			if reason, code, stop := s.handleFrame(ctx, f.data); stop {
				return reason, code, nil
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) (string, int, bool) {
	e := s.endpoint
	conn := s.conn
	conn.received.Add(1)
	e.metrics.MessageReceived()

	if v := e.guard.ValidateInbound(ctx, conn, data); !v.OK {
		return "", 0, false
	}

	msg, err := ParseMessage(data)
	if err != nil {
		conn.errs.Add(1)
		e.metrics.FormatError()
		e.log.DebugContext(ctx, "malformed message", zap.Error(err))
		_ = conn.replyError(err, "invalid message format")
		return "", 0, false
	}

	switch msg.Type() {
	case TypePong, TypeHeartbeatAck:
		e.heartbeat.PongReceived(s.hb.Load())
		return "", 0, false
	case TypeDisconnect:
		return ReasonClientDisconnect, CloseNormal, true
	}
	conn.Touch()

	if e.router.Route(ctx, conn, msg) {
		return "", 0, false
	}
	if e.router.Exhausted(conn) {
		return ReasonErrorBudget, CloseInternalError, true
	}

	wait := time.NewTimer(e.router.Backoff(conn))
	defer wait.Stop()
	select {
	case <-ctx.Done():
	case <-wait.C:
	}
	conn.setHandling(HandlingIdle)
	return "", 0, false
}

// canceledReason 上层取消（关停）或其他调用方已发起关闭
func (s *Session) canceledReason() (string, int, error) {
	if errors.Is(context.Cause(s.ctx), errShutdown) {
		return ReasonServerShutdown, CloseGoingAway, nil
	}
	return ReasonCanceled, CloseGoingAway, nil
}

// RequestClose 实现 Closer
// Closing 迁移经由 Registry 完成，只有赢得迁移的调用方执行清理，其余调用方立即返回 false
func (s *Session) RequestClose(reason string, code int) bool {
	if res, _ := s.endpoint.registry.TransitionConn(s.conn, StateClosing); !res.Applied {
		return false
	}
	s.teardown(reason, code)
	return true
}

// teardown 不阻塞等待其他协程，可以在心跳协程内执行
func (s *Session) teardown(reason string, code int) {
	e := s.endpoint
	defer close(s.closed)

	s.reason, s.closeCode = reason, code
	s.cancel()
	e.heartbeat.Stop(s.hb.Load())
	e.registry.Unregister(s.conn.ID)

	closeErr := s.conn.transport.Close(code, reason)

	final := StateClosed
	if failureReason(reason) || closeErr != nil {
		final = StateFailed
	}
	if closeErr != nil && s.closeErr == nil {
		s.closeErr = closeErr
	}

	e.metrics.ConnectionClosed(reason)
	e.events.Publish(events.New(events.ConnectionClosed, s.conn.ID, s.conn.UserID, reason).
		With("code", code).
		With("duration_ms", time.Since(s.conn.CreatedAt).Milliseconds()))

	stats := s.conn.Stats()
	e.log.InfoContext(s.ctx, "connection closed",
		zap.String("reason", reason),
		zap.Int("code", code),
		zap.String("final_state", final.String()),
		zap.Int64("sent", stats.Sent),
		zap.Int64("received", stats.Received),
		zap.Int64("errors", stats.Errors),
		zap.Int64("violations", stats.Violations),
		zap.Duration("duration", time.Since(s.conn.CreatedAt)),
	)
	// 记录已移出 Registry，由持有它的清理方完成终态迁移
	s.conn.machine.Transition(final)
}

// Reason 关闭原因，未关闭时为空
func (s *Session) Reason() string {
	select {
	case <-s.closed:
		return s.reason
	default:
		return ""
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
