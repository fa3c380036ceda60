package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/wsgate/pkg/auth"
	"github.com/tokmz/wsgate/pkg/cache"
	"github.com/tokmz/wsgate/pkg/events"
	"github.com/tokmz/wsgate/pkg/logger"
)

var errShutdown = errors.New("session: manager shutting down")

// Manager 组合根：持有 Registry 与各组件，负责升级与关停
type Manager struct {
	cfg         *Config
	registry    *Registry
	router      *Router
	guard       *Guard
	heartbeat   *Heartbeat
	broadcaster *Broadcaster
	endpoint    *Endpoint
	upgrader    websocket.Upgrader
	origins     *OriginPolicy
	stats       *Stats

	authenticator auth.Authenticator
	limiter       cache.Limiter
	events        events.Publisher
	store         MessageStore
	agent         AgentRunner
	extra         []Handler
	log           logger.Logger
	idGen         func() string

	ctx    context.Context
	cancel context.CancelCauseFunc
	// mu 保证 closing 置位之后不再有 wg.Add
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing atomic.Bool
	started time.Time
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithAuthenticator 设置认证器（必需）
func WithAuthenticator(a auth.Authenticator) ManagerOption {
	return func(m *Manager) { m.authenticator = a }
}

// WithLimiter 设置速率限制存储
func WithLimiter(l cache.Limiter) ManagerOption {
	return func(m *Manager) { m.limiter = l }
}

// WithEvents 设置事件发布方
func WithEvents(p events.Publisher) ManagerOption {
	return func(m *Manager) { m.events = p }
}

// WithMessageStore 设置消息持久化
func WithMessageStore(s MessageStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithAgentRunner 设置 Agent
func WithAgentRunner(a AgentRunner) ManagerOption {
	return func(m *Manager) { m.agent = a }
}

// WithHandlers 追加业务处理器
func WithHandlers(h ...Handler) ManagerOption {
	return func(m *Manager) { m.extra = append(m.extra, h...) }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithIDGenerator 自定义连接 id
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.idGen = fn }
}

// NewManager 创建管理器
func NewManager(cfg *Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		stats:   &Stats{},
		events:  events.Discard{},
		log:     logger.Nop(),
		idGen:   uuid.NewString,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.authenticator == nil {
		return nil, ErrInvalidConfig.WithMessage("authenticator is required")
	}
	log := m.log.With(zap.String("component", "session"))

	m.registry = NewRegistry(cfg.MaxConnections)
	m.broadcaster = NewBroadcaster(m.registry, log)
	m.guard = NewGuard(cfg.guardConfig(), m.limiter, m.events, log, m.stats)
	m.heartbeat = NewHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatTimeout, log)

	handlers := append([]Handler{
		SystemHandler{},
		NewThreadHandler(m.registry),
		NewUserMessageHandler(m.store, m.agent, m.broadcaster, log),
	}, m.extra...)
	router, err := NewRouter(cfg.routerConfig(), AckHandler{}, handlers...)
	if err != nil {
		return nil, err
	}
	m.router = router.withObservers(log, m.stats)

	m.ctx, m.cancel = context.WithCancelCause(context.Background())
	m.endpoint = &Endpoint{
		cfg:        cfg,
		registry:   m.registry,
		router:     m.router,
		guard:      m.guard,
		heartbeat:  m.heartbeat,
		auth:       m.authenticator,
		events:     m.events,
		metrics:    m.stats,
		log:        log,
		agentReady: m.agent != nil,
		newID:      m.idGen,
	}
	m.origins = cfg.Origins()
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      m.origins.CheckOrigin,
	}
	return m, nil
}

// Registry 连接表
func (m *Manager) Registry() *Registry { return m.registry }

// Broadcaster 出站投递
func (m *Manager) Broadcaster() *Broadcaster { return m.broadcaster }

// Origins 升级请求使用的来源策略
func (m *Manager) Origins() *OriginPolicy { return m.origins }

// Guard 安全检查，热更新限制用
func (m *Manager) Guard() *Guard { return m.guard }

// HandleUpgrade 升级 HTTP 连接并在独立协程中驱动会话
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	if m.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrConnectionClosed
	}

	setup := auth.NewSetupContext(r)

	// 携带令牌的子协议原样回显，否则浏览器会拒绝握手
	var header http.Header
	if proto, ok := auth.TokenSubprotocol(setup.Subprotocols); ok {
		header = http.Header{"Sec-Websocket-Protocol": []string{proto}}
	}

	conn, err := m.upgrader.Upgrade(w, r, header)
	if err != nil {
		m.log.WarnContext(r.Context(), "websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return err
	}

	t := NewWebSocketTransport(conn, m.cfg.transportConfig())
	if !m.track() {
		// 升级期间开始关停
		_ = t.Close(CloseGoingAway, ReasonServerShutdown)
		return ErrConnectionClosed
	}
	go func() {
		defer m.wg.Done()
		_ = m.Serve(m.ctx, setup, t)
	}()
	return nil
}

// track 登记一个会话协程，关停开始后返回 false
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing.Load() {
		return false
	}
	m.wg.Add(1)
	return true
}

// Serve 在给定传输上运行一条会话，阻塞到连接关闭
func (m *Manager) Serve(ctx context.Context, setup *auth.SetupContext, t Transport) error {
	if m.closing.Load() {
		_ = t.Close(CloseGoingAway, ReasonServerShutdown)
		return ErrConnectionClosed
	}
	return m.endpoint.Serve(ctx, setup, t)
}

// Status 健康状态
type Status struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	ActiveUsers       int    `json:"active_users"`
	TotalConnections  int64  `json:"total_connections"`
	MessagesSent      int64  `json:"messages_sent"`
	MessagesReceived  int64  `json:"messages_received"`
	ErrorsHandled     int64  `json:"errors_handled"`
	Violations        int64  `json:"violations"`
	AuthFailures      int64  `json:"auth_failures"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// Status 连接数达到上限的 90%，或收到 100 条以上消息且错误率超过 10% 时为 degraded
func (m *Manager) Status() Status {
	snap := m.stats.Snapshot()
	active := m.registry.Count()

	status := "healthy"
	if m.cfg.MaxConnections > 0 && active*10 >= m.cfg.MaxConnections*9 {
		status = "degraded"
	}
	if snap.MessagesReceived >= 100 && snap.ErrorsHandled*10 > snap.MessagesReceived {
		status = "degraded"
	}
	if m.closing.Load() {
		status = "degraded"
	}

	return Status{
		Status:            status,
		ActiveConnections: active,
		ActiveUsers:       m.registry.UserCount(),
		TotalConnections:  snap.TotalConnections,
		MessagesSent:      snap.MessagesSent,
		MessagesReceived:  snap.MessagesReceived,
		ErrorsHandled:     snap.ErrorsHandled,
		Violations:        snap.Violations,
		AuthFailures:      snap.AuthFailures,
		UptimeSeconds:     int64(time.Since(m.started).Seconds()),
	}
}

// ClientConfig 客户端自配置参数
type ClientConfig struct {
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int64  `json:"heartbeat_timeout_ms"`
	ReceiveTimeoutMs    int64  `json:"receive_timeout_ms"`
	IdleTimeoutMs       int64  `json:"idle_timeout_ms"`
	MaxMessageBytes     int    `json:"max_message_bytes"`
	RateLimitPerMinute  int    `json:"rate_limit_per_minute"`
	MaxHandlerFailures  int    `json:"max_handler_failures"`
	BackoffBaseMs       int64  `json:"backoff_base_ms"`
	BackoffMaxMs        int64  `json:"backoff_max_ms"`
	ReconnectBaseMs     int64  `json:"reconnect_base_ms"`
	ReconnectMaxMs      int64  `json:"reconnect_max_ms"`
	Subprotocol         string `json:"subprotocol"`
}

// ClientConfig 返回当前生效的客户端参数，限制取 Guard 的热更新值
func (m *Manager) ClientConfig() ClientConfig {
	limits := m.guard.Limits()
	return ClientConfig{
		HeartbeatIntervalMs: m.cfg.HeartbeatInterval.Milliseconds(),
		HeartbeatTimeoutMs:  m.cfg.HeartbeatTimeout.Milliseconds(),
		ReceiveTimeoutMs:    m.cfg.receiveTimeout().Milliseconds(),
		IdleTimeoutMs:       m.cfg.IdleTimeout.Milliseconds(),
		MaxMessageBytes:     limits.MaxMessageBytes,
		RateLimitPerMinute:  limits.RateLimitPerMinute,
		MaxHandlerFailures:  m.cfg.MaxHandlerFailures,
		BackoffBaseMs:       m.cfg.BackoffBase.Milliseconds(),
		BackoffMaxMs:        m.cfg.BackoffMax.Milliseconds(),
		ReconnectBaseMs:     m.cfg.ReconnectBaseDelay.Milliseconds(),
		ReconnectMaxMs:      m.cfg.ReconnectMaxDelay.Milliseconds(),
		Subprotocol:         auth.SubprotocolPrefix + "<token>",
	}
}

// Shutdown 拒绝新连接，经由同一关闭路径关闭全部会话，等待会话协程退出
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	first := m.closing.CompareAndSwap(false, true)
	m.mu.Unlock()
	if !first {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(64)
	m.registry.Range(func(c *Connection) bool {
		g.Go(func() error {
			c.RequestClose(ReasonServerShutdown, CloseGoingAway)
			return nil
		})
		return true
	})
	_ = g.Wait()
	m.cancel(errShutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("session manager stopped", zap.Int64("total_connections", m.stats.Snapshot().TotalConnections))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
