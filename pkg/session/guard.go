package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/cache"
	"github.com/tokmz/wsgate/pkg/events"
	"github.com/tokmz/wsgate/pkg/logger"
)

// GuardConfig 入站限制，可热更新
type GuardConfig struct {
	MaxMessageBytes    int
	RateLimitPerMinute int
	ViolationThreshold int
}

// Verdict 入站检查结果
type Verdict struct {
	OK     bool
	Reason string
	Err    error
}

// Guard 入站大小/速率检查与连接安全判定
type Guard struct {
	limits  atomic.Pointer[GuardConfig]
	limiter cache.Limiter
	events  events.Publisher
	log     logger.Logger
	metrics Metrics
}

// NewGuard limiter 为 nil 时不做速率限制
func NewGuard(cfg GuardConfig, limiter cache.Limiter, pub events.Publisher, log logger.Logger, metrics Metrics) *Guard {
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	g := &Guard{limiter: limiter, events: pub, log: log, metrics: metrics}
	g.limits.Store(&cfg)
	return g
}

// UpdateLimits 替换限制，配置热更新时调用
func (g *Guard) UpdateLimits(cfg GuardConfig) {
	g.limits.Store(&cfg)
}

// Limits 当前限制
func (g *Guard) Limits() GuardConfig {
	return *g.limits.Load()
}

// ValidateInbound 检查一帧入站数据
// 违规时记录、计数、回复 error 消息并发布事件，连接保留
func (g *Guard) ValidateInbound(ctx context.Context, conn *Connection, raw []byte) Verdict {
	limits := g.limits.Load()

	if limits.MaxMessageBytes > 0 && len(raw) > limits.MaxMessageBytes {
		return g.violation(ctx, conn, "oversize_message", ErrOversizeMessage,
			zap.Int("size", len(raw)), zap.Int("limit", limits.MaxMessageBytes))
	}

	if g.limiter != nil && limits.RateLimitPerMinute > 0 {
		res, err := g.limiter.Allow(ctx, "user:"+conn.UserID, limits.RateLimitPerMinute, time.Minute)
		if err != nil {
			// 限流存储故障时放行
			g.log.WarnContext(ctx, "rate limiter unavailable", zap.Error(err))
			return Verdict{OK: true}
		}
		if !res.Allowed {
			return g.violation(ctx, conn, "rate_limit", ErrRateLimit,
				zap.Int("count", res.Count), zap.Int("limit", limits.RateLimitPerMinute), zap.Duration("reset", res.Reset))
		}
	}
	return Verdict{OK: true}
}

func (g *Guard) violation(ctx context.Context, conn *Connection, reason string, err error, fields ...zap.Field) Verdict {
	n := conn.violations.Add(1)
	g.metrics.Violation(reason)
	g.log.WarnContext(ctx, "security violation",
		append(fields, zap.String("reason", reason), zap.Int64("violations", n))...)

	if sendErr := conn.replyError(err, reason); sendErr != nil {
		g.log.DebugContext(ctx, "violation notice not sent", zap.Error(sendErr))
	}
	g.events.Publish(events.New(events.SecurityViolation, conn.ID, conn.UserID, reason).With("violations", n))
	return Verdict{Reason: reason, Err: err}
}

// ValidateConnectionSecurity 每个接收周期调用一次，false 表示应关闭连接
func (g *Guard) ValidateConnectionSecurity(conn *Connection) bool {
	limits := g.limits.Load()
	if limits.ViolationThreshold > 0 && conn.violations.Load() > int64(limits.ViolationThreshold) {
		return false
	}
	if conn.UserID == "" {
		return false
	}
	return conn.State() == StateConnected
}
