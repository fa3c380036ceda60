package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/logger"
	"github.com/tokmz/wsgate/pkg/tracing"
)

// Handler 消息处理器，无连接状态，所有连接共享
type Handler interface {
	Name() string
	Types() []MessageType
	Handle(ctx context.Context, conn *Connection, msg *Message) error
}

// RouterConfig 路由失败预算与退避
type RouterConfig struct {
	MaxFailures int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Router 按消息类型静态分发，分发表在创建时确定
type Router struct {
	table    map[MessageType]Handler
	fallback Handler
	cfg      RouterConfig
	log      logger.Logger
	metrics  Metrics
}

// NewRouter 创建路由，同一类型注册两次返回 ErrHandlerExists
func NewRouter(cfg RouterConfig, fallback Handler, handlers ...Handler) (*Router, error) {
	if fallback == nil {
		fallback = AckHandler{}
	}
	r := &Router{
		table:    make(map[MessageType]Handler),
		fallback: fallback,
		cfg:      cfg,
		log:      logger.Nop(),
		metrics:  NoopMetrics{},
	}
	for _, h := range handlers {
		for _, typ := range h.Types() {
			if prev, exists := r.table[typ]; exists {
				return nil, ErrHandlerExists.WithMessage(
					fmt.Sprintf("handler %s already registered for %q (%s)", prev.Name(), typ, h.Name()))
			}
			r.table[typ] = h
		}
	}
	return r, nil
}

func (r *Router) withObservers(log logger.Logger, m Metrics) *Router {
	if log != nil {
		r.log = log
	}
	if m != nil {
		r.metrics = m
	}
	return r
}

// Route 分发消息，返回是否处理成功
// 失败时累加连接的连续失败次数并计算退避，成功时清零
func (r *Router) Route(ctx context.Context, conn *Connection, msg *Message) bool {
	conn.setHandling(HandlingProcessing)

	h, ok := r.table[msg.Type()]
	if !ok {
		h = r.fallback
	}

	ctx, span := tracing.StartSpan(ctx, "session.route",
		attribute.String("message.type", string(msg.Type())),
		attribute.String("handler", h.Name()),
	)
	defer span.End()

	err := r.invoke(ctx, h, conn, msg)
	if err == nil {
		conn.failures.Store(0)
		conn.backoff.Store(0)
		conn.setHandling(HandlingIdle)
		return true
	}

	tracing.RecordError(span, err)
	n := int(conn.failures.Add(1))
	delay := BackoffFor(n, r.cfg.BackoffBase, r.cfg.BackoffMax)
	conn.backoff.Store(int64(delay))
	conn.errs.Add(1)
	conn.setHandling(HandlingBackoff)
	r.metrics.HandlerError(msg.Type())

	r.log.WarnContext(ctx, "message handler failed",
		zap.String("handler", h.Name()),
		zap.String("type", string(msg.Type())),
		zap.Int("failures", n),
		zap.Duration("backoff", delay),
		zap.Error(err),
	)
	return false
}

func (r *Router) invoke(ctx context.Context, h Handler, conn *Connection, msg *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = ErrHandlerFailure.WithError(fmt.Errorf("panic: %v", p))
		}
	}()
	return h.Handle(ctx, conn, msg)
}

// Backoff 连接当前应等待的时长
func (r *Router) Backoff(conn *Connection) time.Duration {
	return conn.Backoff()
}

// Exhausted 连续失败达到上限，调用方应关闭连接
func (r *Router) Exhausted(conn *Connection) bool {
	return r.cfg.MaxFailures > 0 && conn.Failures() >= r.cfg.MaxFailures
}

// BackoffFor 第 n 次连续失败后的退避：min(base*2^(n-1), max)
func BackoffFor(n int, base, max time.Duration) time.Duration {
	if n <= 0 || base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
