package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/logger"
)

// Handler 事件处理器
type Handler func(Event)

// BusConfig 事件总线配置
type BusConfig struct {
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout" yaml:"sink_timeout"`   // 单次 Sink 投递超时
	CriticalWait time.Duration `mapstructure:"critical_wait" yaml:"critical_wait"` // 连接开闭事件在队列满时的等待上限
}

// DefaultBusConfig 默认配置
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Workers:      4,
		QueueSize:    1024,
		SinkTimeout:  5 * time.Second,
		CriticalWait: 100 * time.Millisecond,
	}
}

// Bus 异步事件总线
// Publish 不阻塞调用方（连接开闭事件最多等待 CriticalWait），队列满时丢弃并计数
type Bus struct {
	cfg    BusConfig
	logger logger.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
	sinks    []Sink

	queue   chan func()
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewBus 创建事件总线并启动 worker
func NewBus(cfg BusConfig, log logger.Logger) *Bus {
	def := DefaultBusConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	if cfg.CriticalWait <= 0 {
		cfg.CriticalWait = def.CriticalWait
	}
	if log == nil {
		log = logger.Nop()
	}

	b := &Bus{
		cfg:      cfg,
		logger:   log,
		handlers: make(map[Type][]Handler),
		queue:    make(chan func(), cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case task := <-b.queue:
			b.run(task)
		case <-b.stopCh:
			// 退出前处理完已入队的任务
			for {
				select {
				case task := <-b.queue:
					b.run(task)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", zap.Any("panic", r))
		}
	}()
	task()
}

// Subscribe 订阅事件
func (b *Bus) Subscribe(typ Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append(b.handlers[typ], handler)
}

// AddSink 将 Sink 订阅到指定类型，types 为空时订阅全部
func (b *Bus) AddSink(sink Sink, types ...Type) {
	if len(types) == 0 {
		types = AllTypes
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()

	for _, typ := range types {
		b.Subscribe(typ, func(e Event) {
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Deliver(ctx, e); err != nil {
				b.logger.Warn("event sink delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("event", string(e.Type)),
					zap.String("conn_id", e.ConnectionID),
					zap.Error(err),
				)
			}
		})
	}
}

// Publish 发布事件（异步）
func (b *Bus) Publish(e Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	critical := e.Type == ConnectionOpened || e.Type == ConnectionClosed
	for _, h := range handlers {
		h := h
		task := func() { h(e) }
		if critical {
			timer := time.NewTimer(b.cfg.CriticalWait)
			select {
			case b.queue <- task:
			case <-timer.C:
				b.dropped.Add(1)
			}
			timer.Stop()
			continue
		}
		select {
		case b.queue <- task:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 丢弃的事件数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 停止 worker 并关闭所有 Sink
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopCh)
	b.wg.Wait()

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
