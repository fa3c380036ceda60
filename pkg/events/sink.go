package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/logger"
)

// Sink 事件的外部投递目标
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
	Close() error
}

// LogSink 将事件写入日志
type LogSink struct {
	logger logger.Logger
}

// NewLogSink 创建日志 Sink
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event", string(e.Type)),
		zap.String("conn_id", e.ConnectionID),
		zap.String("user_id", e.UserID),
		zap.Time("at", e.Time),
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}

	if e.Type == SecurityViolation || e.Type == AuthFailed {
		s.logger.Warn("session event", fields...)
		return nil
	}
	s.logger.Info("session event", fields...)
	return nil
}

func (s *LogSink) Close() error { return nil }
