package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/logger"
)

// Broadcaster 出站投递，接收方只通过 Registry 解析
type Broadcaster struct {
	registry *Registry
	log      logger.Logger
}

// NewBroadcaster 创建广播器
// 发送计数由 Connection 完成，每次写入计一次
func NewBroadcaster(registry *Registry, log logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Nop()
	}
	return &Broadcaster{registry: registry, log: log}
}

// SendToUser 投递给用户的全部连接，返回成功数
// 消息若标记了其他用户则拒绝投递
func (b *Broadcaster) SendToUser(ctx context.Context, userID string, msg *Message) int {
	if owner := msg.UserID(); owner != "" && owner != userID {
		b.log.ErrorContext(ctx, "refusing cross-user delivery",
			zap.String("target_user", userID),
			zap.String("message_user", owner),
			zap.String("type", string(msg.Type())),
		)
		return 0
	}
	return b.deliver(ctx, b.registry.GetByUser(userID), msg)
}

// SendToThread 投递给绑定到线程的连接
// 线程 id 由客户端自行绑定，不代表归属，消息必须标记 user_id，只写给该用户的连接
func (b *Broadcaster) SendToThread(ctx context.Context, threadID string, msg *Message) int {
	if msg.UserID() == "" {
		b.log.ErrorContext(ctx, "refusing thread delivery without owner",
			zap.String("thread_id", threadID),
			zap.String("type", string(msg.Type())),
		)
		return 0
	}
	return b.deliver(ctx, b.registry.GetByThread(threadID), msg)
}

// Broadcast 投递给满足 pred 的连接，pred 为 nil 时投递给全部连接
func (b *Broadcaster) Broadcast(ctx context.Context, msg *Message, pred func(*Connection) bool) int {
	var targets []*Connection
	b.registry.Range(func(c *Connection) bool {
		if pred == nil || pred(c) {
			targets = append(targets, c)
		}
		return true
	})
	return b.deliver(ctx, targets, msg)
}

// SendToConnection 投递给单个连接
func (b *Broadcaster) SendToConnection(ctx context.Context, id string, msg *Message) bool {
	conn, ok := b.registry.Get(id)
	if !ok {
		return false
	}
	return b.deliver(ctx, []*Connection{conn}, msg) == 1
}

// deliver 唯一的写出路径
// 带 user_id 的消息只写给 UserID 相同的连接；单个连接失败不影响其他连接
func (b *Broadcaster) deliver(ctx context.Context, targets []*Connection, msg *Message) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.ErrorContext(ctx, "encode outbound message", zap.Error(err))
		return 0
	}

	owner := msg.UserID()
	delivered := 0
	for _, c := range targets {
		if owner != "" && c.UserID != owner {
			continue
		}
		if c.IsClosing() {
			continue
		}
		if err := c.Send(data); err != nil {
			b.log.WarnContext(ctx, "outbound send failed",
				zap.String("conn_id", c.ID),
				zap.String("user_id", c.UserID),
				zap.String("type", string(msg.Type())),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}
