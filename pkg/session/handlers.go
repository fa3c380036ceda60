package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokmz/wsgate/pkg/logger"
)

// AckHandler 兜底处理器，确认未知类型的消息
type AckHandler struct{}

func (AckHandler) Name() string         { return "ack" }
func (AckHandler) Types() []MessageType { return nil }

func (AckHandler) Handle(_ context.Context, conn *Connection, msg *Message) error {
	return conn.reply(TypeAck, map[string]any{
		"original_type": string(msg.Type()),
		"status":        "received",
	})
}

// SystemHandler connect / ping / heartbeat
type SystemHandler struct{}

func (SystemHandler) Name() string { return "system" }

func (SystemHandler) Types() []MessageType {
	return []MessageType{TypeConnect, TypePing, TypeHeartbeat}
}

func (SystemHandler) Handle(_ context.Context, conn *Connection, msg *Message) error {
	switch msg.Type() {
	case TypeConnect:
		payload := map[string]any{
			"status":        "connected",
			"connection_id": conn.ID,
			"user_id":       conn.UserID,
		}
		if thread := conn.ThreadID(); thread != "" {
			payload["thread_id"] = thread
		}
		return conn.reply(TypeSystemMessage, payload)
	case TypePing:
		return conn.reply(TypePong, map[string]any{"ping_timestamp": msg.Timestamp().Unix()})
	case TypeHeartbeat:
		return conn.reply(TypeHeartbeatAck, map[string]any{"status": "alive"})
	}
	return nil
}

// ThreadHandler switch_thread 重新绑定连接的线程
type ThreadHandler struct {
	registry *Registry
}

// NewThreadHandler Registry 显式注入
func NewThreadHandler(registry *Registry) *ThreadHandler {
	return &ThreadHandler{registry: registry}
}

func (h *ThreadHandler) Name() string         { return "thread" }
func (h *ThreadHandler) Types() []MessageType { return []MessageType{TypeSwitchThread} }

func (h *ThreadHandler) Handle(_ context.Context, conn *Connection, msg *Message) error {
	thread, _ := msg.String("thread_id")
	if thread == "" {
		thread = msg.ThreadID()
	}
	if thread == "" {
		return conn.replyError(ErrMessageFormat, "thread_id is required")
	}
	if err := h.registry.BindThread(conn.ID, thread); err != nil {
		return err
	}
	return conn.reply(TypeSystemMessage, map[string]any{
		"status":    "thread_switched",
		"thread_id": thread,
	})
}

// StoredMessage 交给持久化层的消息
type StoredMessage struct {
	ID           string
	ConnectionID string
	UserID       string
	ThreadID     string
	Type         MessageType
	Payload      map[string]any
	CreatedAt    time.Time
}

// MessageStore 消息持久化，会话层只依赖这个接口
type MessageStore interface {
	SaveMessage(ctx context.Context, msg StoredMessage) error
}

// AgentRequest 交给 AgentRunner 的请求
type AgentRequest struct {
	ConnectionID string
	UserID       string
	ThreadID     string
	MessageID    string
	Content      string
	Payload      map[string]any
}

// Emit Agent 输出回调
type Emit func(typ MessageType, payload map[string]any)

// AgentRunner Agent 执行
// Run 应在 ctx 取消后尽快返回，输出通过 emit 逐条投递
type AgentRunner interface {
	Run(ctx context.Context, req AgentRequest, emit Emit) error
}

// UserMessageHandler user_message：持久化、确认、转交 Agent
type UserMessageHandler struct {
	store       MessageStore
	agent       AgentRunner
	broadcaster *Broadcaster
	log         logger.Logger
}

// NewUserMessageHandler store 与 agent 可以为 nil
func NewUserMessageHandler(store MessageStore, agent AgentRunner, b *Broadcaster, log logger.Logger) *UserMessageHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &UserMessageHandler{store: store, agent: agent, broadcaster: b, log: log}
}

func (h *UserMessageHandler) Name() string         { return "user_message" }
func (h *UserMessageHandler) Types() []MessageType { return []MessageType{TypeUserMessage} }

func (h *UserMessageHandler) Handle(ctx context.Context, conn *Connection, msg *Message) error {
	content, _ := msg.String("content")
	if content == "" {
		return conn.replyError(ErrMessageFormat, "content is required")
	}

	thread := msg.ThreadID()
	if thread == "" {
		thread = conn.ThreadID()
	}
	id := uuid.NewString()

	if h.store != nil {
		err := h.store.SaveMessage(ctx, StoredMessage{
			ID:           id,
			ConnectionID: conn.ID,
			UserID:       conn.UserID,
			ThreadID:     thread,
			Type:         msg.Type(),
			Payload:      msg.Payload(),
			CreatedAt:    msg.Timestamp(),
		})
		if err != nil {
			return ErrHandlerFailure.WithError(fmt.Errorf("save message: %w", err))
		}
	}

	if err := conn.reply(TypeAck, map[string]any{
		"original_type": string(TypeUserMessage),
		"message_id":    id,
		"thread_id":     thread,
	}); err != nil {
		return err
	}

	if h.agent == nil {
		return conn.reply(TypeSystemMessage, map[string]any{
			"status":     "agent_unavailable",
			"message_id": id,
		})
	}

	req := AgentRequest{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		ThreadID:     thread,
		MessageID:    id,
		Content:      content,
		Payload:      msg.Payload(),
	}
	// Agent 可能运行很久，不能阻塞接收循环；任务随会话取消并在会话结束前退出
	if !conn.Go(func(ctx context.Context) { h.run(ctx, req) }) {
		return ErrConnectionClosed
	}
	return nil
}

func (h *UserMessageHandler) run(ctx context.Context, req AgentRequest) {
	opts := []MessageOption{ForUser(req.UserID), InThread(req.ThreadID)}
	emit := func(typ MessageType, payload map[string]any) {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["message_id"] = req.MessageID
		h.broadcaster.SendToUser(ctx, req.UserID, NewMessage(typ, payload, opts...))
	}

	if err := h.agent.Run(ctx, req, emit); err != nil && ctx.Err() == nil {
		h.log.ErrorContext(ctx, "agent run failed", zap.String("message_id", req.MessageID), zap.Error(err))
		h.broadcaster.SendToUser(ctx, req.UserID, NewMessage(TypeError, map[string]any{
			"code":       ErrAgentUnavailable.Code,
			"message":    "agent failed to process message",
			"message_id": req.MessageID,
		}, opts...))
	}
}
