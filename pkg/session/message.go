package session

import (
	"encoding/json"
	"time"
)

// MessageType 消息类型
// 未知类型按原值保留，由路由的兜底处理器确认
type MessageType string

// 保留的控制类型
const (
	TypeConnect    MessageType = "connect"
	TypeDisconnect MessageType = "disconnect"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
	TypeHeartbeat  MessageType = "heartbeat"
	TypeAck        MessageType = "ack"
	TypeError      MessageType = "error"
)

// 业务类型
const (
	TypeSystemMessage MessageType = "system_message"
	TypeUserMessage   MessageType = "user_message"
	TypeAgentResponse MessageType = "agent_response"
	TypeAgentUpdate   MessageType = "agent_update"
	TypeSwitchThread  MessageType = "switch_thread"
	TypeHeartbeatAck  MessageType = "heartbeat_ack"
)

var knownTypes = map[MessageType]struct{}{
	TypeConnect: {}, TypeDisconnect: {}, TypePing: {}, TypePong: {}, TypeHeartbeat: {}, TypeAck: {}, TypeError: {},
	TypeSystemMessage: {}, TypeUserMessage: {}, TypeAgentResponse: {}, TypeAgentUpdate: {}, TypeSwitchThread: {},
	TypeHeartbeatAck: {},
}

// Known 是否为已知类型
func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message 不可变消息，不持有任何连接引用
type Message struct {
	typ       MessageType
	payload   map[string]any
	userID    string
	threadID  string
	timestamp time.Time
}

// MessageOption 消息选项
type MessageOption func(*Message)

// ForUser 标记消息归属用户，Broadcaster 只会把它写给该用户的连接
func ForUser(userID string) MessageOption {
	return func(m *Message) { m.userID = userID }
}

// InThread 标记线程
func InThread(threadID string) MessageOption {
	return func(m *Message) { m.threadID = threadID }
}

// At 指定时间戳
func At(t time.Time) MessageOption {
	return func(m *Message) { m.timestamp = t }
}

// NewMessage 创建消息，payload 会被浅拷贝
func NewMessage(typ MessageType, payload map[string]any, opts ...MessageOption) *Message {
	m := &Message{
		typ:       typ,
		payload:   copyPayload(payload),
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Message) Type() MessageType    { return m.typ }
func (m *Message) UserID() string       { return m.userID }
func (m *Message) ThreadID() string     { return m.threadID }
func (m *Message) Timestamp() time.Time { return m.timestamp }

// Payload 返回副本
func (m *Message) Payload() map[string]any {
	return copyPayload(m.payload)
}

// String 读取 payload 中的字符串字段
func (m *Message) String(key string) (string, bool) {
	v, ok := m.payload[key].(string)
	return v, ok
}

type wireMessage struct {
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload"`
	UserID    string         `json:"user_id,omitempty"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// MarshalJSON 编码为线上格式，timestamp 为秒级浮点数
func (m *Message) MarshalJSON() ([]byte, error) {
	payload := m.payload
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(wireMessage{
		Type:      m.typ,
		Payload:   payload,
		UserID:    m.userID,
		ThreadID:  m.threadID,
		Timestamp: float64(m.timestamp.UnixNano()) / float64(time.Second),
	})
}

// ParseMessage 解析入站帧，格式错误返回 ErrMessageFormat
func ParseMessage(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, ErrMessageFormat.WithError(err)
	}
	if w.Type == "" {
		return nil, ErrMessageFormat.WithMessage("message type is required")
	}

	ts := time.Now()
	if w.Timestamp > 0 {
		sec := int64(w.Timestamp)
		ts = time.Unix(sec, int64((w.Timestamp-float64(sec))*float64(time.Second)))
	}
	if w.Payload == nil {
		w.Payload = map[string]any{}
	}
	return &Message{
		typ:       w.Type,
		payload:   w.Payload,
		userID:    w.UserID,
		threadID:  w.ThreadID,
		timestamp: ts,
	}, nil
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
