package events

import (
	"time"

	"github.com/google/uuid"
)

// Type 事件类型
type Type string

const (
	// ConnectionOpened 连接完成认证并注册
	ConnectionOpened Type = "connection.opened"
	// ConnectionClosed 连接完成清理
	ConnectionClosed Type = "connection.closed"
	// SecurityViolation 入站消息被安全检查拒绝
	SecurityViolation Type = "security.violation"
	// AuthFailed 握手后认证失败
	AuthFailed Type = "auth.failed"
)

// AllTypes 全部事件类型，Sink 默认订阅这些
var AllTypes = []Type{ConnectionOpened, ConnectionClosed, SecurityViolation, AuthFailed}

// Event 生命周期事件
type Event struct {
	ID           string         `json:"id"`
	Type         Type           `json:"type"`
	ConnectionID string         `json:"connection_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Time         time.Time      `json:"time"`
}

// New 创建事件，自动填充 ID 和时间
func New(typ Type, connID, userID, reason string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         typ,
		ConnectionID: connID,
		UserID:       userID,
		Reason:       reason,
		Time:         time.Now(),
	}
}

// With 附加数据（返回副本）
func (e Event) With(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Publisher 事件发布方
type Publisher interface {
	Publish(Event)
}

// Discard 丢弃所有事件
type Discard struct{}

// Publish 实现 Publisher
func (Discard) Publish(Event) {}
