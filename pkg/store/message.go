package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Message 持久化的会话消息
type Message struct {
	ID           uint      `gorm:"primaryKey"`
	MessageID    string    `gorm:"size:64;uniqueIndex"`
	ConnectionID string    `gorm:"size:64"`
	UserID       string    `gorm:"size:128;index:idx_user_thread,priority:1"`
	ThreadID     string    `gorm:"size:128;index:idx_user_thread,priority:2"`
	Type         string    `gorm:"size:64"`
	Payload      string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 表名
func (Message) TableName() string { return "session_messages" }

// PayloadMap 解析 Payload
func (m *Message) PayloadMap() (map[string]any, error) {
	out := map[string]any{}
	if m.Payload == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(m.Payload), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MessageStore 消息存储
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore 创建消息存储，migrate 为 true 时建表
func NewMessageStore(db *gorm.DB, migrate bool) (*MessageStore, error) {
	if migrate {
		if err := db.AutoMigrate(&Message{}); err != nil {
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}
	return &MessageStore{db: db}, nil
}

// Save 写入消息，MessageID 重复时忽略（客户端重发）
func (s *MessageStore) Save(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(m).Error
}

// ListByThread 按时间顺序返回某用户某线程的最近 limit 条消息
// 查询总是带 user_id 条件，一个用户读不到其他用户的线程
func (s *MessageStore) ListByThread(ctx context.Context, userID, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Message
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close 关闭连接池
func (s *MessageStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
