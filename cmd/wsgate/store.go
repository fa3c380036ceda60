package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tokmz/wsgate/pkg/session"
	"github.com/tokmz/wsgate/pkg/store"
)

// TypeLoadHistory 客户端拉取线程历史
const TypeLoadHistory session.MessageType = "load_history"

const maxHistory = 200

// messageStore 把 gorm 消息表接到会话层的 MessageStore 接口上
type messageStore struct {
	db *store.MessageStore
}

func (s messageStore) SaveMessage(ctx context.Context, m session.StoredMessage) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return s.db.Save(ctx, &store.Message{
		MessageID:    m.ID,
		ConnectionID: m.ConnectionID,
		UserID:       m.UserID,
		ThreadID:     m.ThreadID,
		Type:         string(m.Type),
		Payload:      string(payload),
		CreatedAt:    m.CreatedAt,
	})
}

// historyHandler load_history：返回当前用户某线程最近的消息
type historyHandler struct {
	db *store.MessageStore
}

func (historyHandler) Name() string                 { return "history" }
func (historyHandler) Types() []session.MessageType { return []session.MessageType{TypeLoadHistory} }

func (h historyHandler) Handle(ctx context.Context, conn *session.Connection, msg *session.Message) error {
	thread, _ := msg.String("thread_id")
	if thread == "" {
		thread = conn.ThreadID()
	}
	limit := 50
	if v, ok := msg.Payload()["limit"].(float64); ok && v > 0 {
		limit = min(int(v), maxHistory)
	}

	rows, err := h.db.ListByThread(ctx, conn.UserID, thread, limit)
	if err != nil {
		return session.ErrHandlerFailure.WithError(fmt.Errorf("list history: %w", err))
	}

	items := make([]any, 0, len(rows))
	for i := range rows {
		payload, err := rows[i].PayloadMap()
		if err != nil {
			payload = map[string]any{}
		}
		items = append(items, map[string]any{
			"message_id": rows[i].MessageID,
			"type":       rows[i].Type,
			"payload":    payload,
			"timestamp":  float64(rows[i].CreatedAt.UnixMilli()) / 1000,
		})
	}

	return conn.SendMessage(session.NewMessage(session.TypeSystemMessage, map[string]any{
		"status":    "history",
		"thread_id": thread,
		"messages":  items,
	}, session.InThread(thread)))
}
