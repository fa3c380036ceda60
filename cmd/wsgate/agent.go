package main

import (
	"context"
	"strings"
	"time"

	"github.com/tokmz/wsgate/pkg/session"
)

// echoAgent 本地联调用的 Agent：按词流式回显用户消息
type echoAgent struct {
	delay time.Duration
}

func (a echoAgent) Run(ctx context.Context, req session.AgentRequest, emit session.Emit) error {
	emit(session.TypeAgentUpdate, map[string]any{"status": "thinking"})

	words := strings.Fields(req.Content)
	for i, w := range words {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.delay):
		}
		emit(session.TypeAgentUpdate, map[string]any{"status": "streaming", "delta": w, "index": i})
	}

	emit(session.TypeAgentResponse, map[string]any{"content": req.Content, "final": true})
	return nil
}
