package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	name  string
	types []MessageType
	fn    func(ctx context.Context, conn *Connection, msg *Message) error
}

func (h funcHandler) Name() string         { return h.name }
func (h funcHandler) Types() []MessageType { return h.types }

func (h funcHandler) Handle(ctx context.Context, conn *Connection, msg *Message) error {
	return h.fn(ctx, conn, msg)
}

var defaultRouterConfig = RouterConfig{MaxFailures: 5, BackoffBase: 100 * time.Millisecond, BackoffMax: 5 * time.Second}

func TestBackoffMonotonic(t *testing.T) {
	base, max := 100*time.Millisecond, 5*time.Second
	prev := time.Duration(0)
	for n := 1; n <= 12; n++ {
		want := base << (n - 1)
		if want > max {
			want = max
		}
		got := BackoffFor(n, base, max)
		assert.Equal(t, want, got, "n=%d", n)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, time.Duration(0), BackoffFor(0, base, max))
}

func TestRouterUnknownTypeAcks(t *testing.T) {
	r, err := NewRouter(defaultRouterConfig, nil, SystemHandler{})
	require.NoError(t, err)

	ft := newFakeTransport()
	conn := connected("c1", "u1", ft)

	ok := r.Route(context.Background(), conn, NewMessage("custom_event", map[string]any{"x": 1}))
	assert.True(t, ok)

	msgs := ft.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ack", msgs[0]["type"])
	assert.Equal(t, "custom_event", payloadOf(msgs[0])["original_type"])
	assert.False(t, conn.IsClosing())
	assert.Equal(t, HandlingIdle, conn.Handling())
	assert.Equal(t, int32(0), ft.closeCalls.Load())
}

func TestRouterFailureBudget(t *testing.T) {
	fail := true
	h := funcHandler{name: "flaky", types: []MessageType{"work"}, fn: func(context.Context, *Connection, *Message) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}}
	r, err := NewRouter(defaultRouterConfig, nil, h)
	require.NoError(t, err)

	conn := connected("c1", "u1", newFakeTransport())
	msg := NewMessage("work", nil)

	for n := 1; n <= 5; n++ {
		assert.False(t, r.Route(context.Background(), conn, msg))
		assert.Equal(t, n, conn.Failures())
		assert.Equal(t, BackoffFor(n, 100*time.Millisecond, 5*time.Second), r.Backoff(conn))
		assert.Equal(t, HandlingBackoff, conn.Handling())
		assert.Equal(t, n >= 5, r.Exhausted(conn))
	}

	fail = false
	assert.True(t, r.Route(context.Background(), conn, msg))
	assert.Equal(t, 0, conn.Failures())
	assert.Equal(t, time.Duration(0), r.Backoff(conn))
	assert.False(t, r.Exhausted(conn))
}

func TestRouterRecoversPanic(t *testing.T) {
	h := funcHandler{name: "panics", types: []MessageType{"bad"}, fn: func(context.Context, *Connection, *Message) error {
		panic("handler bug")
	}}
	r, err := NewRouter(defaultRouterConfig, nil, h)
	require.NoError(t, err)

	conn := connected("c1", "u1", newFakeTransport())
	assert.False(t, r.Route(context.Background(), conn, NewMessage("bad", nil)))
	assert.Equal(t, 1, conn.Failures())
}

func TestRouterDuplicateType(t *testing.T) {
	dup := funcHandler{name: "dup", types: []MessageType{TypePing}, fn: func(context.Context, *Connection, *Message) error { return nil }}
	_, err := NewRouter(defaultRouterConfig, nil, SystemHandler{}, dup)
	assert.ErrorIs(t, err, ErrHandlerExists)
}

func TestSystemHandler(t *testing.T) {
	r, err := NewRouter(defaultRouterConfig, nil, SystemHandler{})
	require.NoError(t, err)

	tests := []struct {
		in   MessageType
		want MessageType
	}{
		{TypeConnect, TypeSystemMessage},
		{TypePing, TypePong},
		{TypeHeartbeat, TypeHeartbeatAck},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			ft := newFakeTransport()
			conn := connected("c1", "u1", ft)
			require.True(t, r.Route(context.Background(), conn, NewMessage(tt.in, nil)))
			msgs := ft.messages(t)
			require.Len(t, msgs, 1)
			assert.Equal(t, string(tt.want), msgs[0]["type"])
		})
	}
}

func TestThreadHandler(t *testing.T) {
	reg := NewRegistry(0)
	ft := newFakeTransport()
	conn := connected("c1", "u1", ft)
	require.NoError(t, reg.Register(conn))

	r, err := NewRouter(defaultRouterConfig, nil, NewThreadHandler(reg))
	require.NoError(t, err)

	require.True(t, r.Route(context.Background(), conn, NewMessage(TypeSwitchThread, map[string]any{"thread_id": "t9"})))
	assert.Equal(t, "t9", conn.ThreadID())
	assert.Len(t, reg.GetByThread("t9"), 1)

	require.True(t, r.Route(context.Background(), conn, NewMessage(TypeSwitchThread, nil)))
	errs := ft.ofType(t, TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, float64(ErrMessageFormat.Code), payloadOf(errs[0])["code"])
}
