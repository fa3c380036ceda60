package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wsgate/pkg/cache"
	"github.com/tokmz/wsgate/pkg/events"
)

func TestGuardOversize(t *testing.T) {
	pub := &recordPublisher{}
	g := NewGuard(GuardConfig{MaxMessageBytes: 16, ViolationThreshold: 10}, nil, pub, nil, nil)
	ft := newFakeTransport()
	conn := connected("c1", "u1", ft)

	assert.True(t, g.ValidateInbound(context.Background(), conn, []byte(`{"type":"ping"}`)).OK)

	v := g.ValidateInbound(context.Background(), conn, []byte(strings.Repeat("x", 17)))
	assert.False(t, v.OK)
	assert.Equal(t, "oversize_message", v.Reason)
	assert.ErrorIs(t, v.Err, ErrOversizeMessage)
	assert.Equal(t, int64(1), conn.Violations())

	errs := ft.ofType(t, TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, float64(ErrOversizeMessage.Code), payloadOf(errs[0])["code"])

	evs := pub.ofType(events.SecurityViolation)
	require.Len(t, evs, 1)
	assert.Equal(t, "u1", evs[0].UserID)
	assert.False(t, conn.IsClosing())
}

func TestGuardRateLimit(t *testing.T) {
	limiter := cache.NewMemoryLimiter(time.Minute)
	defer limiter.Close()

	g := NewGuard(GuardConfig{MaxMessageBytes: 1024, RateLimitPerMinute: 3, ViolationThreshold: 10}, limiter, nil, nil, nil)
	// 同一用户的两个连接共享额度
	c1 := connected("c1", "u1", newFakeTransport())
	c2 := connected("c2", "u1", newFakeTransport())
	other := connected("c3", "u2", newFakeTransport())

	ctx := context.Background()
	assert.True(t, g.ValidateInbound(ctx, c1, []byte("a")).OK)
	assert.True(t, g.ValidateInbound(ctx, c2, []byte("a")).OK)
	assert.True(t, g.ValidateInbound(ctx, c1, []byte("a")).OK)

	v := g.ValidateInbound(ctx, c2, []byte("a"))
	assert.False(t, v.OK)
	assert.ErrorIs(t, v.Err, ErrRateLimit)
	assert.Equal(t, int64(1), c2.Violations())

	assert.True(t, g.ValidateInbound(ctx, other, []byte("a")).OK)

	g.UpdateLimits(GuardConfig{MaxMessageBytes: 1024, RateLimitPerMinute: 10, ViolationThreshold: 10})
	assert.True(t, g.ValidateInbound(ctx, c1, []byte("a")).OK)
	assert.Equal(t, 10, g.Limits().RateLimitPerMinute)
}

func TestValidateConnectionSecurity(t *testing.T) {
	g := NewGuard(GuardConfig{MaxMessageBytes: 4, ViolationThreshold: 2}, nil, nil, nil, nil)
	conn := connected("c1", "u1", newFakeTransport())

	for i := 0; i < 3; i++ {
		assert.True(t, g.ValidateConnectionSecurity(conn), "violations=%d", conn.Violations())
		g.ValidateInbound(context.Background(), conn, []byte("too long"))
	}
	assert.False(t, g.ValidateConnectionSecurity(conn))

	anonymous := connected("c2", "", newFakeTransport())
	assert.False(t, g.ValidateConnectionSecurity(anonymous))

	closing := connected("c3", "u1", newFakeTransport())
	closing.machine.Transition(StateClosing)
	assert.False(t, g.ValidateConnectionSecurity(closing))
}
