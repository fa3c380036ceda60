package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterIsolationFuzz(t *testing.T) {
	reg := NewRegistry(0)
	b := NewBroadcaster(reg, nil)

	const users, perUser = 12, 3
	transports := map[string][]*fakeTransport{}
	for u := 0; u < users; u++ {
		user := fmt.Sprintf("user-%d", u)
		for c := 0; c < perUser; c++ {
			ft := newFakeTransport()
			require.NoError(t, reg.Register(connected(fmt.Sprintf("%s-c%d", user, c), user, ft)))
			transports[user] = append(transports[user], ft)
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				owner := fmt.Sprintf("user-%d", rng.Intn(users))
				target := owner
				// 四分之一的调用故意把 A 的消息发给 B
				if rng.Intn(4) == 0 {
					target = fmt.Sprintf("user-%d", rng.Intn(users))
				}
				msg := NewMessage(TypeAgentResponse, map[string]any{"owner": owner}, ForUser(owner))
				n := b.SendToUser(context.Background(), target, msg)
				if target != owner {
					assert.Equal(t, 0, n)
				} else {
					assert.Equal(t, perUser, n)
				}
			}
		}(int64(g))
	}
	wg.Wait()

	for user, fts := range transports {
		for _, ft := range fts {
			for _, m := range ft.messages(t) {
				require.Equal(t, user, m["user_id"], "message for %v leaked to %s", m["user_id"], user)
				require.Equal(t, user, payloadOf(m)["owner"])
			}
		}
	}
}

func TestBroadcasterPartialFailure(t *testing.T) {
	reg := NewRegistry(0)
	b := NewBroadcaster(reg, nil)

	var fts []*fakeTransport
	for i := 0; i < 4; i++ {
		ft := newFakeTransport()
		fts = append(fts, ft)
		require.NoError(t, reg.Register(connected(fmt.Sprintf("c%d", i), "u1", ft)))
	}
	fts[1].failSends(ErrSendBufferFull)

	n := b.SendToUser(context.Background(), "u1", NewMessage(TypeSystemMessage, nil, ForUser("u1")))
	assert.Equal(t, 3, n)
	assert.Empty(t, fts[1].messages(t))
	for _, i := range []int{0, 2, 3} {
		assert.Len(t, fts[i].messages(t), 1)
	}
}

func TestBroadcasterSkipsClosingConnections(t *testing.T) {
	reg := NewRegistry(0)
	b := NewBroadcaster(reg, nil)

	open, closing := newFakeTransport(), newFakeTransport()
	require.NoError(t, reg.Register(connected("a", "u1", open)))
	c := connected("b", "u1", closing)
	require.NoError(t, reg.Register(c))
	c.machine.Transition(StateClosing)

	assert.Equal(t, 1, b.SendToUser(context.Background(), "u1", NewMessage(TypeSystemMessage, nil)))
}

func TestBroadcasterThreadRespectsOwner(t *testing.T) {
	reg := NewRegistry(0)
	b := NewBroadcaster(reg, nil)

	alice, bob := newFakeTransport(), newFakeTransport()
	require.NoError(t, reg.Register(connected("a", "alice", alice)))
	require.NoError(t, reg.Register(connected("b", "bob", bob)))
	require.NoError(t, reg.BindThread("a", "shared"))
	require.NoError(t, reg.BindThread("b", "shared"))

	n := b.SendToThread(context.Background(), "shared", NewMessage(TypeAgentUpdate, nil, ForUser("alice")))
	assert.Equal(t, 1, n)
	assert.Len(t, alice.messages(t), 1)
	assert.Empty(t, bob.messages(t))

	// 线程 id 可被任意用户绑定，未标记归属的消息不按线程投递
	n = b.SendToThread(context.Background(), "shared", NewMessage(TypeSystemMessage, map[string]any{"notice": "maintenance"}))
	assert.Equal(t, 0, n)
	assert.Len(t, alice.messages(t), 1)
	assert.Empty(t, bob.messages(t))
}

func TestBroadcastPredicateAndSingle(t *testing.T) {
	reg := NewRegistry(0)
	b := NewBroadcaster(reg, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, reg.Register(connected(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), newFakeTransport())))
	}

	assert.Equal(t, 3, b.Broadcast(context.Background(), NewMessage(TypeSystemMessage, nil), nil))
	assert.Equal(t, 1, b.Broadcast(context.Background(), NewMessage(TypeSystemMessage, nil), func(c *Connection) bool {
		return c.UserID == "u2"
	}))
	assert.True(t, b.SendToConnection(context.Background(), "c0", NewMessage(TypeSystemMessage, nil)))
	assert.False(t, b.SendToConnection(context.Background(), "missing", NewMessage(TypeSystemMessage, nil)))
	assert.False(t, b.SendToConnection(context.Background(), "c0", NewMessage(TypeSystemMessage, nil, ForUser("u1"))))
}
