package session

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertConsistent 二级索引与主表一致
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for user, ids := range r.byUser {
		require.NotEmpty(t, ids, "empty set left for user %s", user)
		for id := range ids {
			conn, ok := r.conns[id]
			require.True(t, ok, "orphan id %s in user index", id)
			require.Equal(t, user, conn.UserID)
		}
	}
	for thread, ids := range r.byThread {
		require.NotEmpty(t, ids)
		for id := range ids {
			conn, ok := r.conns[id]
			require.True(t, ok, "orphan id %s in thread index", id)
			require.Equal(t, thread, conn.ThreadID())
		}
	}
	for id, conn := range r.conns {
		_, ok := r.byUser[conn.UserID][id]
		require.True(t, ok, "connection %s missing from user index", id)
		if thread := conn.ThreadID(); thread != "" {
			_, ok := r.byThread[thread][id]
			require.True(t, ok, "connection %s missing from thread index", id)
		}
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(2)

	require.NoError(t, r.Register(NewConnection("a", "u1", nil)))
	err := r.Register(NewConnection("a", "u2", nil))
	assert.ErrorIs(t, err, ErrDuplicateConnection)

	require.NoError(t, r.Register(NewConnection("b", "u1", nil)))
	err = r.Register(NewConnection("c", "u2", nil))
	assert.ErrorIs(t, err, ErrTooManyConnections)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1, r.UserCount())
	assert.Len(t, r.GetByUser("u1"), 2)
	assert.Empty(t, r.GetByUser("u2"))
	assertConsistent(t, r)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(0)
	conn := NewConnection("a", "u1", nil)
	require.NoError(t, r.Register(conn))

	got, ok := r.Unregister("a")
	assert.True(t, ok)
	assert.Same(t, conn, got)

	got, ok = r.Unregister("a")
	assert.False(t, ok)
	assert.Nil(t, got)

	assert.Equal(t, 0, r.UserCount())
	assertConsistent(t, r)
}

func TestRegistryBindThread(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Register(NewConnection("a", "u1", nil)))
	require.NoError(t, r.Register(NewConnection("b", "u1", nil)))

	require.NoError(t, r.BindThread("a", "t1"))
	require.NoError(t, r.BindThread("b", "t1"))
	assert.Len(t, r.GetByThread("t1"), 2)

	require.NoError(t, r.BindThread("a", "t2"))
	assert.Len(t, r.GetByThread("t1"), 1)
	assert.Len(t, r.GetByThread("t2"), 1)

	require.NoError(t, r.BindThread("b", ""))
	assert.Empty(t, r.GetByThread("t1"))

	assert.ErrorIs(t, r.BindThread("missing", "t1"), ErrConnectionNotFound)
	assertConsistent(t, r)
}

func TestRegistryTransition(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Transition("missing", StateClosing)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	require.NoError(t, r.Register(NewConnection("a", "u1", nil)))
	res, err := r.Transition("a", StateAuthenticating)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	res, err = r.Transition("a", StateClosed)
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestRegistryTransitionConn(t *testing.T) {
	r := NewRegistry(0)
	old := NewConnection("a", "u1", nil)
	require.NoError(t, r.Register(old))

	res, registered := r.TransitionConn(old, StateAuthenticating)
	assert.True(t, registered)
	assert.True(t, res.Applied)
	res, _ = r.TransitionConn(old, StateConnected)
	require.True(t, res.Applied)

	// 旧记录移出后同 id 重新注册，旧会话的迁移不能落到新记录上
	_, ok := r.Unregister("a")
	require.True(t, ok)
	fresh := NewConnection("a", "u1", nil)
	require.NoError(t, r.Register(fresh))

	res, registered = r.TransitionConn(old, StateClosing)
	assert.False(t, registered)
	assert.True(t, res.Applied)
	assert.Equal(t, StateClosing, old.State())
	assert.Equal(t, StateInitializing, fresh.State())
}

func TestRegistryConsistencyRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := NewRegistry(0)
	users := []string{"u1", "u2", "u3", "u4"}
	threads := []string{"", "t1", "t2"}

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("c%d", rng.Intn(40))
		switch rng.Intn(3) {
		case 0:
			err := r.Register(NewConnection(id, users[rng.Intn(len(users))], nil))
			if err != nil {
				assert.ErrorIs(t, err, ErrDuplicateConnection)
			}
		case 1:
			r.Unregister(id)
		case 2:
			err := r.BindThread(id, threads[rng.Intn(len(threads))])
			if err != nil {
				assert.ErrorIs(t, err, ErrConnectionNotFound)
			}
		}
		if i%50 == 0 {
			assertConsistent(t, r)
		}
	}
	assertConsistent(t, r)

	total := 0
	for _, u := range users {
		total += len(r.GetByUser(u))
	}
	assert.Equal(t, r.Count(), total)
}

func TestRegistryRangeAllowsMutation(t *testing.T) {
	r := NewRegistry(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Register(NewConnection(fmt.Sprintf("c%d", i), "u1", nil)))
	}
	r.Range(func(c *Connection) bool {
		r.Unregister(c.ID)
		return true
	})
	assert.Equal(t, 0, r.Count())
	assertConsistent(t, r)
}
