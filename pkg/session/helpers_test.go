package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokmz/wsgate/pkg/auth"
	"github.com/tokmz/wsgate/pkg/events"
)

// fakeTransport 内存传输，记录写出的帧和关闭调用
type fakeTransport struct {
	mu          sync.Mutex
	sent        [][]byte
	sendErr     error
	closeCode   int
	closeReason string

	inbound    chan []byte
	inboundErr chan error
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
	pings      atomic.Int32
	pong       atomic.Pointer[func()]
	// autoPong 收到控制 ping 时立即回调 pong
	autoPong bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:    make(chan []byte, 64),
		inboundErr: make(chan error, 1),
		closed:     make(chan struct{}),
	}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case err := <-f.inboundErr:
		return nil, err
	case <-f.closed:
		return nil, ErrConnectionClosed
	}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.pings.Add(1)
	if fn := f.pong.Load(); fn != nil && f.autoPong {
		(*fn)()
	}
	return nil
}

func (f *fakeTransport) OnPong(fn func()) { f.pong.Store(&fn) }

func (f *fakeTransport) Close(code int, reason string) error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode, f.closeReason = code, reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:9999" }

func (f *fakeTransport) push(t *testing.T, v any) {
	t.Helper()
	var data []byte
	switch x := v.(type) {
	case string:
		data = []byte(x)
	case []byte:
		data = x
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	f.inbound <- data
}

func (f *fakeTransport) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// messages 解码全部已写出的帧
func (f *fakeTransport) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, data := range f.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) ofType(t *testing.T, typ MessageType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == string(typ) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) waitType(t *testing.T, typ MessageType, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.ofType(t, typ)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s message(s)", n, typ)
	return f.ofType(t, typ)
}

func (f *fakeTransport) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not closed")
	}
}

func payloadOf(m map[string]any) map[string]any {
	p, _ := m["payload"].(map[string]any)
	return p
}

// headerAuth 从 X-User 头读取用户
var headerAuth = auth.AuthenticatorFunc(func(_ context.Context, setup *auth.SetupContext) (*auth.AuthInfo, error) {
	user := setup.Header.Get("X-User")
	if user == "" {
		return nil, auth.ErrMissingCredential
	}
	if user == "revoked" {
		return nil, auth.ErrRevokedCredential
	}
	return &auth.AuthInfo{UserID: user}, nil
})

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg *Config, opts ...ManagerOption) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	m, err := NewManager(cfg, append([]ManagerOption{WithAuthenticator(headerAuth)}, opts...)...)
	require.NoError(t, err)
	return m
}

func setupFor(user string) *auth.SetupContext {
	h := http.Header{}
	if user != "" {
		h.Set("X-User", user)
	}
	return &auth.SetupContext{Header: h}
}

// startSession 在后台运行会话并等待注册完成
func startSession(t *testing.T, m *Manager, user string) (*fakeTransport, *Connection, <-chan error) {
	t.Helper()
	ft := newFakeTransport()
	before := len(m.Registry().GetByUser(user))
	errc := make(chan error, 1)
	go func() { errc <- m.Serve(context.Background(), setupFor(user), ft) }()

	require.Eventually(t, func() bool {
		return len(m.Registry().GetByUser(user)) > before
	}, 2*time.Second, 2*time.Millisecond)

	var conn *Connection
	for _, c := range m.Registry().GetByUser(user) {
		if c.transport == Transport(ft) {
			conn = c
		}
	}
	require.NotNil(t, conn)
	return ft, conn, errc
}

func waitServe(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// recordPublisher 同步记录事件
type recordPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordPublisher) ofType(typ events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// connected 直接构造处于 Connected 的连接
func connected(id, user string, t Transport) *Connection {
	c := NewConnection(id, user, t)
	c.machine.Transition(StateAuthenticating)
	c.machine.Transition(StateConnected)
	return c
}
