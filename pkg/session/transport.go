package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 一条物理连接
// Receive 只由读协程调用；Send 非阻塞，缓冲满返回 ErrSendBufferFull
type Transport interface {
	Receive() ([]byte, error)
	Send(data []byte) error
	Ping() error
	// OnPong 控制帧 pong 回调，需在第一次 Receive 之前设置
	OnPong(fn func())
	Close(code int, reason string) error
	RemoteAddr() string
}

// prioritySender 支持高优先级队列的传输
type prioritySender interface {
	SendPriority(data []byte) error
}

// TransportConfig gorilla 传输参数
type TransportConfig struct {
	SendQueueSize         int
	HighPriorityQueueSize int
	WriteWait             time.Duration
	ReadLimit             int64
}

// wsTransport 基于 gorilla/websocket，单写协程
type wsTransport struct {
	conn *websocket.Conn
	cfg  TransportConfig

	send     chan []byte
	sendHigh chan []byte

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	pumpDone  chan struct{}
}

// NewWebSocketTransport 包装已升级的连接并启动写协程
func NewWebSocketTransport(conn *websocket.Conn, cfg TransportConfig) Transport {
	t := &wsTransport{
		conn:     conn,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendQueueSize),
		sendHigh: make(chan []byte, cfg.HighPriorityQueueSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	// 存活由心跳负责，不设置读超时
	_ = conn.SetReadDeadline(time.Time{})
	go t.writePump()
	return t
}

func (t *wsTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrPeerClosed.WithError(err)
		}
		if t.closed.Load() {
			return nil, ErrConnectionClosed.WithError(err)
		}
		return nil, ErrTransport.WithError(err)
	}
	return data, nil
}

func (t *wsTransport) Send(data []byte) error {
	return t.enqueue(t.send, data)
}

func (t *wsTransport) SendPriority(data []byte) error {
	return t.enqueue(t.sendHigh, data)
}

func (t *wsTransport) enqueue(ch chan []byte, data []byte) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case ch <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping WriteControl 可以与写协程并发调用
func (t *wsTransport) Ping() error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteWait))
}

func (t *wsTransport) OnPong(fn func()) {
	t.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// Close 先让写协程冲刷队列，再发送关闭帧并关闭底层连接
func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)

		select {
		case <-t.pumpDone:
		case <-time.After(t.cfg.WriteWait):
		}

		msg := websocket.FormatCloseMessage(code, reason)
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteWait)); werr != nil &&
			!errors.Is(werr, websocket.ErrCloseSent) {
			err = ErrTransport.WithError(werr)
		}
		if cerr := t.conn.Close(); cerr != nil && err == nil {
			err = ErrTransport.WithError(cerr)
		}
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *wsTransport) writePump() {
	defer close(t.pumpDone)

	for {
		select {
		case <-t.done:
			t.drain()
			return
		case data := <-t.sendHigh:
			if err := t.write(data); err != nil {
				return
			}
		case data := <-t.send:
			// 高优先级队列先行
			for drained := false; !drained; {
				select {
				case high := <-t.sendHigh:
					if err := t.write(high); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			if err := t.write(data); err != nil {
				return
			}
		}
	}
}

// drain 关闭前写出已排队的消息
func (t *wsTransport) drain() {
	for _, ch := range []chan []byte{t.sendHigh, t.send} {
		for {
			select {
			case data := <-ch:
				if err := t.write(data); err != nil {
					return
				}
				continue
			default:
			}
			break
		}
	}
}

func (t *wsTransport) write(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
