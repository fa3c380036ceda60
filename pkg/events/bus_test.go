package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wsgate/pkg/logger"
)

type recordSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed atomic.Bool
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordSink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestBusDeliversToSubscribersAndSinks(t *testing.T) {
	bus := NewBus(BusConfig{Workers: 2}, logger.Nop())
	sink := &recordSink{}
	bus.AddSink(sink)

	var opened atomic.Int32
	bus.Subscribe(ConnectionOpened, func(Event) { opened.Add(1) })

	bus.Publish(New(ConnectionOpened, "c1", "alice", ""))
	bus.Publish(New(SecurityViolation, "c1", "alice", "oversize"))
	bus.Publish(New(ConnectionClosed, "c1", "alice", "client_disconnect"))

	require.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), opened.Load())

	require.NoError(t, bus.Close())
	assert.True(t, sink.closed.Load())

	// 关闭后的发布被忽略
	bus.Publish(New(ConnectionOpened, "c2", "bob", ""))
	assert.Equal(t, 3, sink.count())
}

func TestBusDropsWhenQueueFull(t *testing.T) {
	bus := NewBus(BusConfig{Workers: 1, QueueSize: 1, CriticalWait: 10 * time.Millisecond}, logger.Nop())
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(SecurityViolation, func(Event) { <-release })

	for i := 0; i < 10; i++ {
		bus.Publish(New(SecurityViolation, "c", "u", "rate"))
	}
	close(release)
	assert.Greater(t, bus.Dropped(), int64(0))
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(BusConfig{Workers: 1}, logger.Nop())
	defer bus.Close()

	done := make(chan struct{})
	bus.Subscribe(AuthFailed, func(Event) { panic("bad handler") })
	bus.Subscribe(AuthFailed, func(Event) { close(done) })
	bus.Publish(New(AuthFailed, "", "", "invalid token"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler not run after panic")
	}
}

func TestSinkErrorIsLoggedNotFatal(t *testing.T) {
	bus := NewBus(BusConfig{}, logger.Nop())
	sink := &recordSink{err: errors.New("broker down")}
	bus.AddSink(sink, ConnectionClosed)

	bus.Publish(New(ConnectionClosed, "c", "u", "idle_timeout"))
	bus.Publish(New(ConnectionOpened, "c", "u", ""))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close())
}

func TestEventWithCopies(t *testing.T) {
	e := New(SecurityViolation, "c", "u", "oversize")
	e2 := e.With("bytes", 9000)
	assert.Nil(t, e.Data)
	assert.Equal(t, 9000, e2.Data["bytes"])
	assert.NotEmpty(t, e.ID)
}

func TestKafkaSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != ConnectionOpened || e.UserID != "alice" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkWithProducer(producer, "wsgate.events")
	require.NoError(t, sink.Deliver(context.Background(), New(ConnectionOpened, "c1", "alice", "")))
	assert.ErrorIs(t, sink.Deliver(context.Background(), New(ConnectionClosed, "c1", "alice", "")), sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaSinkRequiresConfig(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)
}

type fakeChannel struct {
	keys   []string
	bodies [][]byte
	closed bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if exchange != "wsgate" {
		return errors.New("wrong exchange")
	}
	c.keys = append(c.keys, key)
	c.bodies = append(c.bodies, msg.Body)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPSink(t *testing.T) {
	ch := &fakeChannel{}
	sink := &AMQPSink{ch: ch, exchange: "wsgate"}

	require.NoError(t, sink.Deliver(context.Background(), New(SecurityViolation, "c1", "bob", "rate_limit")))
	require.Len(t, ch.keys, 1)
	assert.Equal(t, "security.violation", ch.keys[0])

	var e Event
	require.NoError(t, json.Unmarshal(ch.bodies[0], &e))
	assert.Equal(t, "rate_limit", e.Reason)

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)

	_, err := NewAMQPSink(AMQPConfig{})
	assert.Error(t, err)
}
