package mocks

import (
	"sync"
	"time"

	"github.com/benmeehan/geotrack/pkg/mqtt"
	"github.com/stretchr/testify/mock"
)

// MockDialer is a mock implementation of the mqtt Dialer interface
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Connect(endpoint, clientID string) (mqtt.Conn, error) {
	args := m.Called(endpoint, clientID)
	conn, _ := args.Get(0).(mqtt.Conn)
	return conn, args.Error(1)
}

func (m *MockDialer) State() mqtt.ConnectionState {
	args := m.Called()
	return args.Get(0).(mqtt.ConnectionState)
}

// PublishedMessage is one payload recorded by FakeConn.
type PublishedMessage struct {
	Topic   string
	QOS     byte
	Payload []byte
}

// FakeConn is an in-memory mqtt.Conn. Tests push inbound messages with
// Deliver and simulate transport loss with Drop.
type FakeConn struct {
	messages chan mqtt.Message
	lost     chan error

	mu           sync.Mutex
	closed       bool
	subscribed   []string
	published    []PublishedMessage
	SubscribeErr error
	PublishErr   error
}

// NewFakeConn creates a FakeConn with a buffered message channel.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		messages: make(chan mqtt.Message, 64),
		lost:     make(chan error, 1),
	}
}

func (f *FakeConn) Subscribe(topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *FakeConn) Publish(topic string, qos byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.published = append(f.published, PublishedMessage{Topic: topic, QOS: qos, Payload: payload})
	return nil
}

func (f *FakeConn) Messages() <-chan mqtt.Message { return f.messages }

func (f *FakeConn) Lost() <-chan error { return f.lost }

func (f *FakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.messages)
}

// Deliver queues an inbound message stamped with the current time.
func (f *FakeConn) Deliver(topic string, payload []byte) {
	f.DeliverAt(topic, payload, time.Now())
}

// DeliverAt queues an inbound message with an explicit arrival time.
func (f *FakeConn) DeliverAt(topic string, payload []byte, receivedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.messages <- mqtt.Message{Topic: topic, Payload: payload, ReceivedAt: receivedAt}
}

// Drop reports a transport loss.
func (f *FakeConn) Drop(err error) {
	select {
	case f.lost <- err:
	default:
	}
}

// Closed reports whether Close was called.
func (f *FakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Subscribed returns the subscribed topics.
func (f *FakeConn) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

// Published returns the recorded publishes.
func (f *FakeConn) Published() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PublishedMessage(nil), f.published...)
}
