package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Message is one inbound publish.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Connection is an established broker connection created by BrokerLink.Connect.
type Connection struct {
	link     *BrokerLink
	client   MQTTClient
	clientID string
	timeout  time.Duration
	quiesce  uint
	logger   zerolog.Logger

	messages chan Message
	lost     chan error
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
	topics []string

	closeOnce sync.Once
}

func newConnection(link *BrokerLink, clientID string, buffer int, timeout time.Duration, quiesce uint, logger zerolog.Logger) *Connection {
	return &Connection{
		link:     link,
		clientID: clientID,
		timeout:  timeout,
		quiesce:  quiesce,
		logger:   logger.With().Str("client_id", clientID).Logger(),
		messages: make(chan Message, buffer),
		lost:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Subscribe subscribes to topic; matching publishes arrive on Messages.
func (c *Connection) Subscribe(topic string, qos byte) error {
	token := c.client.Subscribe(topic, qos, c.deliver)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribe to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()

	c.logger.Info().Str("topic", topic).Int("qos", int(qos)).Msg("Subscribed to topic")
	return nil
}

// Publish sends payload to topic and waits for the client to hand it off.
func (c *Connection) Publish(topic string, qos byte, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Messages streams inbound publishes in delivery order. It is closed by Close.
func (c *Connection) Messages() <-chan Message {
	return c.messages
}

// Lost yields the reason when the transport drops. It fires at most once.
func (c *Connection) Lost() <-chan error {
	return c.lost
}

// Close unsubscribes, disconnects and detaches the connection from its link.
// It is safe to call more than once.
func (c *Connection) Close() {
	c.link.release(c)
	c.shutdown()
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.closed = true
		close(c.messages)
		topics := c.topics
		c.topics = nil
		c.mu.Unlock()

		if len(topics) > 0 {
			token := c.client.Unsubscribe(topics...)
			if !token.WaitTimeout(c.timeout) {
				c.logger.Debug().Strs("topics", topics).Msg("Unsubscribe timed out")
			} else if err := token.Error(); err != nil {
				c.logger.Debug().Err(err).Strs("topics", topics).Msg("Unsubscribe failed")
			}
		}

		c.client.Disconnect(c.quiesce)
		c.logger.Info().Msg("MQTT connection closed")
	})
}

// deliver is the paho message handler. It blocks while the buffer is full so
// ordering is kept, and gives up once the connection is closed.
func (c *Connection) deliver(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	m := Message{
		Topic:      msg.Topic(),
		Payload:    msg.Payload(),
		ReceivedAt: time.Now(),
	}
	select {
	case c.messages <- m:
	case <-c.done:
	}
}

func (c *Connection) onLost(_ mqtt.Client, err error) {
	select {
	case c.lost <- err:
	default:
	}
	c.link.handleLost(c, err)
}
