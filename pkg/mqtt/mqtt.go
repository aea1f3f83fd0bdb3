package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTClient defines the subset of the paho client the link relies on.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// ClientFactory builds a client from prepared options.
type ClientFactory func(opts *mqtt.ClientOptions) MQTTClient

// Conn is a single established broker connection.
type Conn interface {
	Subscribe(topic string, qos byte) error
	Publish(topic string, qos byte, payload []byte) error
	Messages() <-chan Message
	Lost() <-chan error
	Close()
}

// Dialer opens connections and reports the state of the most recent one.
type Dialer interface {
	Connect(endpoint, clientID string) (Conn, error)
	State() ConnectionState
}

// LinkConfig configures a BrokerLink.
type LinkConfig struct {
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MessageBuffer  int
	CleanSession   bool
	QuiesceMillis  uint
	ClientFactory  ClientFactory
	OnStateChange  func(ConnectionState)
}

// BrokerLink owns at most one live connection to the broker at a time.
// It never reconnects on its own; callers decide when to dial again.
type BrokerLink struct {
	cfg    LinkConfig
	logger zerolog.Logger
	state  *stateMachine

	mu      sync.Mutex
	current *Connection
}

// NewBrokerLink creates a BrokerLink in the disconnected state.
func NewBrokerLink(cfg LinkConfig, logger zerolog.Logger) *BrokerLink {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = 256
	}
	if cfg.QuiesceMillis == 0 {
		cfg.QuiesceMillis = 250
	}
	if cfg.ClientFactory == nil {
		cfg.ClientFactory = func(opts *mqtt.ClientOptions) MQTTClient {
			return mqtt.NewClient(opts)
		}
	}

	link := &BrokerLink{
		cfg:    cfg,
		logger: logger,
	}
	link.state = newStateMachine(link.stateChanged)
	return link
}

// State returns the current connection state.
func (b *BrokerLink) State() ConnectionState {
	return b.state.current()
}

// Connect performs one handshake against endpoint. Any previous connection is
// torn down first. The handshake is bounded by the configured connect timeout.
func (b *BrokerLink) Connect(endpoint, clientID string) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		b.logger.Debug().Str("client_id", b.current.clientID).Msg("Tearing down previous MQTT connection")
		b.current.shutdown()
		b.current = nil
		_, _ = b.state.fire(eventClose, "replaced")
	}

	if _, err := b.state.fire(eventDial, ""); err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Reason: "link is busy", Err: err}
	}

	conn := newConnection(b, clientID, b.cfg.MessageBuffer, b.cfg.ConnectTimeout, b.cfg.QuiesceMillis, b.logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(endpoint)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(b.cfg.ConnectTimeout)
	opts.SetKeepAlive(b.cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(b.cfg.CleanSession)
	opts.SetOrderMatters(true)
	opts.SetDefaultPublishHandler(conn.deliver)
	opts.SetConnectionLostHandler(conn.onLost)

	client := b.cfg.ClientFactory(opts)
	conn.client = client

	b.logger.Info().Str("endpoint", endpoint).Str("client_id", clientID).Msg("Connecting to MQTT broker")

	token := client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		client.Disconnect(0)
		connectErr := &ConnectError{
			Endpoint: endpoint,
			Reason:   fmt.Sprintf("handshake timed out after %s", b.cfg.ConnectTimeout),
			Err:      ErrTimeout,
		}
		_, _ = b.state.fire(eventFail, connectErr.Reason)
		return nil, connectErr
	}
	if err := token.Error(); err != nil {
		connectErr := &ConnectError{Endpoint: endpoint, Reason: err.Error(), Err: err}
		_, _ = b.state.fire(eventFail, connectErr.Reason)
		return nil, connectErr
	}

	b.current = conn
	_, _ = b.state.fire(eventEstablish, "")
	return conn, nil
}

// Close tears down the current connection, if any.
func (b *BrokerLink) Close() {
	b.mu.Lock()
	conn := b.current
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// handleLost records a transport loss reported by paho for conn.
func (b *BrokerLink) handleLost(conn *Connection, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != conn {
		b.logger.Debug().Str("client_id", conn.clientID).Msg("Ignoring connection loss of a replaced connection")
		return
	}

	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	_, _ = b.state.fire(eventLose, reason)
}

// release detaches conn from the link when it is closed by its owner.
func (b *BrokerLink) release(conn *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != conn {
		return
	}
	b.current = nil
	_, _ = b.state.fire(eventClose, "")
}

func (b *BrokerLink) stateChanged(state ConnectionState) {
	event := b.logger.Info()
	if state.Phase == PhaseFailed || (state.Phase == PhaseDisconnected && state.Reason != "") {
		event = b.logger.Warn()
	}
	event.Str("phase", string(state.Phase)).
		Str("reason", state.Reason).
		Msg("MQTT connection state changed")

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(state)
	}
}
