package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/geotrack/internal/constants"
	"github.com/benmeehan/geotrack/internal/decoder"
	"github.com/benmeehan/geotrack/internal/metrics"
	"github.com/benmeehan/geotrack/internal/models"
	"github.com/benmeehan/geotrack/pkg/location"
	"github.com/benmeehan/geotrack/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// PublisherConfig holds the settings of a PublisherService.
type PublisherConfig struct {
	Endpoint          string
	ClientIDPrefix    string
	Topic             string
	UpdatesTopic      string
	QOS               int
	DeviceID          string
	UserID            string
	PublishInterval   time.Duration
	ReconnectInterval time.Duration
	PositionInterval  time.Duration
}

// PublisherService periodically publishes the device position. It moves
// idle -> connecting -> connected and falls back to disconnected on handshake
// failure or transport loss, retrying on the reconnect interval.
type PublisherService struct {
	cfg PublisherConfig

	// Dependencies
	dialer   mqtt.Dialer
	provider location.Provider
	logger   zerolog.Logger
	now      func() time.Time

	machine  *fsm.FSM
	statusMu sync.RWMutex
	status   string

	// Owned by the loop goroutine
	conn     mqtt.Conn
	position *location.Location

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPublisherService creates a PublisherService in the idle state.
func NewPublisherService(cfg PublisherConfig, dialer mqtt.Dialer, provider location.Provider, logger zerolog.Logger) *PublisherService {
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "geotrack"
	}
	if cfg.Topic == "" {
		cfg.Topic = constants.TopicDeviceLocation
	}
	if cfg.UpdatesTopic == "" {
		cfg.UpdatesTopic = constants.TopicLocationUpdates
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = constants.DefaultPublishInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = constants.DefaultReconnectInterval
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = 5 * time.Second
	}

	p := &PublisherService{
		cfg:      cfg,
		dialer:   dialer,
		provider: provider,
		logger:   logger,
		now:      time.Now,
		status:   "Disconnected",
	}
	p.machine = fsm.NewFSM(
		constants.PublisherStateIdle,
		fsm.Events{
			{Name: constants.PublisherEventStart, Src: []string{constants.PublisherStateIdle}, Dst: constants.PublisherStateConnecting},
			{Name: constants.PublisherEventConnected, Src: []string{constants.PublisherStateConnecting}, Dst: constants.PublisherStateConnected},
			{Name: constants.PublisherEventFail, Src: []string{constants.PublisherStateConnecting}, Dst: constants.PublisherStateDisconnected},
			{Name: constants.PublisherEventLose, Src: []string{constants.PublisherStateConnected}, Dst: constants.PublisherStateDisconnected},
			{Name: constants.PublisherEventRetry, Src: []string{constants.PublisherStateDisconnected}, Dst: constants.PublisherStateConnecting},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.logger.Debug().
					Str("event", e.Event).
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("Publisher state changed")
			},
		},
	)
	return p
}

// Start launches position polling and the publish loop.
func (p *PublisherService) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Msg("PublisherService is already running")
		return errors.New("publisher service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	positions := make(chan location.Location, 1)
	p.wg.Add(2)
	go p.pollPositions(positions)
	go p.run(positions)

	p.logger.Info().
		Str("endpoint", p.cfg.Endpoint).
		Str("topic", p.cfg.Topic).
		Str("device_id", p.cfg.DeviceID).
		Dur("publish_interval", p.cfg.PublishInterval).
		Msg("PublisherService started")
	return nil
}

// Stop ends the loop and closes the broker connection.
func (p *PublisherService) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warn().Msg("PublisherService is not running")
		return errors.New("publisher service is not running")
	}

	p.cancel()
	p.wg.Wait()

	p.running = false
	p.logger.Info().Msg("PublisherService stopped")
	return nil
}

// State returns the current state name.
func (p *PublisherService) State() string {
	return p.machine.Current()
}

// Status returns the human-readable connection status.
func (p *PublisherService) Status() string {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

func (p *PublisherService) fire(event, status string) {
	if err := p.machine.Event(context.Background(), event); err != nil {
		p.logger.Debug().Err(err).Str("event", event).Msg("Ignoring publisher event")
		return
	}
	p.statusMu.Lock()
	p.status = status
	p.statusMu.Unlock()
}

func (p *PublisherService) run(positions <-chan location.Location) {
	defer p.wg.Done()

	publish := time.NewTicker(p.cfg.PublishInterval)
	defer publish.Stop()
	reconnect := time.NewTicker(p.cfg.ReconnectInterval)
	defer reconnect.Stop()

	defer func() {
		if p.conn != nil {
			p.conn.Close()
			p.conn = nil
		}
	}()

	for {
		var messages <-chan mqtt.Message
		var lost <-chan error
		if p.conn != nil {
			messages = p.conn.Messages()
			lost = p.conn.Lost()
		}

		select {
		case <-p.ctx.Done():
			p.logger.Info().Msg("PublisherService is stopping")
			return

		case pos := <-positions:
			changed := p.position == nil || *p.position != pos
			p.position = &pos
			switch p.State() {
			case constants.PublisherStateIdle:
				if p.cfg.DeviceID == "" {
					p.logger.Warn().Msg("Device ID is not known yet, staying idle")
					continue
				}
				p.fire(constants.PublisherEventStart, "Connecting")
				p.connect()
			case constants.PublisherStateConnected:
				if changed {
					p.publish()
				}
			}

		case <-publish.C:
			if p.State() == constants.PublisherStateConnected {
				p.publish()
			}

		case <-reconnect.C:
			if p.State() == constants.PublisherStateDisconnected {
				p.logger.Info().Msg("Attempting to reconnect to MQTT broker")
				p.fire(constants.PublisherEventRetry, "Connecting")
				p.connect()
			}

		case err := <-lost:
			reason := "connection lost"
			if err != nil {
				reason = err.Error()
			}
			p.conn.Close()
			p.conn = nil
			p.fire(constants.PublisherEventLose, "Disconnected: "+reason)

		case msg, ok := <-messages:
			if !ok {
				p.conn = nil
				p.fire(constants.PublisherEventLose, "Disconnected: connection closed")
				continue
			}
			p.logger.Debug().Str("topic", msg.Topic).Bytes("payload", msg.Payload).Msg("Message arrived")
		}
	}
}

// connect dials with a fresh client id, replacing any previous connection.
func (p *PublisherService) connect() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}

	clientID := fmt.Sprintf("%s-%s", p.cfg.ClientIDPrefix, uuid.NewString()[:8])
	conn, err := p.dialer.Connect(p.cfg.Endpoint, clientID)
	if err != nil {
		metrics.BrokerConnectAttempts.WithLabelValues("failure").Inc()
		reason := err.Error()
		var connectErr *mqtt.ConnectError
		if errors.As(err, &connectErr) {
			reason = connectErr.Reason
		}
		p.logger.Error().Err(err).Str("client_id", clientID).Msg("MQTT connection failed")
		p.fire(constants.PublisherEventFail, "Connection failed: "+reason)
		return
	}
	metrics.BrokerConnectAttempts.WithLabelValues("success").Inc()

	p.conn = conn
	p.fire(constants.PublisherEventConnected, "Connected")

	if err := conn.Subscribe(p.cfg.UpdatesTopic, byte(p.cfg.QOS)); err != nil {
		p.logger.Warn().Err(err).Str("topic", p.cfg.UpdatesTopic).Msg("Failed to subscribe to updates topic")
	}
	p.publish()
}

// publish sends the last known position. Failures are logged only; loss
// of the transport is reported separately through the connection.
func (p *PublisherService) publish() {
	if p.conn == nil || p.position == nil {
		return
	}

	report := models.LocationReport{
		DeviceID:  p.cfg.DeviceID,
		Latitude:  p.position.Latitude,
		Longitude: p.position.Longitude,
		Timestamp: p.now().UTC(),
	}
	if p.cfg.UserID != "" {
		user := p.cfg.UserID
		report.User = &user
	}

	payload, err := decoder.Encode(report)
	if err != nil {
		metrics.PublishedReports.WithLabelValues("failure").Inc()
		p.logger.Error().Err(err).Msg("Failed to encode location report")
		return
	}

	if err := p.conn.Publish(p.cfg.Topic, byte(p.cfg.QOS), payload); err != nil {
		metrics.PublishedReports.WithLabelValues("failure").Inc()
		p.logger.Error().Err(err).Str("topic", p.cfg.Topic).Msg("Failed to publish location")
		return
	}

	metrics.PublishedReports.WithLabelValues("success").Inc()
	p.logger.Info().
		Str("topic", p.cfg.Topic).
		Float64("latitude", report.Latitude).
		Float64("longitude", report.Longitude).
		Msg("Location published")
}

// pollPositions reads the provider and hands the latest fix to the loop,
// replacing one that was not consumed yet.
func (p *PublisherService) pollPositions(out chan location.Location) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PositionInterval)
	defer ticker.Stop()

	for {
		p.pollOnce(out)

		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *PublisherService) pollOnce(out chan location.Location) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.PositionInterval)
	defer cancel()

	pos, err := p.provider.GetLocation(ctx)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("Failed to get location from provider")
		}
		return
	}

	select {
	case out <- pos:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- pos:
	default:
	}
}
