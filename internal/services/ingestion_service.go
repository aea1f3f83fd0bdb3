package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/geotrack/internal/decoder"
	"github.com/benmeehan/geotrack/internal/metrics"
	"github.com/benmeehan/geotrack/internal/models"
	"github.com/benmeehan/geotrack/internal/presence"
	"github.com/benmeehan/geotrack/internal/store"
	"github.com/benmeehan/geotrack/internal/utils"
	"github.com/benmeehan/geotrack/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IngestionConfig holds the settings of an IngestionService.
type IngestionConfig struct {
	Endpoint          string
	ClientIDPrefix    string
	Topic             string
	QOS               int
	ReconnectInterval time.Duration
	SweepPeriod       time.Duration
	ExpiryWindow      time.Duration
	WriteTimeout      time.Duration
	EnqueueTimeout    time.Duration
	StoreWorkers      int
	StoreQueue        int
}

// IngestionService subscribes to location reports, records presence and
// persists every valid report. A single goroutine owns the broker connection;
// appends run on a worker pool.
type IngestionService struct {
	cfg IngestionConfig

	// Dependencies
	dialer  mqtt.Dialer
	store   store.LocationStore
	tracker *presence.Tracker
	logger  zerolog.Logger
	now     func() time.Time

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	pool    *utils.WorkerPool

	received      atomic.Uint64
	stored        atomic.Uint64
	dropped       atomic.Uint64
	storeFailed   atomic.Uint64
	evicted       atomic.Uint64
	lastMessageAt atomic.Int64
}

// NewIngestionService creates an IngestionService. Zero durations and sizes
// in cfg fall back to the package defaults.
func NewIngestionService(cfg IngestionConfig, dialer mqtt.Dialer, locationStore store.LocationStore,
	tracker *presence.Tracker, logger zerolog.Logger) *IngestionService {
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "geotrack-ingestor"
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = 60 * time.Second
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = time.Second
	}
	if cfg.StoreWorkers <= 0 {
		cfg.StoreWorkers = 4
	}
	if cfg.StoreQueue <= 0 {
		cfg.StoreQueue = 256
	}

	return &IngestionService{
		cfg:     cfg,
		dialer:  dialer,
		store:   locationStore,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the clock used for expiry sweeps.
func (s *IngestionService) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the ingestion loop. A failed first connection attempt is
// logged and retried on the reconnect interval.
func (s *IngestionService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("IngestionService is already running")
		return errors.New("ingestion service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = utils.NewWorkerPool(s.cfg.StoreWorkers, s.cfg.StoreQueue)
	s.running = true

	s.wg.Add(1)
	go s.run()

	s.logger.Info().
		Str("endpoint", s.cfg.Endpoint).
		Str("topic", s.cfg.Topic).
		Dur("reconnect_interval", s.cfg.ReconnectInterval).
		Dur("sweep_period", s.cfg.SweepPeriod).
		Dur("expiry_window", s.cfg.ExpiryWindow).
		Msg("IngestionService started")
	return nil
}

// Stop ends the loop, closes the broker connection and waits for queued
// appends to finish or time out.
func (s *IngestionService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Warn().Msg("IngestionService is not running")
		return errors.New("ingestion service is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.pool.Shutdown()

	s.running = false
	s.logger.Info().Msg("IngestionService stopped")
	return nil
}

// ConnectionStatus renders the broker link state for operators.
func (s *IngestionService) ConnectionStatus() string {
	return s.dialer.State().String()
}

// Stats returns the counters accumulated since construction.
func (s *IngestionService) Stats() models.IngestionStats {
	stats := models.IngestionStats{
		Received:    s.received.Load(),
		Stored:      s.stored.Load(),
		Dropped:     s.dropped.Load(),
		StoreFailed: s.storeFailed.Load(),
		Evicted:     s.evicted.Load(),
	}
	if nanos := s.lastMessageAt.Load(); nanos != 0 {
		stats.LastMessageAt = time.Unix(0, nanos).UTC()
	}
	return stats
}

func (s *IngestionService) run() {
	defer s.wg.Done()

	reconnect := time.NewTicker(s.cfg.ReconnectInterval)
	defer reconnect.Stop()
	sweep := time.NewTicker(s.cfg.SweepPeriod)
	defer sweep.Stop()

	conn := s.connect()
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		var messages <-chan mqtt.Message
		var lost <-chan error
		if conn != nil {
			messages = conn.Messages()
			lost = conn.Lost()
		}

		select {
		case <-s.ctx.Done():
			s.logger.Info().Msg("IngestionService is stopping")
			return

		case msg, ok := <-messages:
			if !ok {
				conn = nil
				continue
			}
			s.handleMessage(msg)

		case err := <-lost:
			s.logger.Warn().Err(err).Msg("Lost connection to MQTT broker")
			conn.Close()
			conn = nil

		case <-reconnect.C:
			if conn == nil || s.dialer.State().Retryable() {
				if conn != nil {
					conn.Close()
				}
				conn = s.connect()
			}

		case <-sweep.C:
			s.sweep()
		}
	}
}

// connect dials with a fresh client id and subscribes to the report topic.
func (s *IngestionService) connect() mqtt.Conn {
	clientID := fmt.Sprintf("%s-%s", s.cfg.ClientIDPrefix, uuid.NewString()[:8])

	conn, err := s.dialer.Connect(s.cfg.Endpoint, clientID)
	if err != nil {
		metrics.BrokerConnectAttempts.WithLabelValues("failure").Inc()
		s.logger.Error().Err(err).Str("endpoint", s.cfg.Endpoint).Msg("Failed to connect to MQTT broker")
		return nil
	}
	metrics.BrokerConnectAttempts.WithLabelValues("success").Inc()

	if err := conn.Subscribe(s.cfg.Topic, byte(s.cfg.QOS)); err != nil {
		s.logger.Error().Err(err).Str("topic", s.cfg.Topic).Msg("Failed to subscribe to location topic")
		conn.Close()
		return nil
	}

	return conn
}

// handleMessage decodes one payload, records presence and queues the append.
// Nothing here can stop the loop.
func (s *IngestionService) handleMessage(msg mqtt.Message) {
	arrival := msg.ReceivedAt
	if arrival.IsZero() {
		arrival = s.now()
	}
	s.received.Add(1)
	s.lastMessageAt.Store(arrival.UnixNano())
	metrics.MessagesReceived.Inc()

	report, err := decoder.Decode(msg.Payload, arrival)
	if err != nil {
		s.dropped.Add(1)
		reason := string(decoder.KindMalformed)
		var decodeErr *decoder.DecodeError
		if errors.As(err, &decodeErr) {
			reason = string(decodeErr.Kind)
		}
		metrics.MessagesDropped.WithLabelValues(reason).Inc()
		s.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping undecodable location message")
		return
	}

	s.tracker.Touch(report.DeviceID, arrival)
	metrics.ActiveDevices.Set(float64(s.tracker.ActiveCount()))

	s.enqueueAppend(report)
}

func (s *IngestionService) enqueueAppend(report models.LocationReport) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.EnqueueTimeout)
	defer cancel()

	err := s.pool.Submit(ctx, func() { s.appendReport(report) })
	if err != nil {
		s.storeFailed.Add(1)
		metrics.StoreFailures.WithLabelValues("queue_full").Inc()
		s.logger.Error().Err(err).Str("device_id", report.DeviceID).Msg("Failed to queue location report for storage")
	}
}

// appendReport runs on a pool worker. Writes are not tied to the service
// context so queued reports still get their chance during shutdown.
func (s *IngestionService) appendReport(report models.LocationReport) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	started := time.Now()
	err := s.store.Append(ctx, report)
	metrics.StoreLatency.Observe(time.Since(started).Seconds())

	if err != nil {
		s.storeFailed.Add(1)
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.StoreFailures.WithLabelValues(reason).Inc()
		s.logger.Error().Err(err).Str("device_id", report.DeviceID).Msg("Failed to store location report")
		return
	}

	s.stored.Add(1)
	metrics.ReportsStored.Inc()
	s.logger.Debug().Str("device_id", report.DeviceID).Msg("Location report stored")
}

func (s *IngestionService) sweep() {
	evicted := s.tracker.Sweep(s.now(), s.cfg.ExpiryWindow)
	active := s.tracker.ActiveCount()
	metrics.ActiveDevices.Set(float64(active))

	if evicted > 0 {
		s.evicted.Add(uint64(evicted))
		metrics.PresenceEvictions.Add(float64(evicted))
		s.logger.Info().Int("evicted", evicted).Int("active", active).Msg("Expired inactive devices")
	}
}
