package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/geotrack/internal/metrics_collectors"
	"github.com/benmeehan/geotrack/internal/presence"
	"github.com/benmeehan/geotrack/internal/query"
	"github.com/benmeehan/geotrack/internal/registry"
	"github.com/benmeehan/geotrack/internal/services"
	"github.com/benmeehan/geotrack/internal/store"
	"github.com/benmeehan/geotrack/internal/utils"
	"github.com/benmeehan/geotrack/pkg/location"
	"github.com/benmeehan/geotrack/pkg/mqtt"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	dialer      mqtt.Dialer
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(dialer mqtt.Dialer, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		dialer:   dialer,
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Service returns a registered service by name.
func (sr *ServiceRegistry) Service(name string) (registry.Service, bool) {
	svc, ok := sr.services[name]
	return svc, ok
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterIngestorServices registers the ingestion loop followed by the
// HTTP query API, which reads from it.
func (sr *ServiceRegistry) RegisterIngestorServices(config *utils.Config, locationStore store.LocationStore,
	tracker *presence.Tracker, runtime *metrics_collectors.MetricsRegistry) *services.IngestionService {
	ingestion := services.NewIngestionService(
		services.IngestionConfig{
			Endpoint:          mqtt.Endpoint(config.MQTT.Transport, config.MQTT.Host, config.MQTT.Port, config.MQTT.WSPort),
			ClientIDPrefix:    config.MQTT.ClientID,
			Topic:             config.Ingestion.Topic,
			QOS:               config.MQTT.QOS,
			ReconnectInterval: config.Ingestion.ReconnectInterval,
			SweepPeriod:       config.Presence.SweepPeriod,
			ExpiryWindow:      config.Presence.ExpiryWindow,
			WriteTimeout:      config.Store.WriteTimeout,
			EnqueueTimeout:    config.Ingestion.EnqueueTimeout,
			StoreWorkers:      config.Ingestion.StoreWorkers,
			StoreQueue:        config.Ingestion.StoreQueue,
		},
		sr.dialer,
		locationStore,
		tracker,
		sr.Logger.With().Str("service", "ingestion").Logger(),
	)
	sr.RegisterService("ingestion", ingestion)

	surface := query.NewSurface(locationStore, tracker, ingestion, runtime, config.Store.RecentLimit)
	sr.RegisterService("http", services.NewHTTPService(
		config.HTTP.Addr,
		config.HTTP.ShutdownTimeout,
		surface,
		sr.Logger.With().Str("service", "http").Logger(),
	))

	sr.Logger.Info().Msgf("Registered services in order: %v", sr.serviceKeys)
	return ingestion
}

// RegisterPublisherServices registers the position publisher for deviceID.
func (sr *ServiceRegistry) RegisterPublisherServices(config *utils.Config, deviceID string,
	provider location.Provider) *services.PublisherService {
	publisher := services.NewPublisherService(
		services.PublisherConfig{
			Endpoint:          mqtt.Endpoint(config.MQTT.Transport, config.MQTT.Host, config.MQTT.Port, config.MQTT.WSPort),
			ClientIDPrefix:    config.MQTT.ClientID,
			Topic:             config.Publisher.Topic,
			UpdatesTopic:      config.Publisher.UpdatesTopic,
			QOS:               config.MQTT.QOS,
			DeviceID:          deviceID,
			UserID:            config.Publisher.UserID,
			PublishInterval:   config.Publisher.PublishInterval,
			ReconnectInterval: config.Publisher.ReconnectInterval,
			PositionInterval:  config.Publisher.PositionInterval,
		},
		sr.dialer,
		provider,
		sr.Logger.With().Str("service", "publisher").Logger(),
	)
	sr.RegisterService("publisher", publisher)

	sr.Logger.Info().Msgf("Registered services in order: %v", sr.serviceKeys)
	return publisher
}
