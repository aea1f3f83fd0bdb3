package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/geotrack/internal/service_registry"
	"github.com/benmeehan/geotrack/internal/utils"
	"github.com/benmeehan/geotrack/pkg/file"
	"github.com/benmeehan/geotrack/pkg/identity"
	"github.com/benmeehan/geotrack/pkg/location"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration from file
	fileClient := file.NewFileService()
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := utils.NewLogger(config.Logging.Level, config.Logging.Format)

	// Resolve the device identity, creating it on first run
	deviceID := config.Publisher.DeviceID
	if deviceID == "" {
		deviceInfo := identity.NewDeviceInfo(config.Publisher.DeviceFile, fileClient)
		deviceID, err = identity.EnsureDeviceID(deviceInfo)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load device information")
		}
	}
	log.Info().Str("device_id", deviceID).Msg("Using device identity")

	provider, err := location.New(location.Options{
		Kind:          config.Publisher.Provider,
		Latitude:      config.Publisher.StaticLatitude,
		Longitude:     config.Publisher.StaticLongitude,
		GPSDevicePort: config.Publisher.GPSDevicePort,
		GPSBaudRate:   config.Publisher.GPSBaudRate,
		MapsAPIKey:    config.Publisher.MapsAPIKey,
		ModemIndex:    config.Publisher.ModemIndex,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create location provider")
	}

	brokerLink := service_registry.NewBrokerLink(config, log)
	serviceRegistry := service_registry.NewServiceRegistry(brokerLink, log)
	serviceRegistry.RegisterPublisherServices(config, deviceID, provider)

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services did not stop cleanly")
	}
	brokerLink.Close()
}
