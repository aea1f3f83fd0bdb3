package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/geotrack/internal/metrics_collectors"
	"github.com/benmeehan/geotrack/internal/presence"
	"github.com/benmeehan/geotrack/internal/service_registry"
	"github.com/benmeehan/geotrack/internal/store"
	"github.com/benmeehan/geotrack/internal/utils"
	"github.com/benmeehan/geotrack/pkg/file"
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

	// Open the location store
	locationStore, err := store.Open(context.Background(), config.Store.DSN, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open location store")
	}
	defer func() {
		if err := locationStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close location store")
		}
	}()

	brokerLink := service_registry.NewBrokerLink(config, log)
	tracker := presence.NewTracker()
	runtime := metrics_collectors.NewDefaultRegistry(log.With().Str("component", "runtime").Logger())

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(brokerLink, log)
	serviceRegistry.RegisterIngestorServices(config, locationStore, tracker, runtime)

	if err := serviceRegistry.StartServices(); err != nil {
		log.Error().Err(err).Msg("Failed to start services")
		return
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
