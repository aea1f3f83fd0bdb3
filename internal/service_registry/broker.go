package service_registry

import (
	"github.com/benmeehan/geotrack/internal/metrics"
	"github.com/benmeehan/geotrack/internal/utils"
	"github.com/benmeehan/geotrack/pkg/mqtt"
	"github.com/rs/zerolog"
)

// NewBrokerLink builds the broker link described by config and mirrors its
// state into the broker connection gauge.
func NewBrokerLink(config *utils.Config, logger zerolog.Logger) *mqtt.BrokerLink {
	return mqtt.NewBrokerLink(mqtt.LinkConfig{
		ConnectTimeout: config.MQTT.ConnectTimeout,
		KeepAlive:      config.MQTT.KeepAlive,
		MessageBuffer:  config.MQTT.MessageBuffer,
		CleanSession:   true,
		OnStateChange: func(state mqtt.ConnectionState) {
			if state.Phase == mqtt.PhaseConnected {
				metrics.BrokerConnected.Set(1)
			} else {
				metrics.BrokerConnected.Set(0)
			}
		},
	}, logger.With().Str("component", "mqtt").Logger())
}
