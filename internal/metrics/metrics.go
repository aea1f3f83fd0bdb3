package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MessagesReceived counts every inbound broker message.
	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geotrack_messages_received_total",
			Help: "Total number of messages received from the broker.",
		},
	)

	// MessagesDropped counts messages rejected by the decoder, by failure kind.
	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_messages_dropped_total",
			Help: "Total number of messages dropped because they could not be decoded.",
		},
		[]string{"reason"},
	)

	// ReportsStored counts successful appends.
	ReportsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geotrack_reports_stored_total",
			Help: "Total number of location reports persisted.",
		},
	)

	// StoreFailures counts appends that failed, timed out or could not be queued.
	StoreFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_store_failures_total",
			Help: "Total number of location reports that could not be persisted.",
		},
		[]string{"reason"},
	)

	// StoreLatency observes append duration.
	StoreLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geotrack_store_append_seconds",
			Help:    "Latency of location store appends.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ActiveDevices is the presence set size after the latest touch or sweep.
	ActiveDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geotrack_active_devices",
			Help: "Number of devices heard from within the expiry window.",
		},
	)

	// PresenceEvictions counts devices removed by the expiry sweep.
	PresenceEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geotrack_presence_evictions_total",
			Help: "Total number of devices evicted from the presence set.",
		},
	)

	// BrokerConnected is 1 while the broker link is connected.
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geotrack_broker_connected",
			Help: "Broker connection status (1=connected, 0=not connected).",
		},
	)

	// BrokerConnectAttempts counts handshakes by outcome.
	BrokerConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_broker_connect_attempts_total",
			Help: "Total number of broker connection attempts.",
		},
		[]string{"result"},
	)

	// PublishedReports counts positions sent by the publisher.
	PublishedReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_publisher_reports_total",
			Help: "Total number of position publishes attempted by the publisher.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesReceived,
		MessagesDropped,
		ReportsStored,
		StoreFailures,
		StoreLatency,
		ActiveDevices,
		PresenceEvictions,
		BrokerConnected,
		BrokerConnectAttempts,
		PublishedReports,
	)
}
