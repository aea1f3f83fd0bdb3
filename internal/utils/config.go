package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benmeehan/geotrack/internal/constants"
	"github.com/benmeehan/geotrack/pkg/file"
	"github.com/joho/godotenv"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Host           string        `yaml:"host"`            // Broker host
		Port           int           `yaml:"port"`            // Plain TCP port
		WSPort         int           `yaml:"ws_port"`         // WebSocket port
		Transport      string        `yaml:"transport"`       // "tcp" or "ws"
		ClientID       string        `yaml:"client_id"`       // Client ID prefix, a random suffix is appended
		QOS            int           `yaml:"qos"`             // QoS for subscribe and publish
		ConnectTimeout time.Duration `yaml:"connect_timeout"` // Bound on a single handshake
		KeepAlive      time.Duration `yaml:"keep_alive"`      // MQTT keep-alive
		MessageBuffer  int           `yaml:"message_buffer"`  // Inbound message buffer size
	} `yaml:"mqtt"`

	Store struct {
		DSN          string        `yaml:"dsn"`           // postgres://... or a SQLite path
		WriteTimeout time.Duration `yaml:"write_timeout"` // Bound on a single append
		RecentLimit  int           `yaml:"recent_limit"`  // Default size of recency queries
	} `yaml:"store"`

	Presence struct {
		ExpiryWindow time.Duration `yaml:"expiry_window"` // Idle time before a device is inactive
		SweepPeriod  time.Duration `yaml:"sweep_period"`  // Interval between expiry sweeps
	} `yaml:"presence"`

	Ingestion struct {
		Topic             string        `yaml:"topic"`              // Topic carrying location reports
		ReconnectInterval time.Duration `yaml:"reconnect_interval"` // Period of the reconnect check
		StoreWorkers      int           `yaml:"store_workers"`      // Concurrent appends
		StoreQueue        int           `yaml:"store_queue"`        // Pending appends before rejecting
		EnqueueTimeout    time.Duration `yaml:"enqueue_timeout"`    // Wait for queue space before rejecting
	} `yaml:"ingestion"`

	HTTP struct {
		Addr            string        `yaml:"addr"`             // Listen address of the query API
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful shutdown bound
	} `yaml:"http"`

	Publisher struct {
		Topic             string        `yaml:"topic"`              // Topic to publish positions to
		UpdatesTopic      string        `yaml:"updates_topic"`      // Topic subscribed for server pushes
		DeviceFile        string        `yaml:"device_file"`        // Path of the persisted device identity
		DeviceID          string        `yaml:"device_id"`          // Overrides the persisted identity when set
		UserID            string        `yaml:"user_id"`            // Account owning the device
		PublishInterval   time.Duration `yaml:"publish_interval"`   // Fixed publish cadence
		ReconnectInterval time.Duration `yaml:"reconnect_interval"` // Period of the reconnect check
		PositionInterval  time.Duration `yaml:"position_interval"`  // Period of position polling
		Provider          string        `yaml:"provider"`           // static, gps or google
		StaticLatitude    float64       `yaml:"static_lat"`         // Position of the static provider
		StaticLongitude   float64       `yaml:"static_lon"`         // Position of the static provider
		GPSDevicePort     string        `yaml:"gps_device_port"`    // Serial port of the GPS receiver
		GPSBaudRate       int           `yaml:"gps_baud_rate"`      // Baud rate of the GPS receiver
		MapsAPIKey        string        `yaml:"maps_api_key"`       // Google Maps API key
		ModemIndex        int           `yaml:"modem_index"`        // ModemManager index for cell data
	} `yaml:"publisher"`

	Logging struct {
		Level  string `yaml:"level"`  // zerolog level name
		Format string `yaml:"format"` // json or console
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// .env and environment overrides, fills defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	// A missing .env file is fine; variables may come from the environment.
	_ = godotenv.Load()
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyEnv overrides selected fields from GEOTRACK_* environment variables.
func (c *Config) ApplyEnv() error {
	setString(&c.MQTT.Host, "GEOTRACK_MQTT_HOST")
	setString(&c.MQTT.Transport, "GEOTRACK_MQTT_TRANSPORT")
	setString(&c.Store.DSN, "GEOTRACK_STORE_DSN")
	setString(&c.HTTP.Addr, "GEOTRACK_HTTP_ADDR")
	setString(&c.Logging.Level, "GEOTRACK_LOG_LEVEL")
	setString(&c.Publisher.DeviceID, "GEOTRACK_DEVICE_ID")
	setString(&c.Publisher.UserID, "GEOTRACK_USER_ID")

	if err := setInt(&c.MQTT.Port, "GEOTRACK_MQTT_PORT"); err != nil {
		return err
	}
	return setInt(&c.MQTT.WSPort, "GEOTRACK_MQTT_WS_PORT")
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	defaultString(&c.MQTT.Host, "localhost")
	defaultInt(&c.MQTT.Port, 1883)
	defaultInt(&c.MQTT.WSPort, 9001)
	defaultString(&c.MQTT.Transport, "tcp")
	defaultString(&c.MQTT.ClientID, "geotrack")
	defaultDuration(&c.MQTT.ConnectTimeout, constants.DefaultConnectTimeout)
	defaultDuration(&c.MQTT.KeepAlive, 30*time.Second)
	defaultInt(&c.MQTT.MessageBuffer, 256)

	defaultString(&c.Store.DSN, "sqlite://geotrack.db")
	defaultDuration(&c.Store.WriteTimeout, constants.DefaultStoreWriteTimeout)
	defaultInt(&c.Store.RecentLimit, constants.DefaultRecentLimit)

	defaultDuration(&c.Presence.ExpiryWindow, constants.DefaultExpiryWindow)
	defaultDuration(&c.Presence.SweepPeriod, constants.DefaultSweepPeriod)

	defaultString(&c.Ingestion.Topic, constants.TopicDeviceLocation)
	defaultDuration(&c.Ingestion.ReconnectInterval, constants.DefaultReconnectInterval)
	defaultInt(&c.Ingestion.StoreWorkers, 4)
	defaultInt(&c.Ingestion.StoreQueue, 256)
	defaultDuration(&c.Ingestion.EnqueueTimeout, time.Second)

	defaultString(&c.HTTP.Addr, ":3000")
	defaultDuration(&c.HTTP.ShutdownTimeout, 10*time.Second)

	defaultString(&c.Publisher.Topic, constants.TopicDeviceLocation)
	defaultString(&c.Publisher.UpdatesTopic, constants.TopicLocationUpdates)
	defaultString(&c.Publisher.DeviceFile, "data/device.json")
	defaultDuration(&c.Publisher.PublishInterval, constants.DefaultPublishInterval)
	defaultDuration(&c.Publisher.ReconnectInterval, constants.DefaultReconnectInterval)
	defaultDuration(&c.Publisher.PositionInterval, 5*time.Second)
	defaultString(&c.Publisher.Provider, "static")

	defaultString(&c.Logging.Level, "info")
	defaultString(&c.Logging.Format, "json")
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS))
	}
	if c.MQTT.ConnectTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("mqtt.connect_timeout %s exceeds 1m", c.MQTT.ConnectTimeout))
	}
	if c.Presence.ExpiryWindow <= 0 || c.Presence.SweepPeriod <= 0 {
		errs = append(errs, errors.New("presence.expiry_window and presence.sweep_period must be positive"))
	}
	if c.Ingestion.StoreWorkers <= 0 || c.Ingestion.StoreQueue <= 0 {
		errs = append(errs, errors.New("ingestion.store_workers and ingestion.store_queue must be positive"))
	}
	if c.Store.RecentLimit <= 0 || c.Store.RecentLimit > constants.MaxRecentLimit {
		errs = append(errs, fmt.Errorf("store.recent_limit must be between 1 and %d, got %d", constants.MaxRecentLimit, c.Store.RecentLimit))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func defaultString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func defaultInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func defaultDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}
