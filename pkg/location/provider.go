package location

import (
	"context"
	"fmt"
)

// Provider interface defines the methods for location providers
type Provider interface {
	GetLocation(ctx context.Context) (Location, error)
}

// StaticProvider always reports the same fixed position.
type StaticProvider struct {
	position Location
}

// NewStaticProvider creates a provider for a fixed coordinate pair.
func NewStaticProvider(latitude, longitude float64) *StaticProvider {
	return &StaticProvider{position: Location{Latitude: latitude, Longitude: longitude}}
}

// GetLocation returns the configured position.
func (s *StaticProvider) GetLocation(ctx context.Context) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	return s.position, nil
}

// Provider kinds accepted by New.
const (
	KindStatic = "static"
	KindGPS    = "gps"
	KindGoogle = "google"
)

// Options carries the settings of every provider kind.
type Options struct {
	Kind          string
	Latitude      float64
	Longitude     float64
	GPSDevicePort string
	GPSBaudRate   int
	MapsAPIKey    string
	ModemIndex    int
}

// New builds the provider selected by opts.Kind.
func New(opts Options) (Provider, error) {
	switch opts.Kind {
	case KindStatic, "":
		return NewStaticProvider(opts.Latitude, opts.Longitude), nil
	case KindGPS:
		if opts.GPSDevicePort == "" {
			return nil, fmt.Errorf("gps provider requires a device port")
		}
		return NewDeviceSensorProvider(opts.GPSDevicePort, opts.GPSBaudRate), nil
	case KindGoogle:
		return NewGoogleGeolocationProvider(opts.MapsAPIKey, opts.ModemIndex)
	default:
		return nil, fmt.Errorf("unknown location provider %q", opts.Kind)
	}
}
