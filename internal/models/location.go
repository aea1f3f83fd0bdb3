package models

import (
	"time"
)

// LocationReport is one position reported by a device. It is never mutated once stored.
type LocationReport struct {
	DeviceID  string    `json:"deviceId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	User      *string   `json:"user"`
}
