package models

import "time"

// IngestionStats counts what happened to inbound messages since start.
type IngestionStats struct {
	Received      uint64    `json:"received"`
	Stored        uint64    `json:"stored"`
	Dropped       uint64    `json:"dropped"`
	StoreFailed   uint64    `json:"storeFailed"`
	Evicted       uint64    `json:"evicted"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
}

// ServiceStatus is the snapshot served by the status endpoint.
type ServiceStatus struct {
	Connection    string             `json:"connection"`
	ActiveDevices int                `json:"activeDevices"`
	Stats         IngestionStats     `json:"stats"`
	Runtime       map[string]float64 `json:"runtime,omitempty"`
}
