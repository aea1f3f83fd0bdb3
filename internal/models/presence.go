package models

import "time"

// PresenceEntry records when a device was last heard from.
type PresenceEntry struct {
	DeviceID   string    `json:"deviceId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// ActiveDevices is the response body of the active devices query.
type ActiveDevices struct {
	Count   int      `json:"count"`
	Devices []string `json:"devices"`
}
