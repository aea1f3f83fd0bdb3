// Package presence tracks which devices have been heard from recently.
//
// Presence is driven by message arrival time, never by the timestamp a device
// reports, so a skewed or backdated device clock cannot keep it alive or evict it.
package presence

import (
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/benmeehan/geotrack/internal/models"
)

// Tracker maps device ids to their last arrival time. The map is sharded;
// every touch and every eviction of an entry happens under that entry's shard lock.
type Tracker struct {
	entries cmap.ConcurrentMap[string, time.Time]
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: cmap.New[time.Time]()}
}

// Touch records that deviceID was heard from at now. lastSeenAt never moves backwards.
func (t *Tracker) Touch(deviceID string, now time.Time) {
	t.entries.Upsert(deviceID, now, func(exists bool, current, incoming time.Time) time.Time {
		if exists && current.After(incoming) {
			return current
		}
		return incoming
	})
}

// Sweep evicts every device idle for longer than expiryWindow and returns
// how many were removed.
func (t *Tracker) Sweep(now time.Time, expiryWindow time.Duration) int {
	evicted := 0
	for _, deviceID := range t.entries.Keys() {
		removed := t.entries.RemoveCb(deviceID, func(_ string, lastSeen time.Time, exists bool) bool {
			return exists && now.Sub(lastSeen) > expiryWindow
		})
		if removed {
			evicted++
		}
	}
	return evicted
}

// ActiveCount returns the number of tracked devices.
func (t *Tracker) ActiveCount() int {
	return t.entries.Count()
}

// ActiveDeviceIDs returns the tracked device ids in ascending order.
func (t *Tracker) ActiveDeviceIDs() []string {
	ids := t.entries.Keys()
	sort.Strings(ids)
	return ids
}

// LastSeen returns the last arrival time of deviceID.
func (t *Tracker) LastSeen(deviceID string) (time.Time, bool) {
	return t.entries.Get(deviceID)
}

// Entries returns a snapshot of all entries ordered by device id.
func (t *Tracker) Entries() []models.PresenceEntry {
	items := t.entries.Items()
	entries := make([]models.PresenceEntry, 0, len(items))
	for deviceID, lastSeen := range items {
		entries = append(entries, models.PresenceEntry{DeviceID: deviceID, LastSeenAt: lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DeviceID < entries[j].DeviceID })
	return entries
}

// Snapshot returns the active set in the shape served to API clients.
func (t *Tracker) Snapshot() models.ActiveDevices {
	ids := t.ActiveDeviceIDs()
	return models.ActiveDevices{Count: len(ids), Devices: ids}
}
