package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expiryWindow = 20 * time.Second

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTracker_TouchInsertsAndRefreshes(t *testing.T) {
	tr := NewTracker()

	tr.Touch("d1", t0)
	tr.Touch("d1", t0.Add(5*time.Second))

	assert.Equal(t, 1, tr.ActiveCount())
	lastSeen, ok := tr.LastSeen("d1")
	require.True(t, ok)
	assert.True(t, lastSeen.Equal(t0.Add(5*time.Second)))
}

func TestTracker_TouchNeverMovesBackwards(t *testing.T) {
	tr := NewTracker()

	tr.Touch("d1", t0.Add(10*time.Second))
	tr.Touch("d1", t0)

	lastSeen, _ := tr.LastSeen("d1")
	assert.True(t, lastSeen.Equal(t0.Add(10*time.Second)))
}

func TestTracker_SweepJustPastWindowEvicts(t *testing.T) {
	tr := NewTracker()
	tr.Touch("d1", t0)

	evicted := tr.Sweep(t0.Add(expiryWindow+time.Millisecond), expiryWindow)

	assert.Equal(t, 1, evicted)
	assert.NotContains(t, tr.ActiveDeviceIDs(), "d1")
}

func TestTracker_SweepJustInsideWindowKeeps(t *testing.T) {
	tr := NewTracker()
	tr.Touch("d1", t0)

	evicted := tr.Sweep(t0.Add(expiryWindow-time.Millisecond), expiryWindow)

	assert.Equal(t, 0, evicted)
	assert.Contains(t, tr.ActiveDeviceIDs(), "d1")
}

func TestTracker_SweepExactlyAtWindowKeeps(t *testing.T) {
	tr := NewTracker()
	tr.Touch("d1", t0)

	tr.Sweep(t0.Add(expiryWindow), expiryWindow)

	assert.Equal(t, 1, tr.ActiveCount())
}

func TestTracker_SweepEvictsIdleDevice(t *testing.T) {
	tr := NewTracker()
	tr.Touch("d2", t0)

	tr.Sweep(t0.Add(25000*time.Millisecond), 20000*time.Millisecond)

	assert.NotContains(t, tr.ActiveDeviceIDs(), "d2")
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestTracker_SweepOnlyEvictsExpired(t *testing.T) {
	tr := NewTracker()
	tr.Touch("stale", t0)
	tr.Touch("fresh", t0.Add(30*time.Second))

	tr.Sweep(t0.Add(40*time.Second), expiryWindow)

	assert.Equal(t, []string{"fresh"}, tr.ActiveDeviceIDs())
}

func TestTracker_SnapshotAndEntries(t *testing.T) {
	tr := NewTracker()
	tr.Touch("b", t0)
	tr.Touch("a", t0.Add(time.Second))

	snap := tr.Snapshot()
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, []string{"a", "b"}, snap.Devices)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].DeviceID)
	assert.True(t, entries[0].LastSeenAt.Equal(t0.Add(time.Second)))
}

func TestTracker_EmptySnapshotHasNoNilDevices(t *testing.T) {
	snap := NewTracker().Snapshot()

	assert.Equal(t, 0, snap.Count)
	assert.NotNil(t, snap.Devices)
}

func TestTracker_ConcurrentTouchAndSweep(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tr.Touch(fmt.Sprintf("dev-%d-%d", w, i%10), t0.Add(time.Hour))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			tr.Sweep(t0.Add(time.Hour+time.Second), expiryWindow)
		}
	}()
	wg.Wait()

	// Every touch is within the window of every sweep, so nothing may be lost.
	assert.Equal(t, 80, tr.ActiveCount())
}
