package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/geotrack/internal/decoder"
	"github.com/benmeehan/geotrack/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(device string, ts time.Time) models.LocationReport {
	return models.LocationReport{DeviceID: device, Latitude: 46.05, Longitude: 14.5, Timestamp: ts}
}

func TestSQLiteStore_AppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := "u1"
	want := models.LocationReport{
		DeviceID:  "d1",
		Latitude:  46.05,
		Longitude: 14.50,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		User:      &user,
	}

	require.NoError(t, s.Append(ctx, want))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.DeviceID, got[0].DeviceID)
	assert.Equal(t, want.Latitude, got[0].Latitude)
	assert.Equal(t, want.Longitude, got[0].Longitude)
	assert.True(t, want.Timestamp.Equal(got[0].Timestamp))
	require.NotNil(t, got[0].User)
	assert.Equal(t, "u1", *got[0].User)
}

func TestSQLiteStore_RecentEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Recent(context.Background(), 10)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLiteStore_RecentOrdersByTimestampNotInsertion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, report("mid", base.Add(time.Minute))))
	require.NoError(t, s.Append(ctx, report("new", base.Add(2*time.Minute))))
	require.NoError(t, s.Append(ctx, report("old", base)))

	got, err := s.Recent(ctx, 10)

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{got[0].DeviceID, got[1].DeviceID, got[2].DeviceID})
}

func TestSQLiteStore_TimestampsOutsideNanosecondRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	far := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, report("old", old)))
	require.NoError(t, s.Append(ctx, report("now", now)))
	require.NoError(t, s.Append(ctx, report("far", far)))

	got, err := s.Recent(ctx, 10)

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"far", "now", "old"}, []string{got[0].DeviceID, got[1].DeviceID, got[2].DeviceID})
	assert.True(t, far.Equal(got[0].Timestamp), "got %s", got[0].Timestamp)
	assert.True(t, old.Equal(got[2].Timestamp), "got %s", got[2].Timestamp)
}

func TestSQLiteStore_DecodedTimestampsStoredVerbatim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	receivedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, ts := range []string{"1500-01-01T00:00:00Z", "2024-01-01T00:00:00.5Z", "2300-01-01T00:00:00Z"} {
		payload := []byte(`{"deviceId":"` + ts + `","latitude":1,"longitude":2,"timestamp":"` + ts + `"}`)
		decoded, err := decoder.Decode(payload, receivedAt)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, decoded))
	}

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, r := range got {
		want, err := time.Parse(time.RFC3339Nano, r.DeviceID)
		require.NoError(t, err)
		assert.True(t, want.Equal(r.Timestamp), "stored %s as %s", r.DeviceID, r.Timestamp)
	}
	assert.Equal(t, "2300-01-01T00:00:00Z", got[0].DeviceID)
	assert.Equal(t, "1500-01-01T00:00:00Z", got[2].DeviceID)
}

func TestSQLiteStore_KeepsMilliseconds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 987000000, time.UTC)

	require.NoError(t, s.Append(ctx, report("d", ts)))

	got, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, ts.Equal(got[0].Timestamp))
}

func TestSQLiteStore_RecentTiesNewestInsertFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, report("first", ts)))
	require.NoError(t, s.Append(ctx, report("second", ts)))

	got, err := s.Recent(ctx, 10)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].DeviceID)
	assert.Equal(t, "first", got[1].DeviceID)
}

func TestSQLiteStore_RecentRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 150; i++ {
		require.NoError(t, s.Append(ctx, report("d", base.Add(time.Duration(i*7%150)*time.Second))))
	}

	got, err := s.Recent(ctx, 25)
	require.NoError(t, err)
	assert.Len(t, got, 25)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].Timestamp.After(got[j].Timestamp)
	}))

	got, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestSQLiteStore_ConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, report("d", base.Add(time.Duration(i)*time.Second))))
		}(i)
	}
	wg.Wait()

	got, err := s.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.True(t, got[0].Timestamp.Equal(base.Add(19*time.Second)))
}

func TestSQLiteStore_AppendAfterCloseIsStoreError(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), report("d", time.Now()))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "append", storeErr.Op)
}

func TestOpen_SelectsSQLite(t *testing.T) {
	s, err := Open(context.Background(), "sqlite://:memory:", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &SQLiteStore{}, s)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "", zerolog.Nop())

	assert.True(t, errors.Is(err, ErrStore))
}
