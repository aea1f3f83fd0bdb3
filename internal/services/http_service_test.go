package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benmeehan/geotrack/internal/models"
	"github.com/benmeehan/geotrack/internal/presence"
	"github.com/benmeehan/geotrack/internal/query"
	"github.com/benmeehan/geotrack/internal/services"
	"github.com/benmeehan/geotrack/internal/store"
	"github.com/benmeehan/geotrack/tests/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubIngestion struct{}

func (stubIngestion) ConnectionStatus() string { return "Connected" }
func (stubIngestion) Stats() models.IngestionStats {
	return models.IngestionStats{Received: 5, Stored: 4, Dropped: 1}
}

func seededStore(t *testing.T, n int) store.LocationStore {
	t.Helper()
	s := newMemoryStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Append(context.Background(), models.LocationReport{
			DeviceID:  "dev-1",
			Latitude:  float64(i) / 10,
			Longitude: 14.5,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	return s
}

func newTestHTTP(locationStore store.LocationStore, tracker *presence.Tracker) http.Handler {
	surface := query.NewSurface(locationStore, tracker, stubIngestion{}, nil, 0)
	return services.NewHTTPService(":0", time.Second, surface, zerolog.Nop()).Handler()
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHTTP_LocationsNewestFirstDefaultLimit(t *testing.T) {
	handler := newTestHTTP(seededStore(t, 120), presence.NewTracker())

	rec := get(t, handler, "/api/locations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var reports []models.LocationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 100)
	assert.Equal(t, 11.9, reports[0].Latitude)
	for i := 1; i < len(reports); i++ {
		assert.False(t, reports[i].Timestamp.After(reports[i-1].Timestamp))
	}
}

func TestHTTP_LocationsLimit(t *testing.T) {
	handler := newTestHTTP(seededStore(t, 10), presence.NewTracker())

	rec := get(t, handler, "/api/locations?limit=3")
	require.Equal(t, http.StatusOK, rec.Code)

	var reports []models.LocationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	assert.Len(t, reports, 3)
}

func TestHTTP_LocationsEmptyStoreReturnsArray(t *testing.T) {
	handler := newTestHTTP(newMemoryStore(t), presence.NewTracker())

	rec := get(t, handler, "/api/locations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHTTP_LocationsBadLimit(t *testing.T) {
	handler := newTestHTTP(newMemoryStore(t), presence.NewTracker())

	for _, target := range []string{"/api/locations?limit=abc", "/api/locations?limit=0", "/api/locations?limit=101", "/api/locations?limit=-4"} {
		rec := get(t, handler, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"], target)
	}
}

func TestHTTP_LocationsStoreFailure(t *testing.T) {
	locationStore := new(mocks.MockLocationStore)
	locationStore.On("Recent", mock.Anything, 100).Return(nil, &store.StoreError{Op: "recent", Err: errors.New("db down")})
	handler := newTestHTTP(locationStore, presence.NewTracker())

	rec := get(t, handler, "/api/locations")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to load locations"}`, rec.Body.String())
}

func TestHTTP_ActiveDevices(t *testing.T) {
	tracker := presence.NewTracker()
	now := time.Now()
	tracker.Touch("beta", now)
	tracker.Touch("alpha", now)
	handler := newTestHTTP(newMemoryStore(t), tracker)

	rec := get(t, handler, "/api/active-devices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2,"devices":["alpha","beta"]}`, rec.Body.String())
}

func TestHTTP_ActiveDevicesEmpty(t *testing.T) {
	handler := newTestHTTP(newMemoryStore(t), presence.NewTracker())

	rec := get(t, handler, "/api/active-devices")
	assert.JSONEq(t, `{"count":0,"devices":[]}`, rec.Body.String())
}

func TestHTTP_Status(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.Touch("dev-1", time.Now())
	handler := newTestHTTP(newMemoryStore(t), tracker)

	rec := get(t, handler, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.ServiceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Connected", status.Connection)
	assert.Equal(t, 1, status.ActiveDevices)
	assert.Equal(t, uint64(4), status.Stats.Stored)
}

func TestHTTP_PreflightAndHealth(t *testing.T) {
	handler := newTestHTTP(newMemoryStore(t), presence.NewTracker())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/locations", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, handler, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geotrack_messages_received_total")
}

func TestHTTPService_StartServeStop(t *testing.T) {
	surface := query.NewSurface(newMemoryStore(t), presence.NewTracker(), stubIngestion{}, nil, 0)
	svc := services.NewHTTPService("127.0.0.1:0", time.Second, surface, zerolog.Nop())

	require.NoError(t, svc.Start())
	assert.EqualError(t, svc.Start(), "http service is already running")

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, svc.Stop())
	assert.EqualError(t, svc.Stop(), "http service is not running")
}
