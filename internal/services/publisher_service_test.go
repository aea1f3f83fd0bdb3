package services_test

import (
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/geotrack/internal/decoder"
	"github.com/benmeehan/geotrack/internal/services"
	"github.com/benmeehan/geotrack/pkg/location"
	"github.com/benmeehan/geotrack/pkg/mqtt"
	"github.com/benmeehan/geotrack/tests/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(dialer mqtt.Dialer, provider location.Provider, deviceID string, reconnect time.Duration) *services.PublisherService {
	return services.NewPublisherService(
		services.PublisherConfig{
			Endpoint:          "ws://broker:9001/mqtt",
			DeviceID:          deviceID,
			UserID:            "user-7",
			PublishInterval:   time.Hour,
			ReconnectInterval: reconnect,
			PositionInterval:  10 * time.Millisecond,
		},
		dialer,
		provider,
		zerolog.Nop(),
	)
}

func fixedProvider() *mocks.MockProvider {
	provider := new(mocks.MockProvider)
	provider.On("GetLocation", mock.Anything).Return(location.Location{Latitude: 46.05, Longitude: 14.5}, nil)
	return provider
}

func TestPublisherService_ConnectsSubscribesAndPublishes(t *testing.T) {
	conn := mocks.NewFakeConn()
	dialer := new(mocks.MockDialer)
	dialer.On("Connect", "ws://broker:9001/mqtt", mock.Anything).Return(conn, nil)

	p := newTestPublisher(dialer, fixedProvider(), "dev-42", time.Hour)
	assert.Equal(t, "idle", p.State())
	assert.Equal(t, "Disconnected", p.Status())

	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool { return len(conn.Published()) >= 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "connected", p.State())
	assert.Equal(t, "Connected", p.Status())
	assert.Equal(t, []string{"location/updates"}, conn.Subscribed())

	published := conn.Published()[0]
	assert.Equal(t, "device/location", published.Topic)

	report, err := decoder.Decode(published.Payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "dev-42", report.DeviceID)
	assert.Equal(t, 46.05, report.Latitude)
	assert.Equal(t, 14.5, report.Longitude)
	require.NotNil(t, report.User)
	assert.Equal(t, "user-7", *report.User)
	assert.WithinDuration(t, time.Now(), report.Timestamp, 5*time.Second)
}

func TestPublisherService_HandshakeFailureReportsReason(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("Connect", mock.Anything, mock.Anything).
		Return(nil, &mqtt.ConnectError{Reason: "connection refused", Err: errors.New("dial tcp: connection refused")})

	p := newTestPublisher(dialer, fixedProvider(), "dev-42", time.Hour)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool { return p.State() == "disconnected" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Connection failed: connection refused", p.Status())
	dialer.AssertNumberOfCalls(t, "Connect", 1)
}

func TestPublisherService_RetriesWhileDisconnected(t *testing.T) {
	conn := mocks.NewFakeConn()
	dialer := new(mocks.MockDialer)
	dialer.On("Connect", mock.Anything, mock.Anything).
		Return(nil, errors.New("network unreachable")).Once()
	dialer.On("Connect", mock.Anything, mock.Anything).Return(conn, nil)

	p := newTestPublisher(dialer, fixedProvider(), "dev-42", 20*time.Millisecond)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool { return p.State() == "connected" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Connected", p.Status())
}

func TestPublisherService_LossThenReconnectWithFreshClientID(t *testing.T) {
	first := mocks.NewFakeConn()
	second := mocks.NewFakeConn()
	dialer := new(mocks.MockDialer)
	dialer.On("Connect", mock.Anything, mock.Anything).Return(first, nil).Once()
	dialer.On("Connect", mock.Anything, mock.Anything).Return(second, nil)

	p := newTestPublisher(dialer, fixedProvider(), "dev-42", 30*time.Millisecond)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool { return p.State() == "connected" }, time.Second, 5*time.Millisecond)
	first.Drop(errors.New("EOF"))

	require.Eventually(t, func() bool { return len(second.Published()) >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	assert.True(t, first.Closed())
	assert.True(t, second.Closed())

	require.GreaterOrEqual(t, len(dialer.Calls), 2)
	firstID := dialer.Calls[0].Arguments.String(1)
	secondID := dialer.Calls[1].Arguments.String(1)
	assert.Regexp(t, `^geotrack-[0-9a-f]{8}$`, firstID)
	assert.Regexp(t, `^geotrack-[0-9a-f]{8}$`, secondID)
	assert.NotEqual(t, firstID, secondID)
}

func TestPublisherService_LossSetsDisconnectedStatus(t *testing.T) {
	conn := mocks.NewFakeConn()
	dialer := new(mocks.MockDialer)
	dialer.On("Connect", mock.Anything, mock.Anything).Return(conn, nil)

	p := newTestPublisher(dialer, fixedProvider(), "dev-42", time.Hour)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool { return p.State() == "connected" }, time.Second, 5*time.Millisecond)
	conn.Drop(errors.New("keepalive timeout"))

	require.Eventually(t, func() bool { return p.State() == "disconnected" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Disconnected: keepalive timeout", p.Status())
}

func TestPublisherService_StaysIdleWithoutDeviceID(t *testing.T) {
	dialer := new(mocks.MockDialer)
	provider := fixedProvider()

	p := newTestPublisher(dialer, provider, "", 10*time.Millisecond)
	require.NoError(t, p.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Equal(t, "idle", p.State())
	dialer.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
	provider.AssertCalled(t, "GetLocation", mock.Anything)
}

func TestPublisherService_StaysIdleWithoutPosition(t *testing.T) {
	dialer := new(mocks.MockDialer)
	provider := new(mocks.MockProvider)
	provider.On("GetLocation", mock.Anything).Return(location.Location{}, errors.New("no fix"))

	p := newTestPublisher(dialer, provider, "dev-42", 10*time.Millisecond)
	require.NoError(t, p.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Equal(t, "idle", p.State())
	dialer.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestPublisherService_PublishesOnInterval(t *testing.T) {
	conn := mocks.NewFakeConn()
	dialer := new(mocks.MockDialer)
	dialer.On("Connect", mock.Anything, mock.Anything).Return(conn, nil)

	p := services.NewPublisherService(
		services.PublisherConfig{
			Endpoint:         "tcp://broker:1883",
			DeviceID:         "dev-42",
			PublishInterval:  10 * time.Millisecond,
			PositionInterval: time.Hour,
		},
		dialer,
		fixedProvider(),
		zerolog.Nop(),
	)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool { return len(conn.Published()) >= 3 }, time.Second, 5*time.Millisecond)

	report, err := decoder.Decode(conn.Published()[0].Payload, time.Now())
	require.NoError(t, err)
	assert.Nil(t, report.User)
}

func TestPublisherService_StartStop(t *testing.T) {
	p := newTestPublisher(new(mocks.MockDialer), fixedProvider(), "", time.Hour)

	require.NoError(t, p.Start())
	assert.EqualError(t, p.Start(), "publisher service is already running")

	require.NoError(t, p.Stop())
	assert.EqualError(t, p.Stop(), "publisher service is not running")
}
