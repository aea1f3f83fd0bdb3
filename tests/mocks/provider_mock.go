package mocks

import (
	"context"

	"github.com/benmeehan/geotrack/pkg/location"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the location Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetLocation(ctx context.Context) (location.Location, error) {
	args := m.Called(ctx)
	return args.Get(0).(location.Location), args.Error(1)
}
