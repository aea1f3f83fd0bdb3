package mocks

import (
	"context"

	"github.com/benmeehan/geotrack/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockLocationStore is a mock implementation of the LocationStore interface
type MockLocationStore struct {
	mock.Mock
}

func (m *MockLocationStore) Append(ctx context.Context, report models.LocationReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockLocationStore) Recent(ctx context.Context, limit int) ([]models.LocationReport, error) {
	args := m.Called(ctx, limit)
	reports, _ := args.Get(0).([]models.LocationReport)
	return reports, args.Error(1)
}

func (m *MockLocationStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
