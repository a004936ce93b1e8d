package mocks

import (
	"context"

	"github.com/dukex/montracker/pkg/calcserver"
	"github.com/stretchr/testify/mock"
)

// MockRemoteService is a mock of the calculation service client.
type MockRemoteService struct {
	mock.Mock
}

func (m *MockRemoteService) SubmitSimple(ctx context.Context, batch calcserver.SimpleBatch) (map[string]string, error) {
	args := m.Called(ctx, batch)

	ids, _ := args.Get(0).(map[string]string)

	return ids, args.Error(1)
}

func (m *MockRemoteService) SubmitComplex(ctx context.Context, batch calcserver.ComplexBatch) (map[string]string, error) {
	args := m.Called(ctx, batch)

	ids, _ := args.Get(0).(map[string]string)

	return ids, args.Error(1)
}

func (m *MockRemoteService) Status(ctx context.Context, remoteID string) (*calcserver.Result, error) {
	args := m.Called(ctx, remoteID)

	result, _ := args.Get(0).(*calcserver.Result)

	return result, args.Error(1)
}

func (m *MockRemoteService) Cancel(ctx context.Context, remoteID string) error {
	args := m.Called(ctx, remoteID)

	return args.Error(0)
}
