package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRemote is a mock implementation of the Remote interface for testing.
type MockRemote struct {
	mock.Mock
}

// Save is the mock implementation of the Save method.
func (m *MockRemote) Save(ctx context.Context, path string, data any) error {
	args := m.Called(ctx, path, data)
	return args.Error(0) //nolint:wrapcheck
}

// Load is the mock implementation of the Load method.
func (m *MockRemote) Load(ctx context.Context, path string) ([]byte, bool) {
	args := m.Called(ctx, path)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1)
}

// Delete is the mock implementation of the Delete method.
func (m *MockRemote) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0) //nolint:wrapcheck
}

// IsPending is the mock implementation of the IsPending method.
func (m *MockRemote) IsPending(path string) bool {
	args := m.Called(path)
	return args.Bool(0)
}
