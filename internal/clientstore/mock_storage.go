package clientstore

import (
	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of Storage. It does not implement Batcher,
// so ApplyBatch takes the sequential path.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Get(key string) (string, bool, error) {
	args := m.Called(key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStorage) Set(key string, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

func (m *MockStorage) Remove(key string) error {
	args := m.Called(key)
	return args.Error(0)
}
