package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockLocker lets tests script lock acquisition failures. When the scripted
// error is nil the callback runs.
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	args := m.Called(key)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}
