package mocks

import (
	"sync"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// NoopLogger discards everything
type NoopLogger struct{}

func (NoopLogger) Info(string, ...ports.Field)  {}
func (NoopLogger) Error(string, ...ports.Field) {}
func (NoopLogger) Warn(string, ...ports.Field)  {}
func (NoopLogger) Debug(string, ...ports.Field) {}

// MockLogger captures log calls for assertions. Safe for concurrent use.
type MockLogger struct {
	mu         sync.Mutex
	InfoCalls  []LogCall
	ErrorCalls []LogCall
	WarnCalls  []LogCall
	DebugCalls []LogCall
}

// LogCall represents a captured log call
type LogCall struct {
	Message string
	Fields  []ports.Field
}

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Info(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = append(m.InfoCalls, LogCall{Message: msg, Fields: fields})
}

func (m *MockLogger) Error(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalls = append(m.ErrorCalls, LogCall{Message: msg, Fields: fields})
}

func (m *MockLogger) Warn(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarnCalls = append(m.WarnCalls, LogCall{Message: msg, Fields: fields})
}

func (m *MockLogger) Debug(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DebugCalls = append(m.DebugCalls, LogCall{Message: msg, Fields: fields})
}

// HasError reports whether an error with msg was logged
func (m *MockLogger) HasError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.ErrorCalls {
		if c.Message == msg {
			return true
		}
	}
	return false
}

// HasWarn reports whether a warning with msg was logged
func (m *MockLogger) HasWarn(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.WarnCalls {
		if c.Message == msg {
			return true
		}
	}
	return false
}

// Reset clears all captured calls
func (m *MockLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = nil
	m.ErrorCalls = nil
	m.WarnCalls = nil
	m.DebugCalls = nil
}
