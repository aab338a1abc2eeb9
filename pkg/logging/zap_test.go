package logging

import (
	"errors"
	"testing"

	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Info("batch created",
		ports.String("company_id", "co-1"),
		ports.Int64("principal_cents", 28815),
		ports.Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "batch created", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "co-1", fields["company_id"])
	assert.Equal(t, int64(28815), fields["principal_cents"])
	assert.Equal(t, "boom", fields["error"])
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("development", "loud")
	assert.Error(t, err)

	logger, err := New("production", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
}
