package observability

import (
	"context"
	"testing"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/middleware"
	"github.com/campusiq/opsgovernor/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "warn", LogFormat: "json"}, "production")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(config.ObservabilityConfig{LogLevel: "debug"}, "development")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger(config.ObservabilityConfig{LogLevel: "loud"}, "production")
	assert.Error(t, err)
}

func TestForRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := middleware.WithRequestID(context.Background(), "req-42")
	ctx = middleware.WithIdentity(ctx, models.Identity{UserID: "fac-7", Role: models.RoleFaculty})

	ForRequest(ctx, base).Info("command received")
	ForRequest(context.Background(), base).Info("anonymous")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "fac-7", fields["actor"])
	assert.Equal(t, "faculty", fields["role"])
	assert.Empty(t, entries[1].ContextMap())
}
