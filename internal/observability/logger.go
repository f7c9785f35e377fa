package observability

import (
	"context"
	"fmt"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON production logger, or a console logger in
// development or when LOG_FORMAT=console.
func NewLogger(cfg config.ObservabilityConfig, environment string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" || environment == "development" || environment == "dev" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(zap.String("environment", environment)), nil
}

// ForRequest returns logger annotated with the request id and, once
// authenticated, the caller.
func ForRequest(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if id := middleware.GetRequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if identity, ok := middleware.GetIdentityFromContext(ctx); ok {
		fields = append(fields,
			zap.String("actor", identity.UserID),
			zap.String("role", string(identity.Role)))
	}
	return logger.With(fields...)
}
