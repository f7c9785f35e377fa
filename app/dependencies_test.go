package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Auth:  config.AuthConfig{JWTSecret: config.DevJWTSecret, Issuer: "opsgovernor", TokenTTL: time.Hour},
		LLM:   config.LLMConfig{Provider: config.ProviderNone, Model: "google/gemini-2.0-flash-001"},
		Governor: config.GovernorConfig{
			ConfidenceThreshold: 0.7,
			MediumImpactCount:   10,
			HighImpactCount:     50,
			MaxPreviewRows:      50,
			MaxSnapshotRows:     500,
			ParseTimeout:        5 * time.Second,
			StoreTimeout:        time.Second,
			ScopeLimitedRoles:   []string{"student", "faculty"},
		},
		RateLimit:     config.RateLimitConfig{RequestsPerSecond: 10, Burst: 10, IdleTTL: time.Minute},
		Notifications: config.NotificationConfig{BufferSize: 10, WorkerCount: 1, PublishTimeout: time.Second},
		Observability: config.ObservabilityConfig{LogLevel: "debug"},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("memory store wiring", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, memoryConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.NotNil(t, deps.MemoryDB)
		assert.Nil(t, deps.RepoFactory)
		assert.Nil(t, deps.SQLDB())
		assert.NotNil(t, deps.TxManager)
		assert.NotNil(t, deps.Governor)
		assert.NotNil(t, deps.OpsHandler)
		assert.NotNil(t, deps.HealthHandler)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.Nil(t, deps.Redis)
		assert.Empty(t, deps.Providers.ListProviders())
		assert.Equal(t, "keyword", deps.extractorName())

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("registers the configured LLM provider", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.LLM.Provider = config.ProviderGemini
		cfg.LLM.APIKey = "test-key"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		assert.Equal(t, []string{"gemini"}, deps.Providers.ListProviders())
		assert.Equal(t, "llm+keyword", deps.extractorName())
	})

	t.Run("missing API key falls back to keywords", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.LLM.Provider = config.ProviderOpenRouter

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		assert.Equal(t, "keyword", deps.extractorName())
	})

	t.Run("loads the policy file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
roles:
  student:
    READ:
      "*": DENY
`), 0o600))
		cfg := memoryConfig()
		cfg.Governor.PolicyFile = path

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		dept := int64(1)
		plan := models.NewPlan("show courses", "", models.Identity{UserID: "stu-1", Role: models.RoleStudent, DepartmentID: &dept})
		plan.Entity = "course"
		plan.Operation = models.OpRead
		assert.False(t, deps.Gate.Authorize(plan).Allowed())
	})

	errorCases := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"missing policy file", func(c *config.Config) {
			c.Governor.PolicyFile = "/nonexistent/policy.yaml"
		}, "failed to initialize pipeline"},
		{"unknown scope-limited role", func(c *config.Config) {
			c.Governor.ScopeLimitedRoles = []string{"dean"}
		}, "unknown scope-limited role"},
		{"malformed redis url", func(c *config.Config) {
			c.Notifications.RedisURL = "not-a-redis-url"
		}, "parse redis url"},
		{"missing JWT secret", func(c *config.Config) {
			c.Auth.JWTSecret = ""
		}, "failed to initialize auth"},
		{"unreachable postgres", func(c *config.Config) {
			c.Store.Driver = config.DriverPostgres
			c.Database = config.DatabaseConfig{
				Host: "127.0.0.1", Port: 1, User: "campus", Database: "campusiq", SSLMode: "disable",
				MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Minute,
			}
		}, "failed to initialize store"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)

			deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
			require.Error(t, err)
			assert.Nil(t, deps)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, deps.Notifier.Start())

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, deps.Close(closeCtx))

	// a stopped notifier is not an error on the second close
	assert.NoError(t, deps.Close(ctx))
}
