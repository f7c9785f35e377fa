package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusiq/opsgovernor/auth"
	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/handlers"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/middleware"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/campusiq/opsgovernor/repositories/memory"
	"github.com/campusiq/opsgovernor/repositories/postgres"
	"github.com/campusiq/opsgovernor/services/audit"
	"github.com/campusiq/opsgovernor/services/executor"
	"github.com/campusiq/opsgovernor/services/governor"
	"github.com/campusiq/opsgovernor/services/ledger"
	"github.com/campusiq/opsgovernor/services/normalizer"
	"github.com/campusiq/opsgovernor/services/permission"
	"github.com/campusiq/opsgovernor/services/providers"
	"github.com/campusiq/opsgovernor/services/providers/openai"
	"github.com/campusiq/opsgovernor/services/ratelimit"
	"github.com/campusiq/opsgovernor/services/risk"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *schema.Registry

	// Store. RepoFactory is nil for the memory driver.
	RepoFactory *postgres.RepositoryFactory
	MemoryDB    *memory.DB
	Repos       *repositories.Repositories
	TxManager   repositories.TransactionManager

	// LLM providers
	Providers *providers.Registry

	// Pipeline
	Normalizer  *normalizer.Normalizer
	Gate        *permission.Gate
	Risk        *risk.Classifier
	Executor    *executor.Executor
	Ledger      *ledger.Ledger
	RateLimiter *ratelimit.RateLimitService
	Notifier    *audit.Notifier
	Governor    *governor.Governor
	Redis       *redis.Client

	// Auth
	Validator      *auth.Validator
	AuthMiddleware *middleware.AuthMiddleware

	// HTTP
	OpsHandler    *handlers.OpsHandler
	HealthHandler *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
// The notifier is built but not started; the caller owns its lifecycle.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: schema.Default(),
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initPipeline(ctx, cfg); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.String("normalizer", deps.extractorName()))
	return deps, nil
}

// initStore opens the record store and ledger backend
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver == config.DriverMemory {
		d.MemoryDB = memory.NewDB(d.Registry, d.Logger)
		d.Repos = d.MemoryDB.Repositories()
		d.TxManager = memory.NewTransactionManager(d.MemoryDB)
		d.Logger.Warn("using in-memory store, data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Registry, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		d.RepoFactory = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
	return nil
}

// initProviders builds the chat completion provider for the configured name.
// Without an API key the normalizer runs on keywords alone.
func (d *Dependencies) initProviders(cfg *config.Config) error {
	builder := providers.NewRegistryBuilder().
		WithProviderBuilder(config.ProviderOpenRouter, openai.Builder).
		WithProviderBuilder(config.ProviderGemini, openai.Builder)

	configs := map[string]providers.ProviderConfig{}
	switch {
	case cfg.LLM.Provider == config.ProviderNone:
		d.Logger.Info("LLM provider disabled")
	case cfg.LLM.APIKey == "":
		d.Logger.Warn("no LLM API key configured, using keyword extractor only",
			zap.String("provider", cfg.LLM.Provider))
	default:
		configs[cfg.LLM.Provider] = providers.ProviderConfig{
			Name:       cfg.LLM.Provider,
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
			RetryDelay: cfg.LLM.RetryDelay,
		}
	}

	registry, err := builder.Build(configs)
	if err != nil {
		return err
	}
	d.Providers = registry
	for _, name := range registry.ListProviders() {
		d.Logger.Info("provider registered", zap.String("provider", name))
	}
	return nil
}

// scopeLimitedRoles converts configured role names
func scopeLimitedRoles(names []string) ([]models.Role, error) {
	roles := make([]models.Role, 0, len(names))
	for _, name := range names {
		role := models.Role(name)
		if !role.Valid() {
			return nil, fmt.Errorf("unknown scope-limited role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// initPipeline wires the governor stages
func (d *Dependencies) initPipeline(ctx context.Context, cfg *config.Config) error {
	g := cfg.Governor

	var primary normalizer.Extractor
	if provider, err := d.Providers.GetProvider(cfg.LLM.Provider); err == nil {
		primary = normalizer.NewLLMExtractor(provider, d.Registry, normalizer.LLMConfig{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, d.Logger)
	}
	chain := normalizer.NewChain(primary, normalizer.NewKeywordExtractor(d.Registry), d.Logger)

	roles, err := scopeLimitedRoles(g.ScopeLimitedRoles)
	if err != nil {
		return err
	}
	d.Normalizer = normalizer.NewNormalizer(chain, d.Registry, normalizer.Config{
		ConfidenceThreshold: g.ConfidenceThreshold,
		ScopeLimitedRoles:   roles,
	}, d.Logger)

	matrix := permission.DefaultMatrix(d.Registry)
	if g.PolicyFile != "" {
		if matrix, err = permission.LoadMatrix(g.PolicyFile, d.Registry); err != nil {
			return err
		}
		d.Logger.Info("permission matrix loaded", zap.String("path", g.PolicyFile))
	}
	d.Gate = permission.NewGate(matrix, d.Registry, d.Logger)

	d.Risk = risk.NewClassifier(d.Repos.Records, d.Registry, risk.Config{
		MediumImpactCount: g.MediumImpactCount,
		HighImpactCount:   g.HighImpactCount,
		StoreTimeout:      g.StoreTimeout,
	}, d.Logger)

	d.Executor = executor.NewExecutor(d.Repos.Records, d.Registry, executor.Config{
		MaxPreviewRows:  g.MaxPreviewRows,
		MaxSnapshotRows: g.MaxSnapshotRows,
		DriftTolerance:  g.DriftTolerance,
		StoreTimeout:    g.StoreTimeout,
	}, d.Logger)

	d.Ledger = ledger.NewLedger(d.Repos.ActionLogs, d.Repos.Records, d.Registry, d.Logger)

	d.RateLimiter = ratelimit.NewRateLimitService(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		IdleTTL:           cfg.RateLimit.IdleTTL,
	}, d.Logger)

	if err := d.initNotifier(ctx, cfg); err != nil {
		return err
	}

	d.Governor = governor.NewGovernor(governor.Components{
		Normalizer: d.Normalizer,
		Gate:       d.Gate,
		Risk:       d.Risk,
		Executor:   d.Executor,
		Ledger:     d.Ledger,
		TxManager:  d.TxManager,
		Limiter:    d.RateLimiter,
		Notifier:   d.Notifier,
	}, governor.Config{ParseTimeout: g.ParseTimeout}, d.Logger)
	return nil
}

// initNotifier always logs recorded entries and publishes them to Redis when configured
func (d *Dependencies) initNotifier(ctx context.Context, cfg *config.Config) error {
	n := cfg.Notifications
	sinks := []audit.Sink{audit.NewLogSink(d.Logger)}
	if n.RedisURL != "" {
		client, err := audit.NewRedisClient(ctx, n.RedisURL, d.Logger)
		if err != nil {
			return err
		}
		d.Redis = client
		sinks = append(sinks, audit.NewRedisSink(client, n.Channel))
	}
	d.Notifier = audit.NewNotifier(d.Logger, audit.Config{
		BufferSize:     n.BufferSize,
		WorkerCount:    n.WorkerCount,
		PublishTimeout: n.PublishTimeout,
	}, sinks...)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	validator, err := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}
	d.Validator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

func (d *Dependencies) initHandlers() {
	d.OpsHandler = handlers.NewOpsHandler(d.Governor, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.SQLDB(), d.Ledger, d.Logger)
}

// SQLDB returns the Postgres pool, or nil for the memory store
func (d *Dependencies) SQLDB() *sql.DB {
	if d.RepoFactory == nil {
		return nil
	}
	return d.RepoFactory.GetDB().DB
}

func (d *Dependencies) extractorName() string {
	if _, err := d.Providers.GetProvider(d.Config.LLM.Provider); err == nil {
		return "llm+keyword"
	}
	return "keyword"
}

func (d *Dependencies) closeStore() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// Close gracefully shuts down all dependencies. The notifier is drained
// before the store closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Notifier != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Notifier.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop notifier: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
