package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// LLM providers. ProviderNone runs the keyword extractor alone.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderNone       = "none"
)

// DevJWTSecret is the signing secret used when JWT_SECRET is unset outside production
const DevJWTSecret = "opsgovernor-development-secret"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Store         StoreConfig
	Auth          AuthConfig
	LLM           LLMConfig
	Governor      GovernorConfig
	RateLimit     RateLimitConfig
	Notifications NotificationConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// StoreConfig selects the record store and ledger backend
type StoreConfig struct {
	Driver string
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Leeway    time.Duration
	TokenTTL  time.Duration
}

// LLMConfig holds the chat completion provider used by the normalizer
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Temperature float64
	MaxTokens   int
}

// GovernorConfig holds the pipeline thresholds
type GovernorConfig struct {
	ConfidenceThreshold float64
	MediumImpactCount   int64
	HighImpactCount     int64
	MaxPreviewRows      int
	MaxSnapshotRows     int
	DriftTolerance      int64
	ParseTimeout        time.Duration
	StoreTimeout        time.Duration
	ScopeLimitedRoles   []string
	PolicyFile          string
}

// RateLimitConfig holds the per-identity command budget
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
	CleanupInterval   time.Duration
}

// NotificationConfig holds the ActionLog publisher settings. An empty
// RedisURL leaves only the log sink.
type NotificationConfig struct {
	BufferSize     int
	WorkerCount    int
	PublishTimeout time.Duration
	RedisURL       string
	Channel        string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 45*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "opsgovernor"),
			Leeway:    getEnvAsDuration("JWT_LEEWAY", 30*time.Second),
			TokenTTL:  getEnvAsDuration("JWT_TOKEN_TTL", 8*time.Hour),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenRouter)),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "google/gemini-2.0-flash-001"),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 3),
			RetryDelay:  getEnvAsDuration("LLM_RETRY_DELAY", 2*time.Second),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 1024),
		},
		Governor: GovernorConfig{
			ConfidenceThreshold: getEnvAsFloat("GOVERNOR_CONFIDENCE_THRESHOLD", 0.7),
			MediumImpactCount:   int64(getEnvAsInt("GOVERNOR_MEDIUM_IMPACT_COUNT", 10)),
			HighImpactCount:     int64(getEnvAsInt("GOVERNOR_HIGH_IMPACT_COUNT", 50)),
			MaxPreviewRows:      getEnvAsInt("GOVERNOR_MAX_PREVIEW_ROWS", 50),
			MaxSnapshotRows:     getEnvAsInt("GOVERNOR_MAX_SNAPSHOT_ROWS", 500),
			DriftTolerance:      int64(getEnvAsInt("GOVERNOR_DRIFT_TOLERANCE", 0)),
			ParseTimeout:        getEnvAsDuration("GOVERNOR_PARSE_TIMEOUT", 25*time.Second),
			StoreTimeout:        getEnvAsDuration("GOVERNOR_STORE_TIMEOUT", 5*time.Second),
			ScopeLimitedRoles:   getEnvAsList("GOVERNOR_SCOPE_LIMITED_ROLES", []string{"student", "faculty"}),
			PolicyFile:          getEnv("GOVERNOR_POLICY_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 1),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 5),
			IdleTTL:           getEnvAsDuration("RATE_LIMIT_IDLE_TTL", 30*time.Minute),
			CleanupInterval:   getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Notifications: NotificationConfig{
			BufferSize:     getEnvAsInt("NOTIFY_BUFFER_SIZE", 1000),
			WorkerCount:    getEnvAsInt("NOTIFY_WORKERS", 2),
			PublishTimeout: getEnvAsDuration("NOTIFY_PUBLISH_TIMEOUT", 5*time.Second),
			RedisURL:       getEnv("REDIS_URL", ""),
			Channel:        getEnv("NOTIFY_CHANNEL", "opsgovernor.actions"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Auth.JWTSecret == "" && !cfg.IsProduction() {
		cfg.Auth.JWTSecret = DevJWTSecret
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.IsProduction() && (c.Auth.JWTSecret == DevJWTSecret || len(c.Auth.JWTSecret) < 32) {
		return fmt.Errorf("JWT secret must be at least 32 characters in production")
	}

	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderGemini:
		if c.LLM.APIKey == "" && c.IsProduction() {
			return fmt.Errorf("LLM API key is required for provider %s in production", c.LLM.Provider)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLM.Provider)
	}

	g := c.Governor
	if g.ConfidenceThreshold <= 0 || g.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1]")
	}
	if g.MediumImpactCount < 1 || g.HighImpactCount <= g.MediumImpactCount {
		return fmt.Errorf("risk thresholds must satisfy 1 <= medium < high")
	}
	if g.MaxPreviewRows < 1 || g.MaxSnapshotRows < 1 {
		return fmt.Errorf("preview and snapshot row limits must be positive")
	}
	if g.DriftTolerance < 0 {
		return fmt.Errorf("drift tolerance cannot be negative")
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit requires a positive rate and burst")
	}
	if c.Notifications.WorkerCount < 1 || c.Notifications.BufferSize < 1 {
		return fmt.Errorf("notification workers and buffer must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return pool
	}
	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "campus")
	pool.Password = getEnv("DB_PASSWORD", "campus_password")
	pool.Database = getEnv("DB_NAME", "campusiq")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
