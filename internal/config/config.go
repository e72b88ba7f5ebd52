package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Broker
	Broker BrokerConfig

	// Services
	Worker WorkerConfig
	API    APIConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// BrokerConfig holds brokerage API configuration
type BrokerConfig struct {
	APIKey      string
	AccessToken string
	BaseURL     string
	WSURL       string
	Timeout     time.Duration
}

// WorkerConfig holds trading worker configuration
type WorkerConfig struct {
	HealthCheckPort    int
	RefreshInterval    time.Duration
	TickBufferSize     int
	FeedReconnectDelay time.Duration
	FeedMaxReconnect   time.Duration
	// Audit persister write queue
	AuditBatchSize  int
	AuditInterval   time.Duration
	AuditQueueSize  int
	AuditMaxRetries int
	AuditRetryDelay time.Duration
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port            int
	HealthCheckPort int
	JWTSecret       string
	JWTExpiry       time.Duration
	RateLimitRPS    int
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "squareoff"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Broker: BrokerConfig{
			APIKey:      getEnv("BROKER_API_KEY", ""),
			AccessToken: getEnv("BROKER_ACCESS_TOKEN", ""),
			BaseURL:     getEnv("BROKER_BASE_URL", "https://api.kite.trade"),
			WSURL:       getEnv("BROKER_WS_URL", "wss://ws.kite.trade"),
			Timeout:     getEnvAsDuration("BROKER_TIMEOUT", 10*time.Second),
		},
		Worker: WorkerConfig{
			HealthCheckPort:    getEnvAsInt("WORKER_HEALTH_PORT", 8081),
			RefreshInterval:    getEnvAsDuration("WORKER_REFRESH_INTERVAL", 60*time.Second),
			TickBufferSize:     getEnvAsInt("WORKER_TICK_BUFFER_SIZE", 1000),
			FeedReconnectDelay: getEnvAsDuration("WORKER_FEED_RECONNECT_DELAY", 1*time.Second),
			FeedMaxReconnect:   getEnvAsDuration("WORKER_FEED_MAX_RECONNECT_DELAY", 30*time.Second),
			AuditBatchSize:     getEnvAsInt("WORKER_AUDIT_BATCH_SIZE", 100),
			AuditInterval:      getEnvAsDuration("WORKER_AUDIT_INTERVAL", 1*time.Second),
			AuditQueueSize:     getEnvAsInt("WORKER_AUDIT_QUEUE_SIZE", 1000),
			AuditMaxRetries:    getEnvAsInt("WORKER_AUDIT_MAX_RETRIES", 3),
			AuditRetryDelay:    getEnvAsDuration("WORKER_AUDIT_RETRY_DELAY", 100*time.Millisecond),
		},
		API: APIConfig{
			Port:            getEnvAsInt("API_PORT", 8090),
			HealthCheckPort: getEnvAsInt("API_HEALTH_PORT", 8091),
			JWTSecret:       getEnv("API_JWT_SECRET", ""),
			JWTExpiry:       getEnvAsDuration("API_JWT_EXPIRY", 24*time.Hour),
			RateLimitRPS:    getEnvAsInt("API_RATE_LIMIT_RPS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration. Missing broker credentials are
// the only fatal configuration class; everything else has a default.
func (c *Config) Validate() error {
	if c.Broker.APIKey == "" {
		return fmt.Errorf("BROKER_API_KEY is required")
	}
	if c.Broker.AccessToken == "" {
		return fmt.Errorf("BROKER_ACCESS_TOKEN is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
