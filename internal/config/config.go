// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"
	LogFile   string // optional rotated file sink

	// Storage
	StoreBackend string
	DataDir      string // file backend
	DatabaseURL  string // postgres backend
	RedisURL     string // redis backend
	RedisPrefix  string

	// Scoring
	MinReporterTrust         int
	RepeatVerificationAwards bool
	SusReportPenalty         int
	SusLookback              time.Duration
	Timezone                 string
	VerificationTimeout      time.Duration
	SnapshotSchedule         string // cron spec for the score refresher, empty disables

	// External services
	MintServiceURL      string
	MintAPIKey          string
	DiscordBotToken     string
	DiscordAlertChannel string
	OTLPEndpoint        string
	TraceSampleRatio    float64

	// Security
	AdminSecret    string
	RateLimitRPS   int
	RateLimitBurst int
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultDataDir             = "data"
	DefaultRedisPrefix         = "tiltcheck"
	DefaultMinReporterTrust    = 200
	DefaultSusReportPenalty    = 200
	DefaultSusLookback         = 24 * time.Hour
	DefaultTimezone            = "UTC"
	DefaultVerificationTimeout = 10 * time.Second
	DefaultSnapshotSchedule    = "@every 15m"
	DefaultRateLimit           = 20
	DefaultRateLimitBurst      = 40
	DefaultTraceSampleRatio    = 1.0
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                getEnv("LOG_FORMAT", DefaultLogFormat),
		LogFile:                  os.Getenv("LOG_FILE"),
		StoreBackend:             strings.ToLower(os.Getenv("STORE_BACKEND")),
		DataDir:                  getEnv("DATA_DIR", DefaultDataDir),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		RedisPrefix:              getEnv("REDIS_PREFIX", DefaultRedisPrefix),
		MinReporterTrust:         int(getEnvInt64("MIN_REPORTER_TRUST", DefaultMinReporterTrust)),
		RepeatVerificationAwards: getEnvBool("REPEAT_VERIFICATION_AWARDS", false),
		SusReportPenalty:         int(getEnvInt64("SUS_REPORT_PENALTY", DefaultSusReportPenalty)),
		SusLookback:              getEnvDuration("SUS_LOOKBACK", DefaultSusLookback),
		Timezone:                 getEnv("TIMEZONE", DefaultTimezone),
		VerificationTimeout:      getEnvDuration("VERIFICATION_TIMEOUT", DefaultVerificationTimeout),
		SnapshotSchedule:         getEnv("SNAPSHOT_SCHEDULE", DefaultSnapshotSchedule),
		MintServiceURL:           os.Getenv("MINT_SERVICE_URL"),
		MintAPIKey:               os.Getenv("MINT_API_KEY"),
		DiscordBotToken:          os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordAlertChannel:      os.Getenv("DISCORD_ALERT_CHANNEL"),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:         getEnvFloat("OTEL_TRACES_SAMPLER_ARG", DefaultTraceSampleRatio),
		AdminSecret:              os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:             int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		RateLimitBurst:           int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
	}

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = inferBackend(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// inferBackend picks a store when STORE_BACKEND is unset: a configured
// database wins, then redis, then the file store.
func inferBackend(cfg *Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return BackendPostgres
	case cfg.RedisURL != "":
		return BackendRedis
	default:
		return BackendFile
	}
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFile:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the file store")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, file, postgres, redis (got %q)", c.StoreBackend)
	}

	if c.SusReportPenalty <= 0 {
		return fmt.Errorf("SUS_REPORT_PENALTY must be positive")
	}
	if c.MinReporterTrust < 0 {
		return fmt.Errorf("MIN_REPORTER_TRUST must not be negative")
	}
	if c.VerificationTimeout <= 0 {
		return fmt.Errorf("VERIFICATION_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.DiscordAlertChannel != "" && c.DiscordBotToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required when DISCORD_ALERT_CHANNEL is set")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
