package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the server and lambda entrypoints.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Storage
	StoreBackend  string
	DynamoDBTable string
	DatabaseURL   string
	RedisURL      string

	// Auth. ParamPrefix, when set, supplies secrets missing from the environment.
	JWTSecret      string
	GoogleClientID string
	ParamPrefix    string

	// Messaging
	DefaultWebhookURL string
	WebhookBaseURL    string
	WebhookTimeout    time.Duration
	MessageLimit      int

	RateLimitPerMinute int
	CORSOrigins        []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", BackendDynamoDB)),
		DynamoDBTable:      os.Getenv("DYNAMODB_TABLE"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ParamPrefix:        strings.TrimRight(os.Getenv("PARAM_PREFIX"), "/"),
		DefaultWebhookURL:  os.Getenv("DEFAULT_WEBHOOK_URL"),
		WebhookBaseURL:     os.Getenv("WEBHOOK_BASE_URL"),
		WebhookTimeout:     time.Duration(envInt("WEBHOOK_TIMEOUT_SECONDS", 30)) * time.Second,
		MessageLimit:       envInt("MESSAGE_LIMIT", 20),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
	}
	return cfg
}

// Validate reports missing or inconsistent settings. Secrets that may still
// come from Parameter Store are not required here.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.DynamoDBTable == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE is required for the dynamodb backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of dynamodb, postgres", c.StoreBackend))
	}
	if c.JWTSecret == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("JWT_SECRET or PARAM_PREFIX is required"))
	}
	if c.MessageLimit <= 0 {
		errs = append(errs, errors.New("MESSAGE_LIMIT must be positive"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must not be negative (0 disables rate limiting)"))
	}
	if c.WebhookTimeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT_SECONDS must be positive"))
	}
	if c.Env == "production" && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required in production"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, entry := range strings.Split(v, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
