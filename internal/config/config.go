// Package config provides configuration management for the Know Me backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Apple     AppleConfig
	Premium   PremiumConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AppleConfig holds App Store receipt verification configuration
type AppleConfig struct {
	// ValidationEndpoint is the endpoint receipts are verified against
	ValidationEndpoint string
	// ProductionEndpoint is used only for environment detection
	ProductionEndpoint string
	// SharedSecret authenticates this service to the verification endpoint
	SharedSecret string
	// PremiumProductCodes is the set of product identifiers that grant premium
	PremiumProductCodes []string
}

// PremiumConfig holds the global premium gate configuration
type PremiumConfig struct {
	// Enabled makes non-owner content visibility conditional on the owner's
	// premium state
	Enabled bool
	// LegacyEmails is the registry of email addresses granted free premium
	LegacyEmails []string
}

// WorkerConfig holds reconciliation worker configuration
type WorkerConfig struct {
	// ReconcileInterval is the delay between reconciliation sweeps
	ReconcileInterval time.Duration
	// RenewalWindow is how far ahead of expiration a receipt is revalidated
	RenewalWindow time.Duration
}

// RateLimitConfig holds rate limiting configuration (requests per second)
type RateLimitConfig struct {
	FreeTier    int
	PremiumTier int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "know_me"),
				User:           getEnv("POSTGRES_USER", "know_me"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Apple: AppleConfig{
			ValidationEndpoint: getEnv("APPLE_RECEIPT_VALIDATION_ENDPOINT", "https://sandbox.itunes.apple.com/verifyReceipt"),
			ProductionEndpoint: getEnv("APPLE_RECEIPT_VALIDATION_PRODUCTION_ENDPOINT", "https://buy.itunes.apple.com/verifyReceipt"),
			SharedSecret:       getEnv("APPLE_SHARED_SECRET", ""),
			PremiumProductCodes: getEnvAsList(
				"APPLE_PREMIUM_PRODUCT_CODES",
				"know_me_premium_monthly,know_me_premium_yearly",
			),
		},
		Premium: PremiumConfig{
			Enabled:      getEnvAsBool("KNOW_ME_PREMIUM_ENABLED", true),
			LegacyEmails: getEnvAsList("LEGACY_USER_EMAILS", ""),
		},
		Worker: WorkerConfig{
			ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", time.Hour),
			RenewalWindow:     getEnvAsDuration("RENEWAL_WINDOW", time.Hour),
		},
		RateLimit: RateLimitConfig{
			FreeTier:    getEnvAsInt("RATE_LIMIT_FREE_TIER", 10),
			PremiumTier: getEnvAsInt("RATE_LIMIT_PREMIUM_TIER", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// DSN renders the key=value connection string the pgx pool consumes
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database,
	)
}

// URL renders the postgres:// connection URL the migration tooling consumes
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// IsPremiumProduct reports whether the product identifier grants premium
func (c *AppleConfig) IsPremiumProduct(productID string) bool {
	for _, code := range c.PremiumProductCodes {
		if code == productID {
			return true
		}
	}
	return false
}

// IsLegacyEmail reports whether the email is in the legacy registry.
// Comparison is case-insensitive.
func (c *PremiumConfig) IsLegacyEmail(email string) bool {
	for _, legacy := range c.LegacyEmails {
		if strings.EqualFold(legacy, email) {
			return true
		}
	}
	return false
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets an environment variable as a comma-separated list,
// trimming whitespace and dropping empty entries
func getEnvAsList(key, defaultValue string) []string {
	valueStr := getEnv(key, defaultValue)
	if valueStr == "" {
		return nil
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	return values
}
