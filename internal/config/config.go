package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Points   PointsConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	DBName     string
	SSLMode    string
	TestDBName string // Separate database for testing
}

// PointsConfig holds the tunable windows of the points core
type PointsConfig struct {
	// DefaultReservationTTL applies when a reserve request has no TTL.
	DefaultReservationTTL time.Duration
	// MaxReservationTTL is the hard ceiling; longer requests are capped.
	MaxReservationTTL time.Duration
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration
	// IdempotencyRetention bounds stored-result replay; capped at 90 days.
	IdempotencyRetention time.Duration
}

// maxIdempotencyRetention is the ceiling for financial operation types.
const maxIdempotencyRetention = 90 * 24 * time.Hour

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() *Config {
	retention := getEnvAsDuration("IDEMPOTENCY_RETENTION_HOURS", time.Hour, 24)
	if retention > maxIdempotencyRetention {
		retention = maxIdempotencyRetention
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			Username:   getEnv("DB_USERNAME", "postgres"),
			Password:   getEnv("DB_PASSWORD", "password"),
			DBName:     getEnv("DB_NAME", "points"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			TestDBName: getEnv("TEST_DB_NAME", "points_test"),
		},
		Points: PointsConfig{
			DefaultReservationTTL: getEnvAsDuration("RESERVATION_DEFAULT_TTL_SECONDS", time.Second, 300),
			MaxReservationTTL:     getEnvAsDuration("RESERVATION_MAX_TTL_SECONDS", time.Second, 3600),
			SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL_SECONDS", time.Second, 60),
			IdempotencyRetention:  retention,
		},
	}
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, unit time.Duration, defaultUnits int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultUnits)) * unit
}
