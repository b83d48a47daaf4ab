package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string

	// Redis
	RedisAddr string
	RedisPass string
	RedisDB   int

	// Geocoding provider
	GeocoderURL     string
	GeocoderTimeout time.Duration

	// Routing provider
	RouterURL            string
	RouterTimeout        time.Duration
	MinRouteDurationSecs int

	// Dispatch
	SearchRadiusMeters int

	// Simulation
	TickInterval time.Duration

	// Webhook delivery
	WebhookURL        string
	WebhookSecret     string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookBaseDelay  time.Duration

	// API keys for authentication
	APIKeys []string
}

// LoadConfig loads configuration from environment variables and an optional
// .env file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getEnvAsInt("REDIS_DB", 0),
		GeocoderURL:          getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout:      getEnvAsDuration("GEOCODER_TIMEOUT", 10*time.Second),
		RouterURL:            getEnv("ROUTER_URL", "https://router.project-osrm.org"),
		RouterTimeout:        getEnvAsDuration("ROUTER_TIMEOUT", 10*time.Second),
		MinRouteDurationSecs: getEnvAsInt("MIN_ROUTE_DURATION_SECONDS", 5),
		SearchRadiusMeters:   getEnvAsInt("SEARCH_RADIUS_METERS", 50000),
		TickInterval:         getEnvAsDuration("SIMULATION_TICK_INTERVAL", time.Second),
		WebhookURL:           os.Getenv("WEBHOOK_URL"),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:       getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries:    getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookBaseDelay:     getEnvAsDuration("WEBHOOK_BASE_DELAY", time.Second),
	}

	apiKeysStr := os.Getenv("API_KEYS")
	if apiKeysStr != "" {
		cfg.APIKeys = strings.Split(apiKeysStr, ",")
		for i, key := range cfg.APIKeys {
			cfg.APIKeys[i] = strings.TrimSpace(key)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.MinRouteDurationSecs < 1 {
		// a zero floor would let degenerate routes arrive on the first tick
		cfg.MinRouteDurationSecs = 1
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the value of an environment variable as int or a default.
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration returns the value of an environment variable as
// time.Duration or a default.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
