// Package config loads ChronoVault configuration: 12-factor env vars
// first, with an optional YAML file for the settings that are awkward
// as flat strings.
package config

import (
	"os"
	"strconv"
)

// Config holds the full runtime configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// HashSecret salts every chain hash. Changing it invalidates all
	// previously written streams.
	HashSecret string `yaml:"hash_secret"`

	// Driver is "postgres" or "sqlite".
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	// RedisAddr empty means the in-process queue.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	QueuePrefix   string `yaml:"queue_prefix"`

	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`

	// JWTSecret enables Bearer-token actor auth when set. The X-Actor
	// header remains as the development fallback.
	JWTSecret string `yaml:"jwt_secret"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// ExportDir is where audit bundles land with the default file
	// store. S3/GCS URLs go in ExportStoreURL instead.
	ExportDir      string `yaml:"export_dir"`
	ExportStoreURL string `yaml:"export_store_url"`

	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
	OTLPInsecure    bool   `yaml:"otlp_insecure"`
	ServiceVersion  string `yaml:"service_version"`
	EnvironmentName string `yaml:"environment"`
}

// Load reads configuration from environment variables, applying
// defaults that boot a single-node dev setup with no external services.
func Load() *Config {
	cfg := &Config{
		Port:            envOr("PORT", "8080"),
		LogLevel:        envOr("LOG_LEVEL", "INFO"),
		HashSecret:      envOr("HASH_SECRET", "chronovault-salt"),
		Driver:          envOr("DB_DRIVER", "sqlite"),
		DatabaseURL:     envOr("DATABASE_URL", "postgres://postgres@localhost:5432/chronovault?sslmode=disable"),
		SQLitePath:      envOr("SQLITE_PATH", "chronovault.db"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		QueuePrefix:     envOr("QUEUE_PREFIX", "chronovault:projector"),
		Workers:         envInt("WORKERS", 4),
		MaxAttempts:     envInt("MAX_ATTEMPTS", 5),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RateLimitRPS:    envFloat("RATE_LIMIT_RPS", 25),
		RateLimitBurst:  envInt("RATE_LIMIT_BURST", 50),
		ExportDir:       envOr("EXPORT_DIR", "exports"),
		ExportStoreURL:  os.Getenv("EXPORT_STORE_URL"),
		MetricsEnabled:  os.Getenv("METRICS_ENABLED") == "true",
		OTLPEndpoint:    envOr("OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:    os.Getenv("OTLP_INSECURE") != "false",
		ServiceVersion:  envOr("APP_VERSION", "1.0.0"),
		EnvironmentName: envOr("ENVIRONMENT", "development"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
