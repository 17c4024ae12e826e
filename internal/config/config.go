// Package config holds the daemon configuration: tier connections,
// TTL policy, and observability settings. Files may be JSON or YAML;
// environment variables override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds warm-tier connection settings. An empty Addr
// disables the warm tier.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// PostgresConfig holds cold-tier connection settings. An empty DSN
// disables the cold tier.
type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// StorageConfig holds TTL policy for the tiers and the durable purge
// loop interval.
type StorageConfig struct {
	HotTTL        time.Duration `json:"hot_ttl" yaml:"hot_ttl"`
	WarmTTL       time.Duration `json:"warm_ttl" yaml:"warm_ttl"`
	PurgeInterval time.Duration `json:"purge_interval" yaml:"purge_interval"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// LoggingConfig controls the operational logger.
type LoggingConfig struct {
	Format string `json:"format" yaml:"format"` // text, json
	Level  string `json:"level" yaml:"level"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig controls Prometheus export.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled" yaml:"enabled"`
	Namespace        string    `json:"namespace" yaml:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets" yaml:"histogram_buckets"`
}

// ObservabilityConfig groups logging, tracing and metrics settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// Config is the central configuration struct.
type Config struct {
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	Postgres      PostgresConfig      `json:"postgres" yaml:"postgres"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Daemon        DaemonConfig        `json:"daemon" yaml:"daemon"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults: hot-tier-only
// storage listening on :8080.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:      "",
			KeyPrefix: "support:cache:",
		},
		Postgres: PostgresConfig{DSN: ""},
		Storage: StorageConfig{
			HotTTL:        24 * time.Hour,
			WarmTTL:       72 * time.Hour,
			PurgeInterval: time.Hour,
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Format: "text", Level: "info"},
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "botstored",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "botstore",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Malformed files are a fatal configuration error.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BOTSTORE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BOTSTORE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BOTSTORE_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("BOTSTORE_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("BOTSTORE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
}
