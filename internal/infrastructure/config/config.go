package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Collector CollectorConfig
	Tracing   TracingConfig
	Routes    RouteConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration (local server mode only).
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// CollectorConfig controls how the trace collector address is discovered.
type CollectorConfig struct {
	// Address pins the collector and skips discovery.
	Address       string   `envconfig:"COLLECTOR_ADDR"`
	Port          int      `envconfig:"COLLECTOR_PORT" default:"4317"`
	Bucket        string   `envconfig:"COLLECTOR_CONFIG_BUCKET" default:"lambda-function-bucket-poridhi"`
	Key           string   `envconfig:"COLLECTOR_CONFIG_KEY" default:"pulumi-outputs.json"`
	AddressFields []string `envconfig:"COLLECTOR_ADDRESS_FIELDS" default:"ec2_instance_private_ip,ec2_instance_public_ip,ec2_instance_ip"`
	FetchAttempts int      `envconfig:"COLLECTOR_FETCH_ATTEMPTS" default:"2"`
	S3Region      string   `envconfig:"COLLECTOR_S3_REGION"`
	S3Endpoint    string   `envconfig:"COLLECTOR_S3_ENDPOINT"`
}

// TracingConfig holds trace pipeline configuration.
type TracingConfig struct {
	Enabled          bool          `envconfig:"TRACING_ENABLED" default:"true"`
	ServiceName      string        `envconfig:"OTEL_SERVICE_NAME" default:"traced-lambda"`
	ServiceVersion   string        `envconfig:"SERVICE_VERSION" default:"dev"`
	SampleRatio      float64       `envconfig:"TRACING_SAMPLE_RATIO" default:"1"`
	SyncExport       bool          `envconfig:"TRACING_SYNC_EXPORT" default:"true"`
	BootstrapTimeout time.Duration `envconfig:"TRACING_BOOTSTRAP_TIMEOUT" default:"5s"`
	ExportTimeout    time.Duration `envconfig:"TRACING_EXPORT_TIMEOUT" default:"3s"`
	FlushTimeout     time.Duration `envconfig:"TRACING_FLUSH_TIMEOUT" default:"2s"`
}

// RouteConfig holds demonstration route timings.
type RouteConfig struct {
	SlowDelay time.Duration `envconfig:"ROUTE_SLOW_DELAY" default:"2s"`
	Timeout   time.Duration `envconfig:"ROUTE_TIMEOUT" default:"10s"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	PerClient         bool `envconfig:"RATE_LIMIT_PER_CLIENT" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would make the service misbehave silently.
func (c *Config) Validate() error {
	if c.Collector.Port <= 0 || c.Collector.Port > 65535 {
		return fmt.Errorf("invalid COLLECTOR_PORT %d", c.Collector.Port)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0,1], got %v", c.Tracing.SampleRatio)
	}
	if c.Tracing.BootstrapTimeout <= 0 {
		return fmt.Errorf("TRACING_BOOTSTRAP_TIMEOUT must be positive")
	}
	if c.Routes.SlowDelay < 0 || c.Routes.Timeout < 0 {
		return fmt.Errorf("route timings must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Collector: CollectorConfig{
			Port:   4317,
			Bucket: "lambda-function-bucket-poridhi",
			Key:    "pulumi-outputs.json",
			AddressFields: []string{
				"ec2_instance_private_ip",
				"ec2_instance_public_ip",
				"ec2_instance_ip",
			},
			FetchAttempts: 2,
		},
		Tracing: TracingConfig{
			Enabled:          true,
			ServiceName:      "traced-lambda",
			ServiceVersion:   "dev",
			SampleRatio:      1,
			SyncExport:       true,
			BootstrapTimeout: 5 * time.Second,
			ExportTimeout:    3 * time.Second,
			FlushTimeout:     2 * time.Second,
		},
		Routes: RouteConfig{
			SlowDelay: 2 * time.Second,
			Timeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           false,
			PerClient:         false,
		},
	}
}
