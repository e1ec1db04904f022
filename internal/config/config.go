package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Cache     CacheConfig
	Validator ValidatorConfig
	App       AppConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" default:"3000"`
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	StaticDir       string        `envconfig:"SERVER_STATIC_DIR"`
	AllowedOrigins  []string      `envconfig:"SERVER_CORS_ALLOWED_ORIGINS"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// StoreConfig selects and configures the mapping store.
type StoreConfig struct {
	Driver         string        `envconfig:"STORE_DRIVER" default:"memory"`
	DSN            string        `envconfig:"STORE_DSN"` // postgres URL, redis:// URL or sqlite file path
	MaxConns       int32         `envconfig:"STORE_MAX_CONNS" default:"10"`
	MinConns       int32         `envconfig:"STORE_MIN_CONNS" default:"1"`
	ConnectTimeout time.Duration `envconfig:"STORE_CONNECT_TIMEOUT" default:"5s"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	drivers := []string{DriverMemory, DriverPostgres, DriverRedis, DriverSQLite}
	if !slices.Contains(drivers, c.Driver) {
		return fmt.Errorf("invalid store driver: %s (must be one of: %s)", c.Driver, strings.Join(drivers, ", "))
	}
	if c.Driver != DriverMemory && c.DSN == "" {
		return fmt.Errorf("dsn is required for the %s driver", c.Driver)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min connections cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// CacheConfig configures the in-process lookup cache.
type CacheConfig struct {
	Enabled  bool          `envconfig:"CACHE_ENABLED" default:"false"`
	MaxItems int64         `envconfig:"CACHE_MAX_ITEMS" default:"10000"`
	TTL      time.Duration `envconfig:"CACHE_TTL" default:"1h"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max items must be positive")
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}
	return nil
}

// ValidatorConfig configures URL validation.
type ValidatorConfig struct {
	LookupTimeout time.Duration `envconfig:"VALIDATOR_LOOKUP_TIMEOUT" default:"5s"`
}

// Validate validates the validator configuration.
func (c *ValidatorConfig) Validate() error {
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup timeout must be positive")
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"` // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`     // json, text
	ServiceName string `envconfig:"APP_SERVICE_NAME" default:"shorturl"`
	Version     string `envconfig:"APP_VERSION" default:"dev"`
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, c.Environment) {
		return fmt.Errorf("invalid environment: %s (must be one of: %s)", c.Environment, strings.Join(validEnvs, ", "))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}
	return nil
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Path    string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("metrics path must start with /, got %q", c.Path)
	}
	return nil
}

type section interface {
	Validate() error
}

// Load loads configuration from environment variables only.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []struct {
		name string
		spec section
	}{
		{"Server", &cfg.Server},
		{"Store", &cfg.Store},
		{"Cache", &cfg.Cache},
		{"Validator", &cfg.Validator},
		{"App", &cfg.App},
		{"Metrics", &cfg.Metrics},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.spec); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.spec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}
