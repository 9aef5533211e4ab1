// Package config loads itemstats settings from environment variables.
// Every value has a default except the database URL, and the whole
// configuration is validated once at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Cache    CacheConfig
	API      APIConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8000"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"` // Imports run inside the request
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds read endpoints. Import requests use Import.Timeout.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted as well.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig controls where items come from and how often.
type ImportConfig struct {
	// Source is the default import source (URL or path).
	Source string `env:"IMPORT_SOURCE" envAlt:"SOURCE_URL_CSV"`

	// AltSource is tried when Source is empty.
	AltSource string `env:"IMPORT_SOURCE_ALT" envAlt:"SOURCE_URL_JSON"`

	// SampleSource is the last fallback, bundled with the repository.
	SampleSource string `env:"IMPORT_SAMPLE_SOURCE" default:"sample_data/sample.csv"`

	ScheduleEnabled bool `env:"IMPORT_SCHEDULE_ENABLED" default:"true"`
	IntervalMinutes int  `env:"IMPORT_INTERVAL_MINUTES" default:"5"`

	FetchTimeout   time.Duration `env:"IMPORT_FETCH_TIMEOUT" default:"30s"`
	MaxSourceBytes int64         `env:"IMPORT_MAX_SOURCE_BYTES" default:"104857600"`

	// MaxConcurrent caps simultaneous imports started through the API.
	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" default:"2"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single run end to end.
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`
}

// Interval returns the schedule period.
func (c *ImportConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// CacheConfig holds settings for the stats cache.
type CacheConfig struct {
	// RedisURL selects the Redis backend. Empty keeps the cache in process.
	RedisURL string `env:"REDIS_URL"`

	StatsTTL time.Duration `env:"STATS_CACHE_TTL" default:"300s"`
}

// APIConfig holds read API settings.
type APIConfig struct {
	PageSize    int `env:"PAGE_SIZE" default:"10"`
	MaxPageSize int `env:"MAX_PAGE_SIZE" default:"100"`
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints.
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs allowed to set client IP headers.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects import triggers with X-API-Key.
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`  // debug, info, warn, error
	Format string `env:"LOG_FORMAT" default:"text"` // text or json
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
