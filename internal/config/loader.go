package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Option adjusts how Load treats the environment.
type Option func(*loadOptions)

type loadOptions struct {
	skipDatabase bool
}

// WithoutDatabase lets Load succeed without DATABASE_URL.
// Used by commands that never touch the store, such as a dry-run import.
func WithoutDatabase() Option {
	return func(o *loadOptions) { o.skipDatabase = true }
}

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load(opts ...Option) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), o); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.validate(o); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct fills tagged fields, recursing into nested structs.
// All missing required variables are reported together.
func loadStruct(v reflect.Value, o loadOptions) error {
	var missing []string
	if err := fill(v, o, &missing); err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func fill(v reflect.Value, o loadOptions, missing *[]string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := fill(fieldVal, o, missing); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookup(envName, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" && !(o.skipDatabase && envName == "DATABASE_URL") {
				*missing = append(*missing, envName)
				continue
			}
			value = field.Tag.Get("default")
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookup returns the first non-empty value among the primary name and
// its comma-separated alternates.
func lookup(name, alts string) (string, bool) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, true
	}
	if alts == "" {
		return "", false
	}
	for _, alt := range strings.Split(alts, ",") {
		if v := strings.TrimSpace(os.Getenv(strings.TrimSpace(alt))); v != "" {
			return v, true
		}
	}
	return "", false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setField parses value into field according to the field's kind.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				// Bare integers are seconds, e.g. STATS_CACHE_TTL=300.
				secs, intErr := strconv.ParseInt(value, 10, 64)
				if intErr != nil {
					return fmt.Errorf("invalid duration: %w", err)
				}
				d = time.Duration(secs) * time.Second
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks the loaded configuration and reports every problem at once.
func (c *Config) Validate() error {
	return c.validate(loadOptions{})
}

func (c *Config) validate(o loadOptions) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !o.skipDatabase {
		if c.Database.URL == "" {
			add("DATABASE_URL is required")
		}
		if c.Database.MaxConns <= 0 {
			add("DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			add("DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			add("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		add("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Import.ScheduleEnabled && c.Import.IntervalMinutes <= 0 {
		add("IMPORT_INTERVAL_MINUTES must be positive when the schedule is enabled")
	}
	if c.Import.FetchTimeout <= 0 {
		add("IMPORT_FETCH_TIMEOUT must be positive")
	}
	if c.Import.MaxSourceBytes <= 0 {
		add("IMPORT_MAX_SOURCE_BYTES must be positive")
	}
	if c.Import.MaxConcurrent <= 0 {
		add("IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		add("IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		add("IMPORT_TIMEOUT must be positive")
	}

	if c.Cache.StatsTTL < 0 {
		add("STATS_CACHE_TTL must be non-negative")
	}

	if c.API.PageSize <= 0 {
		add("PAGE_SIZE must be positive")
	}
	if c.API.MaxPageSize < c.API.PageSize {
		add("MAX_PAGE_SIZE (%d) must be >= PAGE_SIZE (%d)", c.API.MaxPageSize, c.API.PageSize)
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		add("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ImportLimit <= 0 {
		add("RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		add("REQUIRE_API_KEY is true but API_KEYS is empty")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// String returns a loggable summary with secrets masked.
func (c *Config) String() string {
	redis := "off"
	if c.Cache.RedisURL != "" {
		redis = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {Source: %q, AltSource: %q, Schedule: %v, IntervalMinutes: %d, MaxConcurrent: %d}, ",
		c.Import.Source, c.Import.AltSource, c.Import.ScheduleEnabled, c.Import.IntervalMinutes, c.Import.MaxConcurrent)
	fmt.Fprintf(&b, "Cache: {Redis: %s, StatsTTL: %s}, ", redis, c.Cache.StatsTTL)
	fmt.Fprintf(&b, "API: {PageSize: %d, MaxPageSize: %d}, ", c.API.PageSize, c.API.MaxPageSize)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d}, ", c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
