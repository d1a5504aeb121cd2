package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// MaxChunkRows is the largest chunk the batch writer can bind in a single
// statement: PostgreSQL's 65535 parameter limit over 19 student columns.
const MaxChunkRows = 65535 / 19

// lookupFunc resolves an environment variable.
type lookupFunc func(string) (string, bool)

// fieldTags holds the parsed struct tags of one config field.
type fieldTags struct {
	env      string
	alt      string
	def      string
	required bool
}

func tagsOf(f reflect.StructField) fieldTags {
	return fieldTags{
		env:      f.Tag.Get("env"),
		alt:      f.Tag.Get("envAlt"),
		def:      f.Tag.Get("default"),
		required: f.Tag.Get("required") == "true",
	}
}

// resolve returns the raw value for the field, or ok=false when the field
// should be left at its zero value.
func (t fieldTags) resolve(lookup lookupFunc) (string, bool, error) {
	if v, ok := lookup(t.env); ok && v != "" {
		return v, true, nil
	}
	if t.alt != "" {
		if v, ok := lookup(t.alt); ok && v != "" {
			return v, true, nil
		}
	}
	if t.required {
		return "", false, fmt.Errorf("required environment variable %s is not set", t.env)
	}
	return t.def, t.def != "", nil
}

// Load reads configuration from environment variables, applies defaults,
// and validates the result.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup lookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := populate(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// populate walks the config sections and fills every tagged field.
func populate(v reflect.Value, lookup lookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if sf.Type.Kind() == reflect.Struct {
			if err := populate(fv, lookup); err != nil {
				return err
			}
			continue
		}

		tags := tagsOf(sf)
		if tags.env == "" {
			continue
		}

		raw, ok, err := tags.resolve(lookup)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if err := assign(fv, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", tags.env, raw, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// assign parses raw into the field according to its type.
func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", fv.Type().Elem().Kind())
		}
		fv.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field type: %s", fv.Kind())
	}
	return nil
}

// splitList splits a comma-separated value and drops empty entries.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Database.URL == "" {
		fail("DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		fail("DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		fail("DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		fail("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		fail("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		fail("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Import.MaxFileSize <= 0 {
		fail("IMPORT_MAX_FILE_SIZE must be positive")
	}
	for _, chunk := range []struct {
		name string
		size int
	}{
		{"IMPORT_INSERT_CHUNK", c.Import.InsertChunk},
		{"IMPORT_UPSERT_CHUNK", c.Import.UpsertChunk},
	} {
		if chunk.size <= 0 || chunk.size > MaxChunkRows {
			fail("%s (%d) must be 1-%d", chunk.name, chunk.size, MaxChunkRows)
		}
	}
	if c.Import.MaxConcurrent <= 0 {
		fail("IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		fail("IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		fail("IMPORT_TIMEOUT must be positive")
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		fail("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ImportLimit <= 0 {
		fail("RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		fail("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		fail("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		fail("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation of the config that is safe to log.
// The database URL is masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{App: {Env: %q}, Server: {Addr: %q}, Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
			"Import: {MaxFileSize: %d, InsertChunk: %d, UpsertChunk: %d, MaxConcurrent: %d}, "+
			"Catalog: {File: %q}, Rate: {Enabled: %v, RequestsPerMinute: %d}, Logging: {Level: %q, Format: %q}}",
		c.App.Env, c.Server.Addr(), c.Database.MaxConns, c.Database.MinConns,
		c.Import.MaxFileSize, c.Import.InsertChunk, c.Import.UpsertChunk, c.Import.MaxConcurrent,
		c.Catalog.File, c.Rate.Enabled, c.Rate.RequestsPerMinute, c.Logging.Level, c.Logging.Format,
	)
}
