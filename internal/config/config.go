// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Gateway drivers accepted by GATEWAY_DRIVER.
const (
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds the configuration of the extraction server and CLI.
type Config struct {
	Env        string // environment: "development" (default) or "production"
	LogLevel   string // log level: debug, info, warn, error (default "info")
	ListenAddr string // HTTP listen address (default ":8080")

	// Rate limit of the refresh and update triggers, per client.
	TriggerRatePerSecond float64 // default 1
	TriggerBurst         int     // default 5

	CORSAllowedOrigins []string // origins allowed to call the API from a browser (CORS_ALLOWED_ORIGINS, comma-separated)

	RegistryDBPath string // path to the SQLite product registry (default "extraction_registry.sqlite")
	ProductsFile   string // optional YAML file of products imported at startup

	// Execution gateway
	GatewayDriver    string        // duckdb (default), sqlite3 or postgres
	GatewayDSN       string        // DuckDB file (empty = in-memory), SQLite path or Postgres URL
	StatementTimeout time.Duration // per-statement timeout (default 10m)
	TemplateDir      string        // optional directory searched before the packaged templates

	// Pipeline
	KeepRawTables     bool // keep raw staging tables after a run (default: true outside production)
	MaxParallelStages int  // stages of one DAG level run at once (default 4)

	// Aggregation analyze pass
	AnalyzeEnabled   bool // default true
	AnalyzeMaxValues int  // distinct values recorded per column (default 100)

	// Cache
	CacheEnabled    bool          // default true
	BuildVersion    string        // cache key fingerprint (default "dev")
	CacheDefaultTTL time.Duration // TTL of product sheet reads (default 1h)

	// Refresh scheduler
	SchedulerEnabled bool // default true
	CronHourly       string
	CronDaily        string
	CronWeekly       string
	CronMonthly      string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger returns a JSON logger in production and a text logger otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Env:              os.Getenv("ENV"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		RegistryDBPath:   os.Getenv("REGISTRY_DB_PATH"),
		ProductsFile:     os.Getenv("PRODUCTS_FILE"),
		GatewayDriver:    strings.ToLower(strings.TrimSpace(os.Getenv("GATEWAY_DRIVER"))),
		GatewayDSN:       os.Getenv("GATEWAY_DSN"),
		TemplateDir:      os.Getenv("TEMPLATE_DIR"),
		AnalyzeEnabled:   parseBoolEnvDefault("ANALYZE_ENABLED", true),
		CacheEnabled:     parseBoolEnvDefault("CACHE_ENABLED", true),
		BuildVersion:     os.Getenv("BUILD_VERSION"),
		SchedulerEnabled: parseBoolEnvDefault("SCHEDULER_ENABLED", true),
		CronHourly:       os.Getenv("CRON_HOURLY"),
		CronDaily:        os.Getenv("CRON_DAILY"),
		CronWeekly:       os.Getenv("CRON_WEEKLY"),
		CronMonthly:      os.Getenv("CRON_MONTHLY"),
	}
	cfg.KeepRawTables = parseBoolEnvDefault("KEEP_RAW_TABLES", !cfg.IsProduction())

	var err error
	if cfg.StatementTimeout, err = parseDurationEnv("STATEMENT_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CacheDefaultTTL, err = parseDurationEnv("CACHE_DEFAULT_TTL", time.Hour); err != nil {
		return nil, err
	}
	cfg.MaxParallelStages = cfg.parseIntEnv("MAX_PARALLEL_STAGES", 4)
	cfg.TriggerRatePerSecond = cfg.parseFloatEnv("TRIGGER_RATE_PER_SECOND", 1)
	cfg.TriggerBurst = cfg.parseIntEnv("TRIGGER_BURST", 5)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}
	cfg.AnalyzeMaxValues = cfg.parseIntEnv("ANALYZE_MAX_VALUES", 100)

	// Defaults
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RegistryDBPath == "" {
		cfg.RegistryDBPath = "extraction_registry.sqlite"
	}
	if cfg.GatewayDriver == "" {
		cfg.GatewayDriver = DriverDuckDB
	}
	if cfg.BuildVersion == "" {
		cfg.BuildVersion = "dev"
	}
	if cfg.CronHourly == "" {
		cfg.CronHourly = "0 0 * * * ?"
	}
	if cfg.CronDaily == "" {
		cfg.CronDaily = "0 0 0 * * ?"
	}
	if cfg.CronWeekly == "" {
		cfg.CronWeekly = "0 2 0 ? * MON"
	}
	if cfg.CronMonthly == "" {
		cfg.CronMonthly = "0 0 0 1 * ?"
	}

	switch cfg.GatewayDriver {
	case DriverDuckDB:
		if cfg.GatewayDSN == "" {
			cfg.Warnings = append(cfg.Warnings, "GATEWAY_DSN not set: product tables live in an in-memory DuckDB and are lost on restart")
		}
	case DriverSQLite, DriverPostgres:
		if cfg.GatewayDSN == "" {
			return nil, fmt.Errorf("GATEWAY_DSN is required for GATEWAY_DRIVER=%s", cfg.GatewayDriver)
		}
	default:
		return nil, fmt.Errorf("unsupported GATEWAY_DRIVER %q (want duckdb, sqlite3 or postgres)", cfg.GatewayDriver)
	}

	// Production mode: settings that only make sense for debugging are fatal errors.
	if cfg.IsProduction() {
		if cfg.GatewayDriver == DriverDuckDB && cfg.GatewayDSN == "" {
			return nil, fmt.Errorf("GATEWAY_DSN must be set in production (ENV=production)")
		}
		if cfg.KeepRawTables {
			cfg.Warnings = append(cfg.Warnings, "KEEP_RAW_TABLES is enabled in production: raw staging tables are never dropped")
		}
	}

	return cfg, nil
}

// parseDurationEnv parses a Go duration; unset returns def.
func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, v)
	}
	return d, nil
}

// parseIntEnv parses a positive integer. Invalid values fall back to def
// with a warning.
func (c *Config) parseIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s=%q, using %d", key, v, def))
		return def
	}
	return n
}

func (c *Config) parseFloatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s=%q, using %g", key, v, def))
		return def
	}
	return f
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
