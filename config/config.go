// Package config loads server configuration from a YAML file, a .env file
// and ACCRUAL_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Lock        LockConfig      `yaml:"lock"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Log         LogConfig       `yaml:"log"`
	Accrual     AccrualConfig   `yaml:"accrual"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	RateLimitPerSec        float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst         int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds        int      `yaml:"cache_ttl_seconds"`
	CORSOrigins            []string `yaml:"cors_origins"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`

	CacheTTL        time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // memory, sqlite or postgres
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// LockConfig selects the per-employee lock backend.
type LockConfig struct {
	Backend            string `yaml:"backend"` // memory or redis
	RedisAddr          string `yaml:"redis_addr"`
	RedisPassword      string `yaml:"redis_password"`
	RedisDB            int    `yaml:"redis_db"`
	TTLSeconds         int    `yaml:"ttl_seconds"`
	RetryMillis        int    `yaml:"retry_millis"`
	WaitTimeoutSeconds int    `yaml:"wait_timeout_seconds"`

	TTL         time.Duration `yaml:"-"`
	Retry       time.Duration `yaml:"-"`
	WaitTimeout time.Duration `yaml:"-"`
}

// SchedulerConfig controls the periodic reconciliation sweep.
type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	Workers         int  `yaml:"workers"`

	Interval time.Duration `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AccrualConfig is the default earning policy used by period generation.
type AccrualConfig struct {
	DaysPerYear          int64  `yaml:"days_per_year"` // 15 or 30 in practice
	PeriodType           string `yaml:"period_type"`   // anniversary, calendar_year, fiscal_year
	FiscalYearStartMonth int    `yaml:"fiscal_year_start_month"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	LockMemory = "memory"
	LockRedis  = "redis"
)

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Port:                   8080,
			RateLimitPerSec:        20,
			RateLimitBurst:         40,
			CacheTTLSeconds:        30,
			CORSOrigins:            []string{"*"},
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Driver:                 DriverSQLite,
			DSN:                    "./accrual.db",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
		},
		Lock: LockConfig{
			Backend:            LockMemory,
			TTLSeconds:         30,
			RetryMillis:        50,
			WaitTimeoutSeconds: 10,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalSeconds: 3600,
			Workers:         4,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Accrual: AccrualConfig{
			DaysPerYear:          15,
			PeriodType:           "anniversary",
			FiscalYearStartMonth: 1,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), then applies
// .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = getenv("ACCRUAL_ENV", cfg.Environment)
	cfg.Server.Port = getenvInt("ACCRUAL_PORT", cfg.Server.Port)
	if origins := getenv("ACCRUAL_CORS_ORIGINS", ""); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}

	cfg.Database.Driver = getenv("ACCRUAL_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getenv("ACCRUAL_DB_DSN", cfg.Database.DSN)

	cfg.Lock.Backend = getenv("ACCRUAL_LOCK_BACKEND", cfg.Lock.Backend)
	cfg.Lock.RedisAddr = getenv("ACCRUAL_REDIS_ADDR", cfg.Lock.RedisAddr)
	cfg.Lock.RedisPassword = getenv("ACCRUAL_REDIS_PASSWORD", cfg.Lock.RedisPassword)

	cfg.Scheduler.Enabled = getenvBool("ACCRUAL_SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.IntervalSeconds = getenvInt("ACCRUAL_SCHEDULER_INTERVAL_SECONDS", cfg.Scheduler.IntervalSeconds)
	cfg.Scheduler.Workers = getenvInt("ACCRUAL_SCHEDULER_WORKERS", cfg.Scheduler.Workers)

	cfg.Log.Level = getenv("ACCRUAL_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenv("ACCRUAL_LOG_FORMAT", cfg.Log.Format)

	cfg.Accrual.DaysPerYear = int64(getenvInt("ACCRUAL_DAYS_PER_YEAR", int(cfg.Accrual.DaysPerYear)))
}

// normalize fills derived durations, clamps nonsense values to defaults and
// rejects unknown backends.
func (c *Config) normalize() error {
	def := Default()

	if c.Server.Port <= 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = def.Server.ShutdownTimeoutSeconds
	}
	c.Server.CacheTTL = time.Duration(c.Server.CacheTTLSeconds) * time.Second
	c.Server.ShutdownTimeout = time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second

	if c.Lock.TTLSeconds <= 0 {
		c.Lock.TTLSeconds = def.Lock.TTLSeconds
	}
	if c.Lock.RetryMillis <= 0 {
		c.Lock.RetryMillis = def.Lock.RetryMillis
	}
	if c.Lock.WaitTimeoutSeconds <= 0 {
		c.Lock.WaitTimeoutSeconds = def.Lock.WaitTimeoutSeconds
	}
	c.Lock.TTL = time.Duration(c.Lock.TTLSeconds) * time.Second
	c.Lock.Retry = time.Duration(c.Lock.RetryMillis) * time.Millisecond
	c.Lock.WaitTimeout = time.Duration(c.Lock.WaitTimeoutSeconds) * time.Second

	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = def.Scheduler.IntervalSeconds
	}
	c.Scheduler.Interval = time.Duration(c.Scheduler.IntervalSeconds) * time.Second
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 1
	}

	if c.Accrual.FiscalYearStartMonth < 1 || c.Accrual.FiscalYearStartMonth > 12 {
		c.Accrual.FiscalYearStartMonth = 1
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}

	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	switch c.Lock.Backend {
	case LockMemory:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return errors.New("lock.redis_addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	if c.Accrual.DaysPerYear < 0 {
		return fmt.Errorf("accrual.days_per_year must be non-negative, got %d", c.Accrual.DaysPerYear)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
