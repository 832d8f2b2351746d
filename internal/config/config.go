// Package config loads the service configuration from defaults, an optional
// YAML file, a local .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Indeed    IndeedConfig    `mapstructure:"indeed"`
	Adzuna    AdzunaConfig    `mapstructure:"adzuna"`
	Source    SourceConfig    `mapstructure:"source"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Cron      CronConfig      `mapstructure:"cron"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // postgres | sqlite | memory
	URL        string `mapstructure:"url"`
	Migrations string `mapstructure:"migrations"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	RefillMs      int64         `mapstructure:"refill_ms"`
	Backend       string        `mapstructure:"backend"` // memory | redis
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AuthConfig struct {
	IngestSecret string `mapstructure:"ingest_secret"`
	CronSecret   string `mapstructure:"cron_secret"`
	// AllowOpen lets requests through when the matching secret is empty.
	AllowOpen bool `mapstructure:"allow_open"`
}

type IndeedConfig struct {
	Token   string `mapstructure:"token"`
	Actor   string `mapstructure:"actor"`
	BaseURL string `mapstructure:"base_url"`
}

type AdzunaConfig struct {
	AppID   string `mapstructure:"app_id"`
	AppKey  string `mapstructure:"app_key"`
	Country string `mapstructure:"country"`
	BaseURL string `mapstructure:"base_url"`
}

type SourceConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	DefaultLimit int      `mapstructure:"default_limit"`
	MaxLimit     int      `mapstructure:"max_limit"`
	ExcludeTerms []string `mapstructure:"exclude_terms"`
}

// CronConfig is the fixed query used by scheduled runs.
type CronConfig struct {
	Source        string   `mapstructure:"source"`
	Country       string   `mapstructure:"country"`
	Query         string   `mapstructure:"query"`
	Location      string   `mapstructure:"location"`
	FromDays      int      `mapstructure:"from_days"`
	Limit         int      `mapstructure:"limit"`
	URLs          []string `mapstructure:"urls"`
	MaxRowsPerURL int      `mapstructure:"max_rows_per_url"`
}

type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Spec       string `mapstructure:"spec"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the conventional variable names used by
// the deployment.
var envBindings = map[string]string{
	"server.port":        "PORT",
	"database.url":       "DATABASE_URL",
	"redis.url":          "REDIS_URL",
	"indeed.token":       "APIFY_TOKEN",
	"adzuna.app_id":      "ADZUNA_APP_ID",
	"adzuna.app_key":     "ADZUNA_APP_KEY",
	"adzuna.country":     "ADZUNA_COUNTRY",
	"auth.ingest_secret": "INGEST_SECRET",
	"auth.cron_secret":   "CRON_SECRET",
}

// Load reads configuration. configPath may be empty, in which case
// ./config.yaml is used when present. A .env file in the working directory
// is loaded into the environment first; existing variables win.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()

	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.migrations", "file://migrations")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("ratelimit.capacity", 3)
	v.SetDefault("ratelimit.refill_ms", 60000)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.sweep_interval", "10m")
	v.SetDefault("auth.allow_open", false)
	v.SetDefault("indeed.actor", "")
	v.SetDefault("indeed.base_url", "")
	v.SetDefault("adzuna.country", "fr")
	v.SetDefault("adzuna.base_url", "")
	v.SetDefault("source.timeout", "2m")
	v.SetDefault("ingest.default_limit", 50)
	v.SetDefault("ingest.max_limit", 200)
	v.SetDefault("ingest.exclude_terms", []string{})
	v.SetDefault("cron.source", "indeed")
	v.SetDefault("cron.country", "US")
	v.SetDefault("cron.from_days", 1)
	v.SetDefault("cron.limit", 50)
	v.SetDefault("cron.query", "")
	v.SetDefault("cron.location", "")
	v.SetDefault("cron.urls", []string{})
	v.SetDefault("cron.max_rows_per_url", 0)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "@every 6h")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment variables override (JOBMATE_RATELIMIT_CAPACITY, etc.)
	v.SetEnvPrefix("JOBMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "JOBMATE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return errors.New("DATABASE_URL is required for the postgres driver")
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("REDIS_URL is required when redis.enabled is set")
	}

	if c.RateLimit.Capacity < 1 || c.RateLimit.RefillMs < 1 {
		return fmt.Errorf("ratelimit.capacity and ratelimit.refill_ms must be positive")
	}
	if c.Ingest.MaxLimit < 1 || c.Ingest.DefaultLimit < 1 {
		return fmt.Errorf("ingest.default_limit and ingest.max_limit must be positive")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || c.RateLimit.Backend == "redis"
}
