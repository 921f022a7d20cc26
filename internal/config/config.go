package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Pagination modes.
const (
	PaginationClamp  = "clamp"
	PaginationReject = "reject"
)

// Daily breakdown grouping modes.
const (
	DailyGroupingDay       = "day"
	DailyGroupingTimestamp = "timestamp"
)

// Config captures the runtime configuration for the analytics service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Database      DatabaseConfig      `mapstructure:"database"`
	SQLite        SQLiteConfig        `mapstructure:"sqlite"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type StoreConfig struct {
	Driver       string        `mapstructure:"driver"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// BreakerConfig tunes the circuit breaker in front of the record store.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Location returns the reporting timezone, UTC when unset or invalid.
func (r ReportingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(r.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

type AnalyticsConfig struct {
	DefaultTimeframe       string           `mapstructure:"default_timeframe"`
	RejectUnknownTimeframe bool             `mapstructure:"reject_unknown_timeframe"`
	DailyGrouping          string           `mapstructure:"daily_grouping"`
	FillEmptyDays          bool             `mapstructure:"fill_empty_days"`
	MaxParallelQueries     int              `mapstructure:"max_parallel_queries"`
	Pagination             PaginationConfig `mapstructure:"pagination"`
}

type PaginationConfig struct {
	Mode         string `mapstructure:"mode"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

type ObservabilityConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type Options struct {
	ConfigFile string
	EnvFile    string
}

func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("ANALYTICS_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		v.SetConfigName("analytics")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ANALYTICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}

	var missing []string
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			missing = append(missing, "ANALYTICS_DATABASE_URL")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			missing = append(missing, "ANALYTICS_SQLITE_PATH")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			missing = append(missing, "ANALYTICS_REDIS_URL")
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, postgres, sqlite, redis (got %q)", c.Store.Driver)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Store.QueryTimeout < 0 {
		return fmt.Errorf("store.query_timeout must be >= 0")
	}

	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	if c.Breaker.Enabled {
		if c.Breaker.FailureThreshold == 0 {
			c.Breaker.FailureThreshold = 5
		}
		if c.Breaker.Timeout <= 0 {
			c.Breaker.Timeout = 30 * time.Second
		}
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("invalid reporting.timezone: %w", err)
	}
	c.Reporting.Timezone = reportingTZ

	return c.Analytics.validate()
}

func (a *AnalyticsConfig) validate() error {
	a.DefaultTimeframe = strings.ToLower(strings.TrimSpace(a.DefaultTimeframe))
	switch a.DefaultTimeframe {
	case "":
		a.DefaultTimeframe = "week"
	case "day", "week", "month":
	default:
		return fmt.Errorf("analytics.default_timeframe must be day, week or month")
	}

	a.DailyGrouping = strings.ToLower(strings.TrimSpace(a.DailyGrouping))
	switch a.DailyGrouping {
	case "":
		a.DailyGrouping = DailyGroupingDay
	case DailyGroupingDay, DailyGroupingTimestamp:
	default:
		return fmt.Errorf("analytics.daily_grouping must be day or timestamp")
	}

	if a.MaxParallelQueries < 0 {
		return fmt.Errorf("analytics.max_parallel_queries must be >= 0")
	}

	p := &a.Pagination
	p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
	switch p.Mode {
	case "":
		p.Mode = PaginationClamp
	case PaginationClamp, PaginationReject:
	default:
		return fmt.Errorf("analytics.pagination.mode must be clamp or reject")
	}
	if p.DefaultLimit <= 0 {
		p.DefaultLimit = 10
	}
	if p.MaxLimit < 0 {
		return fmt.Errorf("analytics.pagination.max_limit must be >= 0")
	}
	if p.MaxLimit > 0 && p.DefaultLimit > p.MaxLimit {
		return fmt.Errorf("analytics.pagination.default_limit cannot exceed analytics.pagination.max_limit")
	}
	return nil
}

// Redacted returns a copy safe to print, with credentials stripped from URLs.
func (c Config) Redacted() Config {
	c.Database.URL = redactURL(c.Database.URL)
	c.Redis.URL = redactURL(c.Redis.URL)
	return c
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	return u.Redacted()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 1)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.query_timeout", "10s")

	// Empty defaults register the keys so AutomaticEnv can populate them.
	v.SetDefault("database.url", "")
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("sqlite.path", "./data/analytics.db")
	v.SetDefault("sqlite.run_migrations", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.key_prefix", "analytics:")

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_threshold", 5)

	v.SetDefault("reporting.timezone", "UTC")

	v.SetDefault("analytics.default_timeframe", "week")
	v.SetDefault("analytics.reject_unknown_timeframe", false)
	v.SetDefault("analytics.daily_grouping", DailyGroupingDay)
	v.SetDefault("analytics.fill_empty_days", false)
	v.SetDefault("analytics.max_parallel_queries", 4)
	v.SetDefault("analytics.pagination.mode", PaginationClamp)
	v.SetDefault("analytics.pagination.default_limit", 10)
	v.SetDefault("analytics.pagination.max_limit", 100)

	v.SetDefault("observability.service_name", "usage-analytics")
	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
