package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the session service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Zone     ZoneConfig     `mapstructure:"zone"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds the job queue backend settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// WorkerConfig holds the per-kind job processing limits
type WorkerConfig struct {
	IngestConcurrency int           `mapstructure:"ingest_concurrency"`
	PairConcurrency   int           `mapstructure:"pair_concurrency"`
	PairRatePerSec    int           `mapstructure:"pair_rate_per_sec"`
	FuzzyConcurrency  int           `mapstructure:"fuzzy_concurrency"`
	FuzzyRatePerSec   int           `mapstructure:"fuzzy_rate_per_sec"`
	FuzzyDelay        time.Duration `mapstructure:"fuzzy_delay"`
	ExpireInterval    time.Duration `mapstructure:"expire_interval"`
}

// ZoneConfig holds the matching defaults applied to zones without an
// explicit zone_config row
type ZoneConfig struct {
	HorizonDays      int     `mapstructure:"horizon_days"`
	FuzzyThreshold   float64 `mapstructure:"fuzzy_threshold"`
	ReviewBelowScore float64 `mapstructure:"review_below_score"`
	MaxStayHours     int     `mapstructure:"max_stay_hours"`
	FreeMinutes      int     `mapstructure:"free_minutes"`
	HourlyCents      int64   `mapstructure:"hourly_cents"`
	DailyMaxCents    int64   `mapstructure:"daily_max_cents"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "lpr")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "lpr_sessions")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("worker.ingest_concurrency", 1)
	v.SetDefault("worker.pair_concurrency", 4)
	v.SetDefault("worker.pair_rate_per_sec", 100)
	v.SetDefault("worker.fuzzy_concurrency", 2)
	v.SetDefault("worker.fuzzy_rate_per_sec", 20)
	v.SetDefault("worker.fuzzy_delay", "5s")
	v.SetDefault("worker.expire_interval", "1h")

	v.SetDefault("zone.horizon_days", 7)
	v.SetDefault("zone.fuzzy_threshold", 0.95)
	v.SetDefault("zone.review_below_score", 0.97)
	v.SetDefault("zone.max_stay_hours", 24)
	v.SetDefault("zone.free_minutes", 0)
	v.SetDefault("zone.hourly_cents", 0)
	v.SetDefault("zone.daily_max_cents", 0)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config, e.g. LPR_SERVER_PORT.
	v.SetEnvPrefix("LPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
