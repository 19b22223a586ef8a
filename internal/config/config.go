package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int     `mapstructure:"port"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // mysql | postgres
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	SlowThresholdMS int    `mapstructure:"slow_threshold_ms"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Receivable string `mapstructure:"receivable"`
	Credit     string `mapstructure:"credit"`
	Request    string `mapstructure:"request"`
}

type BusinessConfig struct {
	NodeID              int64  `mapstructure:"node_id"`
	MaxRetryCount       int    `mapstructure:"max_retry_count"`
	LockRetryAttempts   int    `mapstructure:"lock_retry_attempts"`
	ReconcileCron       string `mapstructure:"reconcile_cron"`
	BalanceCacheSeconds int    `mapstructure:"balance_cache_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_sec", 50)
	v.SetDefault("server.rate_limit_burst", 100)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "gymledger")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.slow_threshold_ms", 200)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.receivable", "gymledger.receivable")
	v.SetDefault("kafka.topic.credit", "gymledger.credit")
	v.SetDefault("kafka.topic.request", "gymledger.request")

	v.SetDefault("business.node_id", 1)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.lock_retry_attempts", 3)
	v.SetDefault("business.reconcile_cron", "@every 15m")
	v.SetDefault("business.balance_cache_seconds", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the yaml file at configPath, overlaying GYMLEDGER_* environment variables
// (GYMLEDGER_DATABASE_PASSWORD overrides database.password). A missing file is not an
// error: defaults and environment are enough to boot.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GYMLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// SetConfigFile surfaces a missing file as *fs.PathError, not ConfigFileNotFoundError.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Business.LockRetryAttempts < 1 {
		return fmt.Errorf("config: business.lock_retry_attempts must be >= 1")
	}
	if c.Business.NodeID < 0 || c.Business.NodeID > 1023 {
		return fmt.Errorf("config: business.node_id must be within 0-1023")
	}
	return nil
}
