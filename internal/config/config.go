// Package config loads webtics settings from defaults, an optional YAML file
// and WEBTICS_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// WEBTICS_BEACON_HOST for beacon.host.
const EnvPrefix = "WEBTICS"

type Config struct {
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
	Beacon    BeaconConfig    `mapstructure:"beacon" yaml:"beacon"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CollectorConfig holds the /track receiver settings.
type CollectorConfig struct {
	Address       string        `mapstructure:"address" yaml:"address"`
	DatabasePath  string        `mapstructure:"database_path" yaml:"database_path"` // empty: platform data dir
	StaticDir     string        `mapstructure:"static_dir" yaml:"static_dir"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// BeaconConfig holds emitter settings.
type BeaconConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
}

// RedisConfig configures the collector's per-client rate limiter.
type RedisConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Limit   int           `mapstructure:"limit" yaml:"limit"`
	Window  time.Duration `mapstructure:"window" yaml:"window"`
}

// NATSConfig configures forwarding of accepted events.
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Subject       string        `mapstructure:"subject" yaml:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration. configFile may be empty, in which case
// $WEBTICS_CONFIG_DIR/config.yaml is tried and silently skipped if absent.
// An explicitly named file must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := configFile != ""
	if !explicit {
		configDir := os.Getenv("WEBTICS_CONFIG_DIR")
		if configDir == "" {
			configDir = "."
		}
		configFile = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
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

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("collector.address", "127.0.0.1:8080")
	v.SetDefault("collector.database_path", "")
	v.SetDefault("collector.static_dir", "")
	v.SetDefault("collector.max_body_bytes", 64*1024)
	v.SetDefault("collector.stats_interval", "1m")
	v.SetDefault("collector.read_timeout", "5s")
	v.SetDefault("collector.write_timeout", "5s")

	v.SetDefault("beacon.host", "http://localhost:8080")
	v.SetDefault("beacon.timeout", "10s")
	v.SetDefault("beacon.max_payload_bytes", 64*1024)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.limit", 600)
	v.SetDefault("redis.window", "1m")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.subject", "webtics.events")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects settings that would make the services unusable.
func (c *Config) Validate() error {
	if c.Beacon.Host == "" {
		return errors.New("beacon.host must not be empty")
	}
	if c.Collector.Address == "" {
		return errors.New("collector.address must not be empty")
	}
	if c.Collector.MaxBodyBytes <= 0 {
		return fmt.Errorf("collector.max_body_bytes must be positive, got %d", c.Collector.MaxBodyBytes)
	}
	if c.Redis.Enabled && c.Redis.Limit <= 0 {
		return fmt.Errorf("redis.limit must be positive when rate limiting is enabled, got %d", c.Redis.Limit)
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		return errors.New("nats.subject must not be empty when forwarding is enabled")
	}
	return nil
}
