package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageMongoDB = "mongodb"
	StorageMemory  = "memory"
)

// Config holds all configuration for the reconciliation service.
type Config struct {
	HTTPAddr            string        `mapstructure:"http_addr"`
	LogLevel            string        `mapstructure:"log_level"`
	LogPretty           bool          `mapstructure:"log_pretty"`
	StorageBackend      string        `mapstructure:"storage_backend"`
	MongoURI            string        `mapstructure:"mongo_uri"`
	MongoDBName         string        `mapstructure:"mongo_db_name"`
	RedisAddr           string        `mapstructure:"redis_addr"`
	RedisChannelPrefix  string        `mapstructure:"redis_channel_prefix"`
	OtelServiceName     string        `mapstructure:"otel_service_name"`
	DefaultLinkCacheTTL time.Duration `mapstructure:"default_link_cache_ttl"`
}

// LoadConfig reads configuration from file, LINKSYNC_* environment
// variables and defaults. A non-empty configFile replaces the search paths.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("linksync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/linksync/")
		v.AddConfigPath("$HOME/.linksync")
	}

	v.SetEnvPrefix("LINKSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("storage_backend", StorageMongoDB)
	v.SetDefault("mongo_uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("mongo_db_name", "linksync")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_channel_prefix", "linksync")
	v.SetDefault("otel_service_name", "linksync")
	v.SetDefault("default_link_cache_ttl", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMongoDB:
		if c.MongoURI == "" || c.MongoDBName == "" {
			return errors.New("mongodb storage requires mongo_uri and mongo_db_name")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	if c.DefaultLinkCacheTTL < 0 {
		return errors.New("default_link_cache_ttl must not be negative")
	}
	return nil
}
