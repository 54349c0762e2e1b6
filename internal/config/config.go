// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	DB        DBConfig        `mapstructure:"db"`
	LocalFS   LocalFSConfig   `mapstructure:"localfs"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs crawl engine behavior.
type CrawlerConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	FetchTimeoutSeconds   int    `mapstructure:"fetch_timeout_seconds"`
	HardMaxPages          int    `mapstructure:"hard_max_pages"`
	HardTimeoutSeconds    int    `mapstructure:"hard_timeout_seconds"`
	QueueDepth            int    `mapstructure:"queue_depth"`
	DefaultMaxDepth       int    `mapstructure:"default_max_depth"`
	RetainPages           bool   `mapstructure:"retain_pages"`
	HealthCheckTTLSeconds int    `mapstructure:"health_check_ttl_seconds"`
}

// DBConfig controls access to the primary Postgres store. An empty DSN means
// the service runs on the local fallback store only.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// LocalFSConfig points at the fallback JSON document store.
type LocalFSConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig sets up raw page retention.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for crawl event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DiscoveryConfig controls the re-discovery queue.
type DiscoveryConfig struct {
	QueueDepth int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("crawler.user_agent", "leadharvest-bot/0.1")
	v.SetDefault("crawler.fetch_timeout_seconds", 15)
	v.SetDefault("crawler.hard_max_pages", 50)
	v.SetDefault("crawler.hard_timeout_seconds", 120)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.default_max_depth", 1)
	v.SetDefault("crawler.retain_pages", false)
	v.SetDefault("crawler.health_check_ttl_seconds", 30)
	v.SetDefault("localfs.base_dir", ".local-data")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("discovery.queue_depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Crawler.HardMaxPages <= 0 {
		return fmt.Errorf("crawler.hard_max_pages must be > 0")
	}
	if c.Crawler.HardTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.hard_timeout_seconds must be > 0")
	}
	if c.LocalFS.BaseDir == "" {
		return fmt.Errorf("localfs.base_dir must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout returns the per-page fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSeconds) * time.Second
}

// HardTimeout returns the wall-clock budget for one whole crawl.
func (c Config) HardTimeout() time.Duration {
	return time.Duration(c.Crawler.HardTimeoutSeconds) * time.Second
}

// HealthCheckTTL returns how long a store health probe stays cached.
func (c Config) HealthCheckTTL() time.Duration {
	return time.Duration(c.Crawler.HealthCheckTTLSeconds) * time.Second
}

// ServerTimeout returns the HTTP request timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
