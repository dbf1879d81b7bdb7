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
	Database  DatabaseConfig  `mapstructure:"database"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
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

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Backend         string `mapstructure:"backend"` // "memory" or "postgres"
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// BrokerConfig selects the progress event transport.
type BrokerConfig struct {
	Backend   string `mapstructure:"backend"` // "memory" or "pubsub"
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BrowserConfig governs page fetching and rendering.
type BrowserConfig struct {
	Backend       string `mapstructure:"backend"` // "static" or "headless"
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	Headless      bool   `mapstructure:"headless"`
}

// WorkerConfig tunes the task pool and retry behavior.
type WorkerConfig struct {
	Workers              int `mapstructure:"workers"`
	QueueDepth           int `mapstructure:"queue_depth"`
	MaxAttempts          int `mapstructure:"max_attempts"`
	RunRetryDelaySeconds int `mapstructure:"run_retry_delay_seconds"`
	URLRetryDelaySeconds int `mapstructure:"url_retry_delay_seconds"`
}

// SchedulerConfig toggles cron-driven runs.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_lifetime_minutes", 30)
	v.SetDefault("broker.backend", "memory")
	v.SetDefault("browser.backend", "static")
	v.SetDefault("browser.user_agent", "scrapewizard-bot/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("browser.headless", true)
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.run_retry_delay_seconds", 60)
	v.SetDefault("worker.url_retry_delay_seconds", 30)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when backend is postgres")
		}
	default:
		return fmt.Errorf("database.backend must be memory or postgres")
	}
	switch c.Broker.Backend {
	case "memory":
	case "pubsub":
		if c.Broker.ProjectID == "" || c.Broker.TopicName == "" {
			return fmt.Errorf("broker.project_id and broker.topic_name must be set when backend is pubsub")
		}
	default:
		return fmt.Errorf("broker.backend must be memory or pubsub")
	}
	switch c.Browser.Backend {
	case "static", "headless":
	default:
		return fmt.Errorf("browser.backend must be static or headless")
	}
	if c.Worker.Workers <= 0 {
		return fmt.Errorf("worker.workers must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RunRetryDelay converts the run retry setting into a duration.
func (c Config) RunRetryDelay() time.Duration {
	return time.Duration(c.Worker.RunRetryDelaySeconds) * time.Second
}

// URLRetryDelay converts the URL retry setting into a duration.
func (c Config) URLRetryDelay() time.Duration {
	return time.Duration(c.Worker.URLRetryDelaySeconds) * time.Second
}

// ServerTimeout converts the server timeout setting into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// NavTimeout converts the browser navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}
