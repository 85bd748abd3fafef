// Package config loads parkflow configuration.
//
// Sources, later ones winning:
//  1. built-in defaults
//  2. an optional YAML file
//  3. PARKFLOW_* environment variables (a .env file in the working
//     directory is loaded into the environment first, when present)
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PARKFLOW_"

const (
	defaultInterval       = 180 * time.Second
	defaultFeedTimeout    = 30 * time.Second
	defaultTimeZone       = "Europe/London"
	defaultSource         = "parkflow-transform/v1"
	defaultPartitions     = 1
	defaultQueueSize      = 256
	defaultChatURL        = "https://api.telegram.org"
	defaultAlertAttempts  = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultChatRate       = 1.0
	defaultExportTimeout  = 10 * time.Second
	defaultAddr           = ":8080"
)

// Config is the full runtime configuration.
type Config struct {
	Database      DatabaseConfig     `yaml:"database" envPrefix:"DATABASE_"`
	Feed          FeedConfig         `yaml:"feed" envPrefix:"FEED_"`
	Log           LogConfig          `yaml:"log" envPrefix:"LOG_"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions" envPrefix:"SUBSCRIPTIONS_"`
	Alerts        AlertsConfig       `yaml:"alerts" envPrefix:"ALERTS_"`
	Export        ExportConfig       `yaml:"export" envPrefix:"EXPORT_"`
	Server        ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Telemetry     TelemetryConfig    `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// DatabaseConfig locates the SQLite database. An empty path keeps logs and
// state in memory.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// FeedConfig describes the polled feed and how its rows are read.
type FeedConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	TimeZone string        `yaml:"time_zone" env:"TIME_ZONE"`
	Source   string        `yaml:"source" env:"SOURCE"` // lineage tag
	Dedup    bool          `yaml:"dedup" env:"DEDUP"`
}

// LogConfig tunes the raw and event logs.
type LogConfig struct {
	Partitions int `yaml:"partitions" env:"PARTITIONS"`
}

// SubscriptionConfig tunes live subscriptions.
type SubscriptionConfig struct {
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// AlertsConfig configures chat notifications. Alerts are off without a
// rules file.
type AlertsConfig struct {
	RulesFile      string        `yaml:"rules_file" env:"RULES_FILE"`
	ChatURL        string        `yaml:"chat_url" env:"CHAT_URL"`
	ChatToken      string        `yaml:"chat_token" env:"CHAT_TOKEN"`
	ChatID         string        `yaml:"chat_id" env:"CHAT_ID"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	RatePerSecond  float64       `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
}

// ExportConfig configures sink exporters. Each is off when its URL is empty.
type ExportConfig struct {
	PostgresURL string        `yaml:"postgres_url" env:"POSTGRES_URL"`
	WebhookURL  string        `yaml:"webhook_url" env:"WEBHOOK_URL"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"` // 0 = until success
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig configures tracing. Tracing is off without an endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyDefaults fills every zero setting that has a default.
func (c *Config) applyDefaults() {
	if c.Feed.Interval == 0 {
		c.Feed.Interval = defaultInterval
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = defaultFeedTimeout
	}
	if c.Feed.TimeZone == "" {
		c.Feed.TimeZone = defaultTimeZone
	}
	if c.Feed.Source == "" {
		c.Feed.Source = defaultSource
	}
	if c.Log.Partitions == 0 {
		c.Log.Partitions = defaultPartitions
	}
	if c.Subscriptions.QueueSize == 0 {
		c.Subscriptions.QueueSize = defaultQueueSize
	}
	if c.Alerts.ChatURL == "" {
		c.Alerts.ChatURL = defaultChatURL
	}
	if c.Alerts.MaxAttempts == 0 {
		c.Alerts.MaxAttempts = defaultAlertAttempts
	}
	if c.Alerts.InitialBackoff == 0 {
		c.Alerts.InitialBackoff = defaultInitialBackoff
	}
	if c.Alerts.MaxBackoff == 0 {
		c.Alerts.MaxBackoff = defaultMaxBackoff
	}
	if c.Alerts.RatePerSecond == 0 {
		c.Alerts.RatePerSecond = defaultChatRate
	}
	if c.Export.Timeout == 0 {
		c.Export.Timeout = defaultExportTimeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Feed.URL) == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if c.Feed.Interval < 0 {
		errs = append(errs, fmt.Errorf("feed.interval must be positive, got %s", c.Feed.Interval))
	}
	if c.Feed.Timeout < 0 {
		errs = append(errs, fmt.Errorf("feed.timeout must be positive, got %s", c.Feed.Timeout))
	}
	if _, err := time.LoadLocation(c.Feed.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("feed.time_zone: %w", err))
	}
	if c.Log.Partitions < 1 {
		errs = append(errs, fmt.Errorf("log.partitions must be at least 1, got %d", c.Log.Partitions))
	}
	if c.Subscriptions.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("subscriptions.queue_size must be at least 1, got %d", c.Subscriptions.QueueSize))
	}
	// Rules without a chat token are allowed; the pipeline disables alerts.
	if c.Alerts.RulesFile != "" && c.Alerts.ChatToken != "" && c.Alerts.ChatID == "" {
		errs = append(errs, errors.New("alerts.chat_id is required with a chat token"))
	}
	if c.Alerts.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("alerts.max_attempts must be at least 1, got %d", c.Alerts.MaxAttempts))
	}
	if c.Export.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("export.max_attempts must not be negative, got %d", c.Export.MaxAttempts))
	}

	return errors.Join(errs...)
}
