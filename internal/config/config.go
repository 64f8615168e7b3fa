package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	APIKey         string   `yaml:"api_key"`         // empty disables auth
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins for the admin console
}

// DatabaseConfig contains the SQLite database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig contains job queue storage settings
type QueueConfig struct {
	Path string `yaml:"path"` // bbolt file for job state
}

// WorkerConfig contains dispatch worker pool settings
type WorkerConfig struct {
	Workers         int           `yaml:"workers"`          // jobs processed in parallel
	SendConcurrency int           `yaml:"send_concurrency"` // mailer calls in flight per job
	PollInterval    time.Duration `yaml:"poll_interval"`
	SendTimeout     time.Duration `yaml:"send_timeout"` // per mailer call
	SendRetries     int           `yaml:"send_retries"` // attempts per recipient
}

// MailerConfig contains the mail relay settings
type MailerConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	FromEmail string        `yaml:"from_email"`
	FromName  string        `yaml:"from_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/mailroom/mailroom.db"
	}
	if c.Queue.Path == "" {
		c.Queue.Path = "/var/lib/mailroom/queue.db"
	}
	if c.Worker.Workers <= 0 {
		c.Worker.Workers = 2
	}
	if c.Worker.SendConcurrency <= 0 {
		c.Worker.SendConcurrency = 5
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.SendTimeout <= 0 {
		c.Worker.SendTimeout = 30 * time.Second
	}
	if c.Worker.SendRetries <= 0 {
		c.Worker.SendRetries = 2
	}
	if c.Mailer.Timeout <= 0 {
		c.Mailer.Timeout = 30 * time.Second
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval <= 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Mailer.BaseURL == "" {
		return fmt.Errorf("mailer.base_url is required")
	}
	if c.Mailer.FromEmail == "" {
		return fmt.Errorf("mailer.from_email is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
