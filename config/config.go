package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chilla55/backup-dashboard/ratelimit"
	"github.com/chilla55/backup-dashboard/webhook"
)

// Config holds the dashboard configuration
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	Polling  PollingConfig  `yaml:"polling"`
	Display  DisplayConfig  `yaml:"display"`
	Server   ServerConfig   `yaml:"server"`
	Webhooks webhook.Config `yaml:"webhooks"`
}

// UpstreamConfig describes the monitoring API the dashboard polls
type UpstreamConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"` // Default: 15s
	Retries int           `yaml:"retries,omitempty"` // Default: 2
}

// PollingConfig controls how often the snapshot is refreshed
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval,omitempty"`     // Default: 30s
	MinInterval time.Duration `yaml:"min_interval,omitempty"` // Default: 10s
	IdleAfter   time.Duration `yaml:"idle_after,omitempty"`   // 0 keeps polling without viewers
}

// DisplayConfig controls card and detail page rendering
type DisplayConfig struct {
	Title            string        `yaml:"title,omitempty"`
	RecentDots       int           `yaml:"recent_dots,omitempty"`     // Default: 12
	StaleAfter       time.Duration `yaml:"stale_after,omitempty"`     // Default: 24h
	ModalPageSize    int           `yaml:"modal_page_size,omitempty"` // Default: 10
	NaiveOffsetHours int           `yaml:"naive_offset_hours"`
	Timezone         string        `yaml:"timezone,omitempty"` // Default: host local zone
}

// ServerConfig holds the dashboard HTTP listener settings
type ServerConfig struct {
	Listen      string           `yaml:"listen,omitempty"` // Default: :8080
	Compression *bool            `yaml:"compression,omitempty"`
	ReadTimeout time.Duration    `yaml:"read_timeout,omitempty"`
	RateLimit   ratelimit.Config `yaml:"rate_limit"` // Per-client limit on routes that reach the upstream
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults
func (c *Config) ApplyDefaults() {
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = 15 * time.Second
	}
	if c.Upstream.Retries <= 0 {
		c.Upstream.Retries = 2
	}

	if c.Polling.Interval <= 0 {
		c.Polling.Interval = 30 * time.Second
	}
	if c.Polling.MinInterval <= 0 {
		c.Polling.MinInterval = 10 * time.Second
	}

	if c.Display.Title == "" {
		c.Display.Title = "Monitor de Backups"
	}
	if c.Display.RecentDots <= 0 {
		c.Display.RecentDots = 12
	}
	if c.Display.StaleAfter <= 0 {
		c.Display.StaleAfter = 24 * time.Hour
	}
	if c.Display.ModalPageSize <= 0 {
		c.Display.ModalPageSize = 10
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Compression == nil {
		enabled := true
		c.Server.Compression = &enabled
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
}

// Load loads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.url must be http or https, got %q", u.Scheme)
	}

	if c.Polling.MinInterval > c.Polling.Interval {
		return fmt.Errorf("polling.min_interval (%s) exceeds polling.interval (%s)", c.Polling.MinInterval, c.Polling.Interval)
	}

	if c.Display.RecentDots > 50 {
		return fmt.Errorf("display.recent_dots must be at most 50, got %d", c.Display.RecentDots)
	}
	if c.Display.ModalPageSize < 10 || c.Display.ModalPageSize > 100 {
		return fmt.Errorf("display.modal_page_size must be between 10 and 100, got %d", c.Display.ModalPageSize)
	}
	if c.Display.NaiveOffsetHours < -14 || c.Display.NaiveOffsetHours > 14 {
		return fmt.Errorf("display.naive_offset_hours must be between -14 and 14, got %d", c.Display.NaiveOffsetHours)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Server.RateLimit.RequestsPerMin < 0 || c.Server.RateLimit.BurstSize < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}

	for i, wh := range c.Webhooks.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
	}

	return nil
}

// Location resolves display.timezone, defaulting to the host local zone
func (c *Config) Location() (*time.Location, error) {
	if c.Display.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display.timezone: %w", err)
	}
	return loc, nil
}

// CompressionEnabled reports whether responses should be compressed
func (c *Config) CompressionEnabled() bool {
	return c.Server.Compression == nil || *c.Server.Compression
}
