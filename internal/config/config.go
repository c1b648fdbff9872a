// Package config loads runtime settings from an optional YAML file with
// environment overrides on top. Secrets (SMTP password, bot token) are
// expected from the environment so config files stay safe to commit.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddr        = ":8080"
	defaultDBPath      = "keepalive.db"
	defaultTick        = time.Minute
	defaultConcurrency = 4
	defaultRateLimit   = 60
	defaultRateWindow  = time.Minute
	defaultSendRate    = 3
	defaultSMTPPort    = 587
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Batch     BatchConfig     `yaml:"batch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BatchConfig controls the tick loop. Tick is a Go duration string
// (e.g. "30s", "5m").
type BatchConfig struct {
	Tick        string `yaml:"tick"`
	Concurrency int    `yaml:"concurrency"`
}

// RateLimitConfig gates inbound API traffic. Window is a Go duration string.
// When RedisURL is set the window counters live in Redis and survive restarts.
type RateLimitConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Requests int    `yaml:"requests"`
	Window   string `yaml:"window"`
	RedisURL string `yaml:"redis_url"`
}

type ChannelsConfig struct {
	SendRatePerSec int            `yaml:"send_rate_per_sec"`
	Email          EmailConfig    `yaml:"email"`
	Telegram       TelegramConfig `yaml:"telegram"`
}

type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Configured reports whether the email channel can be registered.
func (e EmailConfig) Configured() bool {
	return e.Host != "" && e.From != ""
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

func (t TelegramConfig) Configured() bool {
	return t.Token != ""
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: defaultAddr},
		Database:  DatabaseConfig{Path: defaultDBPath},
		Batch:     BatchConfig{Tick: defaultTick.String(), Concurrency: defaultConcurrency},
		RateLimit: RateLimitConfig{Enabled: true, Requests: defaultRateLimit, Window: defaultRateWindow.String()},
		Channels: ChannelsConfig{
			SendRatePerSec: defaultSendRate,
			Email:          EmailConfig{Port: defaultSMTPPort},
		},
		Logging: LoggingConfig{Level: "info", Pretty: true},
	}
}

// Load reads the YAML file at path when it exists, applies environment
// overrides, and validates the result. An empty path or a missing file
// yields the defaults, still subject to the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// run on defaults
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(b))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KEEPALIVE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("KEEPALIVE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("KEEPALIVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RateLimit.RedisURL = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.Channels.Email.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: invalid port %q", v)
		}
		c.Channels.Email.Port = p
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Channels.Email.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Channels.Email.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.Channels.Email.From = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Channels.Telegram.Token = v
	}
	return nil
}

func (c Config) validate() error {
	if _, err := parseDuration("batch.tick", c.Batch.Tick); err != nil {
		return err
	}
	if _, err := parseDuration("rate_limit.window", c.RateLimit.Window); err != nil {
		return err
	}
	if c.RateLimit.Enabled && c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests: must be > 0 when enabled")
	}
	if c.Channels.Email.Host != "" {
		if p := c.Channels.Email.Port; p < 1 || p > 65535 {
			return fmt.Errorf("channels.email.port: %d out of range", p)
		}
	}
	return nil
}

// TickInterval returns the parsed batch tick, defaulting when unset.
func (c Config) TickInterval() time.Duration {
	return durationOrDefault(c.Batch.Tick, defaultTick)
}

// RateWindow returns the parsed rate-limit window, defaulting when unset.
func (c Config) RateWindow() time.Duration {
	return durationOrDefault(c.RateLimit.Window, defaultRateWindow)
}

func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

func durationOrDefault(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d == 0 {
		return def
	}
	return d
}
