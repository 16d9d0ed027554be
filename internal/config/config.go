package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete relay service configuration. Values come from
// an optional YAML file with environment variables layered on top, so
// credentials never need to live in a committed file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// UpstreamConfig describes the recognition service the relay dials.
type UpstreamConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ResourceID  string `yaml:"resource_id"`
	AppKey      string `yaml:"app_key"`
	AccessKey   string `yaml:"access_key"`
	DialTimeout int    `yaml:"dial_timeout"` // seconds
}

// RelayConfig tunes the relay session behavior.
type RelayConfig struct {
	// AuthSecret enables the bearer token gate on the websocket
	// endpoint when non-empty.
	AuthSecret string `yaml:"auth_secret"`

	// PendingFrames bounds how many caller frames are buffered while
	// the upstream dial is still in flight.
	PendingFrames int `yaml:"pending_frames"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			Address: "0.0.0.0",
		},
		Upstream: UpstreamConfig{
			Endpoint:    "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel",
			ResourceID:  "volc.bigasr.sauc.duration",
			DialTimeout: 10,
		},
		Relay: RelayConfig{
			PendingFrames: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from an optional YAML file path and
// the environment. An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envOrDefaultInt("PORT", c.Server.Port)
	c.Upstream.Endpoint = envOrDefault("ASR_ENDPOINT", c.Upstream.Endpoint)
	c.Upstream.ResourceID = envOrDefault("ASR_RESOURCE_ID", c.Upstream.ResourceID)
	c.Upstream.AppKey = envOrDefault("ASR_APP_KEY", c.Upstream.AppKey)
	c.Upstream.AccessKey = envOrDefault("ASR_ACCESS_KEY", c.Upstream.AccessKey)
	c.Relay.AuthSecret = envOrDefault("ASR_RELAY_SECRET", c.Relay.AuthSecret)
	c.Logging.Level = envOrDefault("LOG_LEVEL", c.Logging.Level)
}

// Validate checks every section. Upstream credentials are deliberately
// not required here: the relay reports their absence per request so
// the process can still boot for health checks.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

func (u *UpstreamConfig) Validate() error {
	if u.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.HasPrefix(u.Endpoint, "ws://") && !strings.HasPrefix(u.Endpoint, "wss://") {
		return fmt.Errorf("endpoint must be a ws:// or wss:// URL, got %s", u.Endpoint)
	}
	if u.ResourceID == "" {
		return fmt.Errorf("resource_id cannot be empty")
	}
	if u.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", u.DialTimeout)
	}
	return nil
}

func (r *RelayConfig) Validate() error {
	if r.PendingFrames < 1 {
		return fmt.Errorf("pending_frames must be at least 1, got %d", r.PendingFrames)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	return nil
}

// HasCredentials reports whether both upstream credentials are set.
func (u *UpstreamConfig) HasCredentials() bool {
	return u.AppKey != "" && u.AccessKey != ""
}

// GetDialTimeoutDuration returns the upstream dial timeout as a
// time.Duration.
func (u *UpstreamConfig) GetDialTimeoutDuration() time.Duration {
	return time.Duration(u.DialTimeout) * time.Second
}

// ListenAddress returns the host:port string for the HTTP listener.
func (s *ServerConfig) ListenAddress() string {
	return s.Address + ":" + strconv.Itoa(s.Port)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
