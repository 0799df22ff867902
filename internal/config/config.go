// Package config loads and validates the server configuration. Precedence
// is defaults, then an optional config file, then CHAMAHUB_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration tree.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BrokerConfig bounds the broker's per-room logs and delivery behavior.
type BrokerConfig struct {
	ChannelBuffer        int `mapstructure:"channel_buffer"`
	MessageCapacity      int `mapstructure:"message_capacity"`
	ProposalCapacity     int `mapstructure:"proposal_capacity"`
	AnnouncementCapacity int `mapstructure:"announcement_capacity"`
	RateLimitPerMinute   int `mapstructure:"rate_limit_per_minute"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads the configuration. path names an explicit config file; when
// empty, loading proceeds with defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("broker.channel_buffer", 256)
	v.SetDefault("broker.message_capacity", 1000)
	v.SetDefault("broker.proposal_capacity", 200)
	v.SetDefault("broker.announcement_capacity", 200)
	v.SetDefault("broker.rate_limit_per_minute", 100)

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.read_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("CHAMAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http write timeout must be positive")
	}

	if c.Broker.ChannelBuffer <= 0 {
		return fmt.Errorf("broker channel buffer must be positive")
	}
	if c.Broker.MessageCapacity <= 0 {
		return fmt.Errorf("broker message capacity must be positive")
	}
	if c.Broker.ProposalCapacity <= 0 {
		return fmt.Errorf("broker proposal capacity must be positive")
	}
	if c.Broker.AnnouncementCapacity <= 0 {
		return fmt.Errorf("broker announcement capacity must be positive")
	}
	if c.Broker.RateLimitPerMinute < 0 {
		return fmt.Errorf("broker rate limit cannot be negative")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("websocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
