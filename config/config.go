// Package config loads the game server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyberinferno/go-gamenet/logger"
)

// Presence backends.
const (
	PresenceNone   = "none"
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Presence PresenceConfig `yaml:"presence"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the TCP and UDP endpoints and session behaviour.
type ServerConfig struct {
	Name             string        `yaml:"name"`
	TCPAddress       string        `yaml:"tcp_address"`
	UDPAddress       string        `yaml:"udp_address"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	UDPBufferSize    int           `yaml:"udp_buffer_size"`
	UDPIDAttempts    int           `yaml:"udp_id_attempts"`
	UDPLane          string        `yaml:"udp_lane"`
}

// PresenceConfig selects and configures the presence directory.
type PresenceConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns a configuration usable without a file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:             "gameserver",
			TCPAddress:       "0.0.0.0:7777",
			UDPAddress:       "0.0.0.0:7778",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			UDPBufferSize:    64 * 1024,
			UDPIDAttempts:    64,
			UDPLane:          "udp_calls",
		},
		Presence: PresenceConfig{
			Backend: PresenceNone,
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9100",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path and overlays it on Default. Durations use Go syntax
// ("10s", "1m30s").
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - The validated configuration
//   - An error if the file cannot be read, parsed or validated
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML data on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Presence.Validate(); err != nil {
		return fmt.Errorf("presence config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate checks the server section.
func (s *ServerConfig) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}

	if err := validateAddress(s.TCPAddress); err != nil {
		return fmt.Errorf("tcp_address: %w", err)
	}

	if err := validateAddress(s.UDPAddress); err != nil {
		return fmt.Errorf("udp_address: %w", err)
	}

	if s.HandshakeTimeout < 0 || s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}

	if s.UDPBufferSize < 3 || s.UDPBufferSize > 65535 {
		return fmt.Errorf("udp_buffer_size must be between 3 and 65535, got %d", s.UDPBufferSize)
	}

	if s.UDPIDAttempts < 1 {
		return fmt.Errorf("udp_id_attempts must be positive, got %d", s.UDPIDAttempts)
	}

	if s.UDPLane == "" {
		return errors.New("udp_lane is required")
	}

	return nil
}

// Validate checks the presence section.
func (p *PresenceConfig) Validate() error {
	switch p.Backend {
	case "", PresenceNone, PresenceMemory:
	case PresenceRedis:
		if p.RedisAddress == "" {
			return errors.New("redis_address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", p.Backend)
	}

	if p.TTL < 0 {
		return errors.New("ttl must not be negative")
	}

	if p.RedisDB < 0 {
		return fmt.Errorf("redis_db must not be negative, got %d", p.RedisDB)
	}

	return nil
}

// Validate checks the metrics section.
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if err := validateAddress(m.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}

	if m.Path == "" || m.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got %q", m.Path)
	}

	return nil
}

// Validate checks the logging section.
func (l *LoggingConfig) Validate() error {
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return err
	}

	return nil
}

func validateAddress(addr string) error {
	if addr == "" {
		return errors.New("address is required")
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}

	return nil
}
