// ABOUTME: Configuration loading and parsing for ble-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultPort         = 8765
	DefaultServerName   = "ble-gateway"
	DefaultWriteTimeout = 10 * time.Second
)

// Auth modes
const (
	AuthModeSecret = "secret"
	AuthModeBcrypt = "bcrypt"
	AuthModeJWT    = "jwt"
)

// Environment overrides
const (
	EnvConfigPath = "BLE_GATEWAY_CONFIG"
	EnvPort       = "BLE_GATEWAY_PORT"
	EnvSecret     = "BLE_GATEWAY_SECRET"
)

// Config represents the complete ble-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Executions ExecutionsConfig `yaml:"executions" toml:"executions"`
	Journal    JournalConfig    `yaml:"journal" toml:"journal"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	BLE        BLEConfig        `yaml:"ble" toml:"ble"`
}

// ServerConfig holds the MCP listener configuration
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
	Name string `yaml:"name" toml:"name"` // reported in the handshake

	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout" toml:"write_timeout"`
}

// AuthConfig holds the shared secret. An empty secret disables authentication.
type AuthConfig struct {
	Secret string `yaml:"secret" toml:"secret"`
	Mode   string `yaml:"mode" toml:"mode"` // secret, bcrypt, jwt
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// ExecutionsConfig controls execution record retention.
// MaxRetained of zero keeps every record for the life of the process.
type ExecutionsConfig struct {
	MaxRetained int `yaml:"max_retained" toml:"max_retained"`
}

// JournalConfig holds the optional execution journal location
type JournalConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// BLEConfig describes the devices exposed by the simulated BLE manager
type BLEConfig struct {
	Devices []DeviceConfig `yaml:"devices" toml:"devices"`
}

// DeviceConfig describes one peripheral
type DeviceConfig struct {
	ID       string          `yaml:"id" toml:"id"`
	Name     string          `yaml:"name" toml:"name"`
	RSSI     int             `yaml:"rssi" toml:"rssi"`
	Services []ServiceConfig `yaml:"services" toml:"services"`
}

// ServiceConfig describes one GATT service
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid" toml:"uuid"`
	Characteristics []CharacteristicConfig `yaml:"characteristics" toml:"characteristics"`
}

// CharacteristicConfig describes one GATT characteristic
type CharacteristicConfig struct {
	UUID       string   `yaml:"uuid" toml:"uuid"`
	Properties []string `yaml:"properties" toml:"properties"` // read, write, write_without_response, notify
	Value      string   `yaml:"value" toml:"value"`

	NotifyInterval    time.Duration `yaml:"-" toml:"-"`
	NotifyIntervalRaw string        `yaml:"notify_interval" toml:"notify_interval"`
}

// Addr returns the host:port the listener binds.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// LoadOrDefault behaves like Load but falls back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(&Config{})
}

// finish applies defaults and overrides, parses durations, and validates.
func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = DefaultServerName
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeSecret
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Tailscale.Enabled && cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = DefaultServerName
	}
	if cfg.Server.WriteTimeoutRaw == "" {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
}

// applyEnvOverrides lets deployments set the port and secret without editing the file.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvSecret); v != "" {
		cfg.Auth.Secret = v
	}
	return nil
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Auth.Mode {
	case AuthModeSecret:
	case AuthModeBcrypt, AuthModeJWT:
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth.secret is required when auth.mode is %q", c.Auth.Mode)
		}
	default:
		return fmt.Errorf("auth.mode %q is not one of secret, bcrypt, jwt", c.Auth.Mode)
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Executions.MaxRetained < 0 {
		return fmt.Errorf("executions.max_retained must not be negative")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.BLE.Devices))
	for i, dev := range c.BLE.Devices {
		if dev.ID == "" {
			return fmt.Errorf("ble.devices[%d].id is required", i)
		}
		if seen[dev.ID] {
			return fmt.Errorf("ble.devices[%d].id %q is duplicated", i, dev.ID)
		}
		seen[dev.ID] = true
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.WriteTimeoutRaw != "" {
		cfg.Server.WriteTimeout, err = time.ParseDuration(cfg.Server.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Server.WriteTimeoutRaw, err)
		}
	}

	for d := range cfg.BLE.Devices {
		for s := range cfg.BLE.Devices[d].Services {
			chars := cfg.BLE.Devices[d].Services[s].Characteristics
			for c := range chars {
				if chars[c].NotifyIntervalRaw == "" {
					continue
				}
				chars[c].NotifyInterval, err = time.ParseDuration(chars[c].NotifyIntervalRaw)
				if err != nil {
					return fmt.Errorf("parsing notify_interval %q: %w", chars[c].NotifyIntervalRaw, err)
				}
			}
		}
	}

	return nil
}
