package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/soundlink/internal/device"
	goble "github.com/srg/soundlink/internal/device/go-ble"
	"github.com/srg/soundlink/internal/device/wsnet"
	"github.com/srg/soundlink/internal/devicefactory"
	"github.com/srg/soundlink/internal/discovery"
	"github.com/srg/soundlink/pkg/connection"
)

// RadioConfig selects the GATT service and characteristics carrying the stream
type RadioConfig struct {
	ServiceUUID    string `yaml:"service_uuid" env:"SERVICE_UUID" default:"6e400001-b5a3-f393-e0a9-e50e24dcca9e"`
	NotifyCharUUID string `yaml:"notify_char_uuid" env:"NOTIFY_CHAR_UUID" default:"6e400003-b5a3-f393-e0a9-e50e24dcca9e"`
	WriteCharUUID  string `yaml:"write_char_uuid" env:"WRITE_CHAR_UUID" default:"6e400002-b5a3-f393-e0a9-e50e24dcca9e"`
}

// NetworkConfig describes the local-network fallback
type NetworkConfig struct {
	Port         int           `yaml:"port" env:"PORT" default:"81"`
	Path         string        `yaml:"path" env:"PATH" default:"/"`
	Hosts        []string      `yaml:"hosts" env:"HOSTS"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT" default:"800ms"`
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" default:"10s"`
	DefaultName  string        `yaml:"default_name" env:"DEFAULT_NAME" default:"SHIELD"`
}

// Config holds application configuration
type Config struct {
	LogLevel             string        `yaml:"log_level" env:"SOUNDLINK_LOG_LEVEL" default:"panic"` // silent unless asked
	Transport            string        `yaml:"transport" env:"SOUNDLINK_TRANSPORT" default:"auto"`
	TargetName           string        `yaml:"target_name" env:"SOUNDLINK_TARGET_NAME" default:"SHIELD"`
	NamePrefix           string        `yaml:"name_prefix" env:"SOUNDLINK_NAME_PREFIX"`
	PrefixMatch          bool          `yaml:"prefix_match" env:"SOUNDLINK_PREFIX_MATCH" default:"true"`
	ScanTimeout          time.Duration `yaml:"scan_timeout" env:"SOUNDLINK_SCAN_TIMEOUT" default:"3s"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout" env:"SOUNDLINK_CONNECT_TIMEOUT" default:"10s"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" env:"SOUNDLINK_RECONNECT_DELAY" default:"2s"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"SOUNDLINK_MAX_RECONNECT_ATTEMPTS" default:"3"`
	HistorySize          int           `yaml:"history_size" env:"SOUNDLINK_HISTORY_SIZE" default:"20"`
	OutputFormat         string        `yaml:"output_format" env:"SOUNDLINK_OUTPUT_FORMAT" default:"table"`

	Radio   RadioConfig   `yaml:"radio" env-prefix:"SOUNDLINK_RADIO_"`
	Network NetworkConfig `yaml:"network" env-prefix:"SOUNDLINK_NETWORK_"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration: defaults, then the YAML file at path (optional),
// then SOUNDLINK_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config %s: %w", path, err)
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// decode overlays YAML onto cfg; unknown keys are rejected
func (c *Config) decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that all configuration parameters are valid
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if _, err := devicefactory.ParseMode(c.Transport); err != nil {
		return fmt.Errorf("invalid transport: %w", err)
	}
	if strings.TrimSpace(c.TargetName) == "" {
		return fmt.Errorf("target_name cannot be empty")
	}

	for name, d := range map[string]time.Duration{
		"scan_timeout":          c.ScanTimeout,
		"connect_timeout":       c.ConnectTimeout,
		"reconnect_delay":       c.ReconnectDelay,
		"network.probe_timeout": c.Network.ProbeTimeout,
		"network.ping_interval": c.Network.PingInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max_reconnect_attempts must be positive, got %d", c.MaxReconnectAttempts)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", c.HistorySize)
	}

	switch c.OutputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("output_format must be table, json or yaml, got %q", c.OutputFormat)
	}

	if _, err := device.ValidateUUID(c.Radio.ServiceUUID, c.Radio.NotifyCharUUID, c.Radio.WriteCharUUID); err != nil {
		return fmt.Errorf("invalid radio profile: %w", err)
	}

	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be between 1 and 65535, got %d", c.Network.Port)
	}
	return nil
}

// Level returns the parsed log level, InfoLevel if unset or invalid
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// TransportOptions maps the configuration onto the transport factory options
func (c *Config) TransportOptions() devicefactory.Options {
	radio := goble.DefaultOptions()
	radio.ServiceUUID = c.Radio.ServiceUUID
	radio.NotifyCharUUID = c.Radio.NotifyCharUUID
	radio.WriteCharUUID = c.Radio.WriteCharUUID
	radio.ConnectTimeout = c.ConnectTimeout

	return devicefactory.Options{
		Mode:  devicefactory.Mode(c.Transport),
		Radio: radio,
		Network: wsnet.Options{
			Port:           c.Network.Port,
			Path:           c.Network.Path,
			Hosts:          append([]string(nil), c.Network.Hosts...),
			DefaultName:    c.Network.DefaultName,
			ProbeTimeout:   c.Network.ProbeTimeout,
			ConnectTimeout: c.ConnectTimeout,
			PingInterval:   c.Network.PingInterval,
		},
	}
}

// ManagerOptions maps the configuration onto the connection manager options
func (c *Config) ManagerOptions() connection.Options {
	return connection.Options{
		Discovery: discovery.Options{
			Filter: discovery.Filter{
				TargetName:  c.TargetName,
				NamePrefix:  c.NamePrefix,
				PrefixMatch: c.PrefixMatch,
			},
			Timeout: c.ScanTimeout,
		},
		ConnectTimeout:       c.ConnectTimeout,
		ReconnectDelay:       c.ReconnectDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		HistorySize:          c.HistorySize,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
