// Package config loads and stores the spikectl JSON configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorSerial ConnectorType = "serial"
	ConnectorIP     ConnectorType = "ip"

	DefaultSerialBaud   = 115200
	DefaultIPPort       = 2323
	DefaultWriteTimeout = 5 * time.Second
	// DefaultMaxBufferedBytes bounds undelimited input kept while waiting for
	// a frame delimiter.
	DefaultMaxBufferedBytes = 1 << 20
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
	// Format is "text" or "json".
	Format string `json:"format"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
	// Host and Port address a TCP serial bridge the hub is attached to.
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SessionConfig tunes the hub session.
type SessionConfig struct {
	WriteTimeoutMs   int  `json:"write_timeout_ms"`
	MaxBufferedBytes int  `json:"max_buffered_bytes"`
	MetricsEnabled   bool `json:"metrics_enabled"`
	// MetricsAddr is the listen address of the Prometheus endpoint.
	MetricsAddr string `json:"metrics_addr"`
}

func (c SessionConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Logging    LoggingConfig    `json:"logging"`
	Session    SessionConfig    `json:"session"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorSerial,
			SerialBaud: DefaultSerialBaud,
			Port:       DefaultIPPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			WriteTimeoutMs:   int(DefaultWriteTimeout / time.Millisecond),
			MaxBufferedBytes: DefaultMaxBufferedBytes,
			MetricsAddr:      "127.0.0.1:9464",
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	// #nosec G304 -- path comes from the command line or the user config dir.
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}
	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	defaults := Default()
	if c.Connection.Connector == "" {
		c.Connection.Connector = defaults.Connection.Connector
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultIPPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
	if c.Session.WriteTimeoutMs <= 0 {
		c.Session.WriteTimeoutMs = defaults.Session.WriteTimeoutMs
	}
	if c.Session.MaxBufferedBytes <= 0 {
		c.Session.MaxBufferedBytes = DefaultMaxBufferedBytes
	}
	if strings.TrimSpace(c.Session.MetricsAddr) == "" {
		c.Session.MetricsAddr = defaults.Session.MetricsAddr
	}
}

func normalizeLogFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json"
	default:
		return "text"
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorIP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("ip host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("ip port out of range: %d", c.Connection.Port)
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}
	if c.Session.WriteTimeoutMs <= 0 {
		return errors.New("session write timeout must be positive")
	}

	return nil
}

// Save validates cfg and replaces the file at path atomically.
func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
