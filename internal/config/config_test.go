package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Connection.Connector != ConnectorSerial {
		t.Fatalf("expected default connector %q, got %q", ConnectorSerial, cfg.Connection.Connector)
	}
	if cfg.Connection.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Connection.SerialBaud)
	}
	if cfg.Connection.Port != DefaultIPPort {
		t.Fatalf("expected default ip port %d, got %d", DefaultIPPort, cfg.Connection.Port)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Session.WriteTimeout() != DefaultWriteTimeout {
		t.Fatalf("expected write timeout %s, got %s", DefaultWriteTimeout, cfg.Session.WriteTimeout())
	}
	if cfg.Session.MaxBufferedBytes != DefaultMaxBufferedBytes {
		t.Fatalf("expected max buffered %d, got %d", DefaultMaxBufferedBytes, cfg.Session.MaxBufferedBytes)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPartialFileKeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "connection": {
    "connector": "ip",
    "host": "10.0.0.7"
  },
  "logging": {
    "level": "debug",
    "format": "JSON"
  },
  "session": {
    "write_timeout_ms": 1500,
    "metrics_enabled": true
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Connection.Connector != ConnectorIP || cfg.Connection.Host != "10.0.0.7" {
		t.Fatalf("unexpected connection %+v", cfg.Connection)
	}
	if cfg.Connection.Port != DefaultIPPort {
		t.Fatalf("expected default port to be filled, got %d", cfg.Connection.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
	if cfg.Session.WriteTimeout() != 1500*time.Millisecond || !cfg.Session.MetricsEnabled {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{
			name:   "serial with port",
			mutate: func(c *AppConfig) { c.Connection.SerialPort = "/dev/ttyACM0" },
		},
		{
			name:    "serial without port",
			mutate:  func(*AppConfig) {},
			wantErr: true,
		},
		{
			name: "ip with host",
			mutate: func(c *AppConfig) {
				c.Connection.Connector = ConnectorIP
				c.Connection.Host = "192.168.1.20"
			},
		},
		{
			name: "ip port out of range",
			mutate: func(c *AppConfig) {
				c.Connection.Connector = ConnectorIP
				c.Connection.Host = "192.168.1.20"
				c.Connection.Port = 70000
			},
			wantErr: true,
		},
		{
			name:    "unknown connector",
			mutate:  func(c *AppConfig) { c.Connection.Connector = "usb" },
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Connection.SerialPort = "COM4"
	cfg.Session.MetricsEnabled = true

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	if err := Save(filepath.Join(t.TempDir(), "config.json"), Default()); err == nil {
		t.Fatalf("expected save to fail validation without a serial port")
	}
}
