package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/skobkin/spikehub/internal/app"
	"github.com/skobkin/spikehub/internal/config"
	"github.com/skobkin/spikehub/internal/protocol"
	"github.com/skobkin/spikehub/internal/session"
)

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name string
		opts options
		want config.ConnectionConfig
	}{
		{
			name: "serial port implies serial connector",
			opts: options{serialPort: "/dev/ttyACM0"},
			want: config.ConnectionConfig{Connector: config.ConnectorSerial, SerialPort: "/dev/ttyACM0", SerialBaud: config.DefaultSerialBaud, Port: config.DefaultIPPort},
		},
		{
			name: "host implies ip connector",
			opts: options{host: "192.168.1.10", tcpPort: 4000},
			want: config.ConnectionConfig{Connector: config.ConnectorIP, Host: "192.168.1.10", SerialBaud: config.DefaultSerialBaud, Port: 4000},
		},
		{
			name: "explicit connector wins",
			opts: options{connector: "serial", host: "192.168.1.10", serialPort: "COM3", baud: 9600},
			want: config.ConnectionConfig{Connector: config.ConnectorSerial, SerialPort: "COM3", SerialBaud: 9600, Host: "192.168.1.10", Port: config.DefaultIPPort},
		},
	}

	for _, tc := range tests {
		cfg := config.Default()
		cfg.Logging.LogToFile = true
		applyOverrides(&cfg, tc.opts)
		if cfg.Connection != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, cfg.Connection)
		}
		if cfg.Logging.LogToFile {
			t.Fatalf("%s: expected file logging to be disabled", tc.name)
		}
	}
}

func TestApplyOverridesMetrics(t *testing.T) {
	cfg := config.Default()
	applyOverrides(&cfg, options{metricsAddr: ":9000"})
	if !cfg.Session.MetricsEnabled || cfg.Session.MetricsAddr != ":9000" {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
}

func TestParseProjectType(t *testing.T) {
	tests := []struct {
		raw     string
		want    protocol.ProjectType
		wantErr bool
	}{
		{raw: "", want: protocol.ProjectTypePython},
		{raw: "Python", want: protocol.ProjectTypePython},
		{raw: "scratch", want: protocol.ProjectTypeScratch},
		{raw: "lua", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseProjectType(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %d, got %d", tc.raw, tc.want, got)
		}
	}
}

func TestProgramName(t *testing.T) {
	if got := programName("/tmp/line_follower.py", ""); got != "line_follower" {
		t.Fatalf("unexpected name from path: %q", got)
	}
	if got := programName("/tmp/a.py", " Drive "); got != "Drive" {
		t.Fatalf("unexpected explicit name: %q", got)
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-host", "10.0.0.2", "-upload", "main.py", "-slot", "3", "-run", "-no-listen"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if opts.host != "10.0.0.2" || opts.uploadPath != "main.py" || opts.slot != 3 || !opts.run || !opts.noListen {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.programType != "python" {
		t.Fatalf("unexpected default type: %q", opts.programType)
	}
}

func TestParseFlagsRuntimeOptions(t *testing.T) {
	opts, err := parseFlags([]string{"-reconnect", "-save-config", "-min-firmware", "1.0.4"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if !opts.reconnect || !opts.saveConfig || opts.minFirmware != "1.0.4" {
		t.Fatalf("unexpected options: %+v", opts)
	}

	opts, err = parseFlags(nil)
	if err != nil {
		t.Fatalf("parse empty flags: %v", err)
	}
	if opts.minFirmware != defaultMinFirmware {
		t.Fatalf("unexpected default min firmware: %q", opts.minFirmware)
	}

	if _, err := parseFlags([]string{"-reconnect", "-no-listen"}); err == nil {
		t.Fatalf("expected error for -reconnect with -no-listen")
	}
}

func TestCheckFirmware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	old := session.HubInfo{Firmware: session.Version{0, 9, 2, 11}}
	current := session.HubInfo{Firmware: session.Version{1, 0, 6, 34}}

	if err := checkFirmware(logger, current, defaultMinFirmware, true); err != nil {
		t.Fatalf("current firmware refused: %v", err)
	}
	if err := checkFirmware(logger, old, defaultMinFirmware, false); err != nil {
		t.Fatalf("old firmware should only warn without an upload: %v", err)
	}
	if err := checkFirmware(logger, old, defaultMinFirmware, true); !errors.Is(err, session.ErrFirmwareTooOld) {
		t.Fatalf("expected upload to be refused, got %v", err)
	}
	if err := checkFirmware(logger, current, "newest", false); err == nil {
		t.Fatalf("expected error for invalid minimum version")
	}
}

func TestSaveConnectionPersistsFlags(t *testing.T) {
	paths, err := app.PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	opts := options{host: "10.1.1.5", tcpPort: 4100}
	rt, err := app.Initialize(context.Background(), paths, func(cfg *config.AppConfig) {
		applyOverrides(cfg, opts)
	})
	if err != nil {
		t.Fatalf("initialize runtime: %v", err)
	}
	defer rt.Close()

	if err := saveConnection(rt, opts); err != nil {
		t.Fatalf("save connection: %v", err)
	}

	saved, err := config.Load(paths.ConfigFile)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if saved.Connection.Connector != config.ConnectorIP || saved.Connection.Host != "10.1.1.5" || saved.Connection.Port != 4100 {
		t.Fatalf("unexpected saved connection: %+v", saved.Connection)
	}
	if saved.Logging.LogToFile != config.Default().Logging.LogToFile {
		t.Fatalf("console-only logging leaked into the saved config")
	}
	if got := rt.ConnectionTransport.StatusTarget(); got != "10.1.1.5:4100" {
		t.Fatalf("unexpected transport target: %q", got)
	}
}
