package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/spikehub/internal/app"
	"github.com/skobkin/spikehub/internal/bus"
	"github.com/skobkin/spikehub/internal/config"
	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/hub"
	"github.com/skobkin/spikehub/internal/protocol"
	"github.com/skobkin/spikehub/internal/session"
	"github.com/skobkin/spikehub/internal/transport"
)

const (
	commandTimeout    = 10 * time.Second
	maxRawPreviewLen  = 96
	metricsReadHeader = 5 * time.Second
	// defaultMinFirmware is the oldest firmware that speaks the JSON-RPC
	// protocol spikectl uses.
	defaultMinFirmware = "v1.0.0"
)

type options struct {
	configPath  string
	connector   string
	serialPort  string
	baud        int
	host        string
	tcpPort     int
	metricsAddr string
	saveConfig  bool

	listPorts   bool
	minFirmware string
	info      bool
	storage   bool
	raw       bool

	uploadPath  string
	programName string
	programType string
	slot        int
	run         bool
	stop        bool

	noListen  bool
	listenFor time.Duration
	reconnect bool
}

func main() {
	if err := run(); err != nil {
		slog.Error("run spikectl", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("spikectl", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "config file path (default: user config dir)")
	fs.StringVar(&opts.connector, "connector", "", "connector type: serial or ip")
	fs.StringVar(&opts.serialPort, "port", "", "serial port name, e.g. /dev/ttyACM0")
	fs.IntVar(&opts.baud, "baud", 0, "serial baud rate")
	fs.StringVar(&opts.host, "host", "", "serial bridge host for the ip connector")
	fs.IntVar(&opts.tcpPort, "tcp-port", 0, "serial bridge tcp port")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.BoolVar(&opts.saveConfig, "save-config", false, "persist connection flags to the config file")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "list serial ports and exit")
	fs.BoolVar(&opts.info, "info", false, "print firmware and runtime versions")
	fs.StringVar(&opts.minFirmware, "min-firmware", defaultMinFirmware, "oldest hub firmware accepted for uploads")
	fs.BoolVar(&opts.storage, "storage", false, "print the program slot listing")
	fs.BoolVar(&opts.raw, "raw", false, "log raw frames in both directions")
	fs.StringVar(&opts.uploadPath, "upload", "", "python file to upload")
	fs.StringVar(&opts.programName, "name", "", "program name (default: upload file name)")
	fs.StringVar(&opts.programType, "type", "python", "program type: python or scratch")
	fs.IntVar(&opts.slot, "slot", 0, "program slot")
	fs.BoolVar(&opts.run, "run", false, "start the program in -slot")
	fs.BoolVar(&opts.stop, "stop", false, "stop the running program")
	fs.BoolVar(&opts.noListen, "no-listen", false, "exit after commands complete")
	fs.DurationVar(&opts.listenFor, "listen-for", 0, "listen duration, e.g. 30s")
	fs.BoolVar(&opts.reconnect, "reconnect", false, "reconnect after the hub drops until interrupted")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.reconnect && opts.noListen {
		return options{}, errors.New("-reconnect cannot be combined with -no-listen")
	}

	return opts, nil
}

// applyOverrides copies the flags that were set onto cfg.
func applyOverrides(cfg *config.AppConfig, opts options) {
	applyConnectionOverrides(cfg, opts)
	if v := strings.TrimSpace(opts.metricsAddr); v != "" {
		cfg.Session.MetricsEnabled = true
		cfg.Session.MetricsAddr = v
	}
	// Console output goes to stderr only.
	cfg.Logging.LogToFile = false
}

// applyConnectionOverrides copies connection flags that were set onto cfg.
func applyConnectionOverrides(cfg *config.AppConfig, opts options) {
	if v := strings.TrimSpace(opts.connector); v != "" {
		cfg.Connection.Connector = config.ConnectorType(v)
	}
	if v := strings.TrimSpace(opts.serialPort); v != "" {
		cfg.Connection.SerialPort = v
		if opts.connector == "" {
			cfg.Connection.Connector = config.ConnectorSerial
		}
	}
	if opts.baud > 0 {
		cfg.Connection.SerialBaud = opts.baud
	}
	if v := strings.TrimSpace(opts.host); v != "" {
		cfg.Connection.Host = v
		if opts.connector == "" {
			cfg.Connection.Connector = config.ConnectorIP
		}
	}
	if opts.tcpPort > 0 {
		cfg.Connection.Port = opts.tcpPort
	}
}

// saveConnection writes the connection flags into the config file, keeping
// every other setting stored there.
func saveConnection(rt *app.Runtime, opts options) error {
	cfg, err := config.Load(rt.Paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyConnectionOverrides(&cfg, opts)
	if err := rt.SaveConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	return nil
}

// checkFirmware refuses uploads to a hub older than minVersion. For other
// commands an old firmware is only reported.
func checkFirmware(logger *slog.Logger, info session.HubInfo, minVersion string, uploading bool) error {
	err := info.CheckFirmware(minVersion)
	if err == nil {
		return nil
	}
	if uploading || !errors.Is(err, session.ErrFirmwareTooOld) {
		return err
	}
	logger.Warn("hub firmware is older than supported", "error", err)

	return nil
}

func parseProjectType(raw string) (protocol.ProjectType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "python":
		return protocol.ProjectTypePython, nil
	case "scratch":
		return protocol.ProjectTypeScratch, nil
	default:
		return 0, fmt.Errorf("unknown program type: %q", raw)
	}
}

func programName(path, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}

	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	if opts.listPorts {
		ports, err := transport.ListSerialPorts()
		if err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if opts.configPath != "" {
		paths.ConfigFile = opts.configPath
	}

	rt, err := app.Initialize(ctx, paths, func(cfg *config.AppConfig) {
		applyOverrides(cfg, opts)
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()
	logger := rt.LogManager.Logger("cli")
	logger.Info("starting spikectl", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())
	defer logFinalStatus(logger, rt)

	if opts.saveConfig {
		if err := saveConnection(rt, opts); err != nil {
			return err
		}
		logger.Info("config saved", "path", rt.Paths.ConfigFile)
	}

	if rt.Registry != nil {
		srv := &http.Server{
			Addr:              rt.Config.Session.MetricsAddr,
			Handler:           promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: metricsReadHeader,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", srv.Addr)
	}

	watch(ctx, rt.Bus, logger, opts.raw)

	callbacks := session.Callbacks{
		OnPrint: func(line string) {
			fmt.Println(line)
		},
		OnError: func(err error) {
			logger.Warn("hub error", "error", err)
		},
		OnDisconnect: func(err error) {
			if err != nil {
				logger.Warn("hub disconnected", "error", err)
			}
		},
	}
	if opts.reconnect {
		return runReconnecting(ctx, logger, rt, callbacks, opts)
	}

	sess, err := rt.NewSession(callbacks)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}
	defer func() {
		_ = sess.Close()
	}()

	if err := runCommands(ctx, logger, sess, opts); err != nil {
		return err
	}
	if opts.noListen {
		return nil
	}

	if opts.listenFor > 0 {
		logger.Info("listen mode", "duration", opts.listenFor)
		select {
		case <-ctx.Done():
		case <-sess.Done():
		case <-time.After(opts.listenFor):
		}
		return sess.Err()
	}

	logger.Info("listening until interrupt")
	select {
	case <-ctx.Done():
	case <-sess.Done():
	}

	return sess.Err()
}

// runReconnecting runs commands on the first connection and then keeps the
// hub connected until ctx is done or -listen-for elapses.
func runReconnecting(ctx context.Context, logger *slog.Logger, rt *app.Runtime, callbacks session.Callbacks, opts options) error {
	if opts.listenFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.listenFor)
		defer cancel()
	}

	commandsDone := false
	logger.Info("listening with reconnect until interrupt")
	return rt.RunSessions(ctx, callbacks, func(ctx context.Context, sess *session.Session) error {
		if commandsDone {
			logger.Info("hub reconnected")
			return nil
		}
		commandsDone = true
		return runCommands(ctx, logger, sess, opts)
	})
}

func logFinalStatus(logger *slog.Logger, rt *app.Runtime) {
	status, known := rt.CurrentConnStatus()
	if !known {
		return
	}
	logger.Info("final connection status", "state", status.State, "transport", status.TransportName, "target", status.Target, "error", status.Err)
}

func runCommands(ctx context.Context, logger *slog.Logger, sess *session.Session, opts options) error {
	if opts.info || opts.uploadPath != "" {
		infoCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		info, err := sess.HubInfo(infoCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("get hub info: %w", err)
		}
		if opts.info {
			logger.Info("hub info", "firmware", info.Firmware.String(), "runtime", info.Runtime.String(), "variant", info.Variant)
		}
		if err := checkFirmware(logger, info, opts.minFirmware, opts.uploadPath != ""); err != nil {
			return err
		}
	}

	if opts.stop {
		if err := waitCall(ctx, sess.TerminateProgram); err != nil {
			return fmt.Errorf("stop program: %w", err)
		}
	}

	if opts.uploadPath != "" {
		if err := upload(ctx, logger, sess, opts); err != nil {
			return err
		}
	}

	if opts.storage {
		storageCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		storage, err := sess.StorageStatus(storageCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("get storage status: %w", err)
		}
		logStorage(logger, storage)
	}

	if opts.run {
		if err := waitCall(ctx, func() (*session.Call, error) {
			return sess.ExecuteProgram(opts.slot)
		}); err != nil {
			return fmt.Errorf("run slot %d: %w", opts.slot, err)
		}
		logger.Info("program started", "slot", opts.slot)
	}

	return nil
}

func waitCall(ctx context.Context, send func() (*session.Call, error)) error {
	call, err := send()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	_, err = call.Wait(callCtx)

	return err
}

func upload(ctx context.Context, logger *slog.Logger, sess *session.Session, opts options) error {
	projectType, err := parseProjectType(opts.programType)
	if err != nil {
		return err
	}
	// #nosec G304 -- path is given on the command line.
	source, err := os.ReadFile(filepath.Clean(opts.uploadPath))
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}

	u, err := sess.UploadProgram(ctx, session.Program{
		Name:   programName(opts.uploadPath, opts.programName),
		Slot:   opts.slot,
		Source: source,
		Type:   projectType,
	})
	if err != nil {
		return fmt.Errorf("start upload: %w", err)
	}
	if err := u.Wait(ctx); err != nil {
		return fmt.Errorf("upload to slot %d: %w", opts.slot, err)
	}
	logger.Info("upload finished", "slot", opts.slot, "bytes", len(source))

	return nil
}

func logStorage(logger *slog.Logger, storage hub.Storage) {
	logger.Info("storage", "free", storage.Info.Free, "total", storage.Info.Total, "unit", storage.Info.Unit, "slots", len(storage.Slots))
	for _, slot := range storage.Slots {
		logger.Info("slot", "slot", slot.Slot, "name", slot.Name, "type", slot.Type, "size", slot.Size)
	}
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger, raw bool) {
	topics := []string{
		connectors.TopicConnStatus,
		connectors.TopicPort,
		connectors.TopicBattery,
		connectors.TopicButton,
		connectors.TopicForce,
		connectors.TopicOrientation,
		connectors.TopicGesture,
		connectors.TopicProgram,
		connectors.TopicHubName,
		connectors.TopicUploadProgress,
	}
	if raw {
		topics = append(topics, connectors.TopicRawFrameIn, connectors.TopicRawFrameOut)
	}
	sub := b.Subscribe(topics...)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(sub)
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				logEvent(logger, msg)
			}
		}
	}()
}

func logEvent(logger *slog.Logger, msg any) {
	switch ev := msg.(type) {
	case connectors.ConnectionStatus:
		logger.Info("conn", "state", ev.State, "transport", ev.TransportName, "target", ev.Target, "error", ev.Err)
	case connectors.PortUpdate:
		logger.Debug("port", "port", ev.Port, "device", ev.State.Kind)
	case connectors.BatteryUpdate:
		logger.Info("battery", "percent", ev.Percent)
	case hub.ButtonEvent:
		logger.Info("button", "button", ev.Button, "pressed", ev.Pressed, "hold_ms", ev.HoldDurationMs)
	case hub.ForceEvent:
		logger.Info("force", "port", ev.Port, "pressed", ev.Pressed, "hold_ms", ev.HoldDurationMs)
	case connectors.OrientationUpdate:
		logger.Info("orientation", "value", ev.Orientation)
	case connectors.GestureUpdate:
		logger.Info("gesture", "value", ev.Gesture)
	case connectors.ProgramStatus:
		logger.Info("program", "running", ev.Running, "slot", ev.Slot)
	case connectors.HubNameUpdate:
		logger.Info("hub name", "name", ev.Name)
	case connectors.UploadProgress:
		logger.Info("upload", "slot", ev.Slot, "state", ev.State, "sent", ev.SentBytes, "total", ev.TotalBytes, "error", ev.Err)
	case connectors.RawFrame:
		logger.Info("raw", "len", ev.Len, "text", previewRaw(ev.Text))
	}
}

func previewRaw(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxRawPreviewLen {
		return text
	}
	return text[:maxRawPreviewLen] + "..."
}
