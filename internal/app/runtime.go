package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/spikehub/internal/bus"
	"github.com/skobkin/spikehub/internal/config"
	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/logging"
	"github.com/skobkin/spikehub/internal/metrics"
	"github.com/skobkin/spikehub/internal/session"
)

// Runtime wires config, logging, the event bus and the transport. Sessions
// are created on demand; one Runtime may run several in sequence.
type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager          *logging.Manager
	Bus                 *bus.PubSubBus
	Registry            *prometheus.Registry
	ConnectionTransport *SwitchableTransport

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool

	// reconnectBackoff overrides the first RunSessions retry delay.
	reconnectBackoff time.Duration
}

// Initialize loads the config from paths and applies override to it before
// anything is started. override may be nil.
func Initialize(parent context.Context, paths Paths, override func(*config.AppConfig)) (*Runtime, error) {
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	rt.setConnStatus(ConnectionStatusFromConfig(cfg.Connection))
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	if cfg.Session.MetricsEnabled {
		rt.Registry = prometheus.NewRegistry()
	}

	connTransport, err := NewConnectionTransport(cfg.Connection)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.ConnectionTransport = connTransport

	return rt, nil
}

// NewSession builds a session over the configured transport. The caller
// starts it and owns its lifetime.
func (r *Runtime) NewSession(callbacks session.Callbacks) (*session.Session, error) {
	r.mu.RLock()
	cfg := r.Config
	r.mu.RUnlock()

	opts := session.Options{
		Logger:       r.LogManager.Logger("session"),
		Bus:          r.Bus,
		Callbacks:    callbacks,
		WriteTimeout: cfg.Session.WriteTimeout(),
		MaxBuffered:  cfg.Session.MaxBufferedBytes,
	}
	if r.Registry != nil {
		m := metrics.NewSessionMetrics()
		if err := m.Register(r.Registry); err != nil {
			return nil, fmt.Errorf("register session metrics: %w", err)
		}
		opts.Metrics = m
	}

	return session.New(r.ConnectionTransport, opts), nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// SaveConfig validates and persists cfg, then applies logging and
// connection changes.
func (r *Runtime) SaveConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}
	if r.ConnectionTransport != nil {
		if err := r.ConnectionTransport.Apply(cfg.Connection); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.ConnectionTransport != nil {
		_ = r.ConnectionTransport.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}
