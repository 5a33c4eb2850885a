package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/skobkin/spikehub/internal/config"
	"github.com/skobkin/spikehub/internal/transport"
)

var errTransportNotConfigured = errors.New("transport is not configured")

// SwitchableTransport wraps the configured connector. Apply closes the
// previous connector, which ends any session still using it.
type SwitchableTransport struct {
	mu sync.RWMutex

	cfg       config.ConnectionConfig
	transport transport.Transport
}

func NewConnectionTransport(cfg config.ConnectionConfig) (*SwitchableTransport, error) {
	tr, err := newTransportForConnection(cfg)
	if err != nil {
		return nil, err
	}

	return &SwitchableTransport{
		cfg:       cfg,
		transport: tr,
	}, nil
}

func (t *SwitchableTransport) Apply(cfg config.ConnectionConfig) error {
	next, err := newTransportForConnection(cfg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	current := t.transport
	t.transport = next
	t.cfg = cfg
	t.mu.Unlock()

	if current != nil {
		_ = current.Close()
	}

	return nil
}

func (t *SwitchableTransport) Name() string {
	tr := t.current()
	if tr == nil {
		return "unknown"
	}

	return tr.Name()
}

func (t *SwitchableTransport) StatusTarget() string {
	t.mu.RLock()
	tr := t.transport
	cfg := t.cfg
	t.mu.RUnlock()

	if provider, ok := tr.(transport.StatusTargetResolver); ok {
		target := strings.TrimSpace(provider.StatusTarget())
		if target != "" {
			return target
		}
	}

	return ConnectionTarget(cfg)
}

func (t *SwitchableTransport) Connect(ctx context.Context) error {
	tr := t.current()
	if tr == nil {
		return errTransportNotConfigured
	}

	return tr.Connect(ctx)
}

func (t *SwitchableTransport) Close() error {
	tr := t.current()
	if tr == nil {
		return nil
	}

	return tr.Close()
}

func (t *SwitchableTransport) ReadChunk(ctx context.Context) ([]byte, error) {
	tr := t.current()
	if tr == nil {
		return nil, errTransportNotConfigured
	}

	return tr.ReadChunk(ctx)
}

func (t *SwitchableTransport) Write(ctx context.Context, payload []byte) error {
	tr := t.current()
	if tr == nil {
		return errTransportNotConfigured
	}

	return tr.Write(ctx, payload)
}

func (t *SwitchableTransport) current() transport.Transport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.transport
}

func (t *SwitchableTransport) Config() config.ConnectionConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cfg
}

func NewTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	return newTransportForConnection(cfg)
}

func newTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		port := cfg.Port
		if port <= 0 {
			port = config.DefaultIPPort
		}
		return transport.NewIPTransport(strings.TrimSpace(cfg.Host), port), nil
	case config.ConnectorSerial:
		baud := cfg.SerialBaud
		if baud <= 0 {
			baud = config.DefaultSerialBaud
		}
		return transport.NewSerialTransport(strings.TrimSpace(cfg.SerialPort), baud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
