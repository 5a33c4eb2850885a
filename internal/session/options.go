package session

import (
	"log/slog"
	"time"

	"github.com/skobkin/spikehub/internal/bus"
	"github.com/skobkin/spikehub/internal/metrics"
	"github.com/skobkin/spikehub/internal/protocol"
)

const (
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	outboxCapacity          = 128
	maxIDAttempts           = 16
)

// Callbacks receive session events. Every field is optional. Callbacks run
// on the read loop, except upload handshake timeouts which are reported from
// a timer goroutine; none of them may block.
type Callbacks struct {
	// OnError receives every non-fatal and fatal fault. Without it faults
	// are only logged.
	OnError func(error)
	// OnPrint receives program output lines.
	OnPrint func(string)
	// OnDisconnect fires once when the session ends. err is nil after Close.
	OnDisconnect func(err error)
	// OnUploadComplete fires once per successful upload, after the last
	// chunk is acknowledged.
	OnUploadComplete func(UploadResult)
	OnProgramStarted func(slot int)
	OnProgramStopped func(slot int)
}

type Options struct {
	Logger *slog.Logger
	// Bus is optional; events are not published without it.
	Bus bus.MessageBus
	// Metrics is optional; collectors must already be registered.
	Metrics   *metrics.SessionMetrics
	Callbacks Callbacks

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// MaxBuffered bounds undelimited input kept by the frame assembler.
	MaxBuffered int

	// Encoder and Now are replaced by tests.
	Encoder *protocol.Encoder
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "session")
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.MaxBuffered <= 0 {
		o.MaxBuffered = protocol.DefaultMaxBuffered
	}
	if o.Encoder == nil {
		o.Encoder = protocol.NewEncoder()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}
