// Package session drives one connection to a hub: it reads and routes
// frames, correlates command responses, keeps the hub state store current
// and runs program uploads.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/skobkin/spikehub/internal/bus"
	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/hub"
	"github.com/skobkin/spikehub/internal/metrics"
	"github.com/skobkin/spikehub/internal/protocol"
	"github.com/skobkin/spikehub/internal/transport"
)

type outboundFrame struct {
	id     string
	method protocol.Method
	raw    []byte
}

// Session owns everything tied to one connection. A Session cannot be
// restarted; construct a new one to reconnect.
type Session struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus
	metrics   *metrics.SessionMetrics
	callbacks Callbacks
	encoder   *protocol.Encoder
	now       func() time.Time

	writeTimeout     time.Duration
	handshakeTimeout time.Duration

	store     *hub.Store
	assembler *protocol.Assembler
	registry  *registry
	outbox    chan outboundFrame

	parseLogLimiter *rate.Limiter

	// cbMu serializes user callbacks raised by the read loop, timers and
	// teardown. inCallback is non-zero while one runs.
	cbMu       sync.Mutex
	inCallback atomic.Int32

	mu            sync.Mutex
	started       bool
	cancel        context.CancelFunc
	upload        *Upload
	preambleLines int

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	done      chan struct{}
}

func New(tr transport.Transport, opts Options) *Session {
	opts = opts.withDefaults()

	return &Session{
		logger:           opts.Logger,
		transport:        tr,
		bus:              opts.Bus,
		metrics:          opts.Metrics,
		callbacks:        opts.Callbacks,
		encoder:          opts.Encoder,
		now:              opts.Now,
		writeTimeout:     opts.WriteTimeout,
		handshakeTimeout: opts.HandshakeTimeout,
		store:            hub.NewStoreWithClock(opts.Now),
		assembler:        protocol.NewAssembler(opts.MaxBuffered),
		registry:         newRegistry(),
		outbox:           make(chan outboundFrame, outboxCapacity),
		parseLogLimiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		closed:           make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Start connects the transport and launches the read and write loops. It
// returns once the connection is up; loops stop when ctx ends, Close is
// called or the transport fails.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.publishConnStatus(connectors.ConnectionStateConnecting, nil)
	if err := s.transport.Connect(ctx); err != nil {
		terr := &TransportError{Op: "connect", Err: err}
		s.finish(terr)

		return terr
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		cancel()
		_ = s.transport.Close()

		return ErrSessionClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("session connected", "transport", s.transport.Name())
	s.publishConnStatus(connectors.ConnectionStateConnected, nil)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.runReader(gctx)
	})
	g.Go(func() error {
		return s.runWriter(gctx)
	})
	g.Go(func() error {
		// Unblocks a transport read that does not watch ctx.
		<-gctx.Done()
		return s.transport.Close()
	})

	go func() {
		err := g.Wait()
		cancel()
		var terr *TransportError
		if !errors.As(err, &terr) {
			err = nil
		}
		s.finish(err)
	}()

	return nil
}

// Close stops the session and waits until it is torn down. Called from a
// session callback it only requests the shutdown and returns.
func (s *Session) Close() error {
	if s.isClosed() {
		return nil
	}
	s.mu.Lock()
	s.started = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		s.finish(nil)
		return nil
	}
	cancel()
	if s.inCallback.Load() > 0 {
		return nil
	}
	<-s.done

	return nil
}

// Done is closed after the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeErr
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store exposes the live hub state.
func (s *Session) Store() *hub.Store {
	return s.store
}

// PendingRequests reports how many commands still wait for a response.
func (s *Session) PendingRequests() int {
	return s.registry.len()
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// finish tears the session down exactly once. Pending requests are left
// unresolved; their waiters observe the closed session instead.
func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()
		close(s.closed)

		if err != nil {
			s.logger.Warn("session disconnected", "error", err, "pending", s.registry.len())
		} else {
			s.logger.Info("session closed", "pending", s.registry.len())
		}
		if s.metrics != nil {
			s.metrics.Disconnects.Inc()
		}
		s.publishConnStatus(connectors.ConnectionStateDisconnected, err)
		if err != nil {
			s.reportError(err)
		}
		if s.callbacks.OnDisconnect != nil {
			s.dispatch(func() { s.callbacks.OnDisconnect(err) })
		}
		close(s.done)
	})
}

func (s *Session) runReader(ctx context.Context) error {
	defer func() {
		if n := s.assembler.Pending(); n > 0 {
			s.logger.Debug("drop partial frame on shutdown", "bytes", n)
		}
		s.assembler.Reset()
	}()

	discarded := 0
	for {
		chunk, err := s.transport.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return &TransportError{Op: "read", Err: err}
		}

		for _, text := range s.assembler.Feed(chunk) {
			s.route(text)
		}
		if n := s.assembler.Discarded(); n != discarded {
			s.logger.Warn("frame buffer overflow, input discarded", "discarded_total", n)
			discarded = n
		}
	}
}

func (s *Session) runWriter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-s.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := s.transport.Write(writeCtx, out.raw)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return &TransportError{Op: "write", Err: fmt.Errorf("%s %s: %w", out.method, out.id, err)}
			}
			if s.metrics != nil {
				s.metrics.FramesSent.WithLabelValues(string(out.method)).Inc()
			}
			s.publish(connectors.TopicRawFrameOut, connectors.RawFrame{Text: string(out.raw), Len: len(out.raw)})
		}
	}
}

// enqueue hands a frame to the writer. It blocks only while the outbox is
// full.
func (s *Session) enqueue(out outboundFrame) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	select {
	case s.outbox <- out:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// request registers resolve under a fresh id and queues the command. The
// entry is live before any byte is written. With timeout > 0 the entry is
// dropped after the deadline and onTimeout runs.
func (s *Session) request(method protocol.Method, params any, timeout time.Duration, onTimeout func(), resolve func(protocol.Frame)) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}

	p := &pendingRequest{method: method, registeredAt: s.now(), resolve: resolve}
	var raw []byte
	for attempt := 1; ; attempt++ {
		id, err := s.encoder.NewID()
		if err != nil {
			return "", err
		}
		if !s.registry.add(id, p) {
			if attempt >= maxIDAttempts {
				return "", fmt.Errorf("allocate command id for %s: %d collisions", method, attempt)
			}
			continue
		}
		if _, raw, err = protocol.EncodeWithID(id, method, params); err != nil {
			s.registry.remove(p)
			return "", err
		}
		break
	}
	if timeout > 0 {
		s.registry.expire(p, timeout, func() {
			s.observePending()
			if onTimeout != nil {
				onTimeout()
			}
		})
	}

	if err := s.enqueue(outboundFrame{id: p.id, method: method, raw: raw}); err != nil {
		s.registry.remove(p)
		return "", err
	}
	s.observePending()

	return p.id, nil
}

func (s *Session) call(method protocol.Method, params any) (*Call, error) {
	c := newCall(method, s.closed)
	id, err := s.request(method, params, 0, nil, c.resolve)
	if err != nil {
		return nil, err
	}
	c.ID = id

	return c, nil
}

// Send writes a command without registering for its response. A response
// that arrives later for its id is ignored. The id never matches a live
// request.
func (s *Session) Send(method protocol.Method, params any) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}

	var id string
	for attempt := 1; ; attempt++ {
		next, err := s.encoder.NewID()
		if err != nil {
			return "", err
		}
		if !s.registry.has(next) {
			id = next
			break
		}
		if attempt >= maxIDAttempts {
			return "", fmt.Errorf("allocate command id for %s: %d collisions", method, attempt)
		}
	}
	_, raw, err := protocol.EncodeWithID(id, method, params)
	if err != nil {
		return "", err
	}
	if err := s.enqueue(outboundFrame{id: id, method: method, raw: raw}); err != nil {
		return "", err
	}

	return id, nil
}

// dispatch runs a user callback. Callbacks never overlap, whichever
// goroutine raised them.
func (s *Session) dispatch(fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.inCallback.Add(1)
	defer s.inCallback.Add(-1)

	fn()
}

func (s *Session) reportError(err error) {
	if s.callbacks.OnError != nil {
		s.dispatch(func() { s.callbacks.OnError(err) })
		return
	}
	s.logger.Error("session error", "error", err)
}

func (s *Session) publish(topic string, msg any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, msg)
}

func (s *Session) publishConnStatus(state connectors.ConnectionState, err error) {
	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     s.now(),
	}
	if resolver, ok := s.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.publish(connectors.TopicConnStatus, status)
}

func (s *Session) observePending() {
	if s.metrics != nil {
		s.metrics.PendingRequests.Set(float64(s.registry.len()))
	}
}

func (s *Session) countParseError(benign bool) {
	if s.metrics != nil {
		s.metrics.ParseErrors.WithLabelValues(strconv.FormatBool(benign)).Inc()
	}
}
