package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrMemoryClosed is returned by a MemoryTransport after Close or Fail.
var ErrMemoryClosed = errors.New("memory transport is closed")

// MemoryTransport is an in-process Transport. The host side is driven through
// Inject/Written/Fail; it backs tests and embedders that bridge their own link.
type MemoryTransport struct {
	mu        sync.Mutex
	connected bool
	closed    chan struct{}
	failErr   error

	inbound chan []byte
	written chan []byte
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		closed:  make(chan struct{}),
		inbound: make(chan []byte, 256),
		written: make(chan []byte, 256),
	}
}

func (t *MemoryTransport) Name() string {
	return "memory"
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return ErrMemoryClosed
	default:
	}
	t.connected = true

	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}

	return nil
}

// Fail makes pending and future reads and writes return err.
func (t *MemoryTransport) Fail(err error) {
	t.mu.Lock()
	t.failErr = err
	t.mu.Unlock()
	_ = t.Close()
}

// Inject queues a chunk to be returned by ReadChunk.
func (t *MemoryTransport) Inject(chunk []byte) {
	cp := append([]byte(nil), chunk...)
	select {
	case t.inbound <- cp:
	case <-t.closed:
	}
}

// Written delivers every buffer passed to Write, in order.
func (t *MemoryTransport) Written() <-chan []byte {
	return t.written
}

func (t *MemoryTransport) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-t.inbound:
		return chunk, nil
	case <-t.closed:
		return nil, t.closedErr()
	}
}

func (t *MemoryTransport) Write(ctx context.Context, payload []byte) error {
	if !t.isConnected() {
		return t.closedErr()
	}
	cp := append([]byte(nil), payload...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return t.closedErr()
	case t.written <- cp:
		return nil
	}
}

func (t *MemoryTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

func (t *MemoryTransport) closedErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return t.failErr
	}

	return ErrMemoryClosed
}
