package transport

import "context"

// Transport moves raw bytes between the host and the hub. It knows nothing
// about protocol frames: chunk boundaries are arbitrary.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	// ReadChunk blocks until at least one byte is available, ctx is done or
	// the link fails.
	ReadChunk(ctx context.Context) ([]byte, error)
	// Write sends the whole buffer. Concurrent writes never interleave.
	Write(ctx context.Context, payload []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
