package session

import (
	"context"
	"encoding/json"

	"github.com/skobkin/spikehub/internal/protocol"
)

// Response is the hub's answer to one command.
type Response struct {
	ID     string
	Result protocol.Result
	// Raw is the undecoded "r" value, for commands with structured results.
	Raw json.RawMessage
}

// Call is an in-flight command. It resolves at most once, when a response
// with its id arrives. There is no deadline: bound the wait with ctx.
type Call struct {
	ID     string
	Method protocol.Method

	done   chan struct{}
	closed <-chan struct{}
	resp   Response
}

func newCall(method protocol.Method, closed <-chan struct{}) *Call {
	return &Call{
		Method: method,
		done:   make(chan struct{}),
		closed: closed,
	}
}

func (c *Call) resolve(frame protocol.Frame) {
	c.resp = Response{
		ID:     frame.ID,
		Result: protocol.DecodeResult(frame.Result),
		Raw:    frame.Result,
	}
	close(c.done)
}

// Done is closed once the response has arrived.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the response arrives, ctx ends or the session closes.
// Giving up on ctx leaves the request registered.
func (c *Call) Wait(ctx context.Context) (Response, error) {
	select {
	case <-c.done:
		return c.resp, nil
	default:
	}

	select {
	case <-c.done:
		return c.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-c.closed:
		return Response{}, ErrSessionClosed
	}
}
