package session

import (
	"context"

	"github.com/skobkin/spikehub/internal/hub"
)

// waitOne arms a one-shot store callback and blocks for its value. A wait
// abandoned through ctx leaves the callback armed until the next event.
func waitOne[T any](ctx context.Context, s *Session, arm func(func(T))) (T, error) {
	ch := make(chan T, 1)
	arm(func(v T) {
		ch <- v
	})

	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.closed:
		return zero, ErrSessionClosed
	}
}

func (s *Session) WaitForButtonPress(ctx context.Context, b hub.Button) (hub.ButtonEvent, error) {
	return waitOne(ctx, s, func(fn func(hub.ButtonEvent)) { s.store.OnButtonPress(b, fn) })
}

// WaitForButtonRelease returns the release event, carrying the hold time.
func (s *Session) WaitForButtonRelease(ctx context.Context, b hub.Button) (hub.ButtonEvent, error) {
	return waitOne(ctx, s, func(fn func(hub.ButtonEvent)) { s.store.OnButtonRelease(b, fn) })
}

func (s *Session) WaitForGesture(ctx context.Context) (hub.Gesture, error) {
	return waitOne(ctx, s, s.store.OnGesture)
}

// WaitForOrientation returns the current orientation on the first call of a
// session and the next change afterwards.
func (s *Session) WaitForOrientation(ctx context.Context) (hub.Orientation, error) {
	return waitOne(ctx, s, s.store.OnOrientation)
}

func (s *Session) WaitForForcePress(ctx context.Context, p hub.Port) (hub.ForceEvent, error) {
	if !p.Valid() {
		return hub.ForceEvent{}, ErrInvalidPort
	}

	return waitOne(ctx, s, func(fn func(hub.ForceEvent)) { s.store.OnForcePress(p, fn) })
}

func (s *Session) WaitForForceRelease(ctx context.Context, p hub.Port) (hub.ForceEvent, error) {
	if !p.Valid() {
		return hub.ForceEvent{}, ErrInvalidPort
	}

	return waitOne(ctx, s, func(fn func(hub.ForceEvent)) { s.store.OnForceRelease(p, fn) })
}
