package app

import (
	"context"
	"time"

	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/session"
)

const (
	reconnectBackoffMin = time.Second
	reconnectBackoffMax = 15 * time.Second
)

// RunSessions keeps a session on the configured transport until ctx is done.
// After a failed connect or a disconnect it waits and builds a fresh session,
// doubling the wait up to reconnectBackoffMax. onConnect runs once per
// connected session; an error from it closes the session and ends the loop.
func (r *Runtime) RunSessions(ctx context.Context, callbacks session.Callbacks, onConnect func(context.Context, *session.Session) error) error {
	logger := r.LogManager.Logger("runtime")
	minBackoff := r.backoffMin()
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		s, err := r.NewSession(callbacks)
		if err != nil {
			return err
		}
		if err := s.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("session connect failed", "error", err, "retry_in", backoff)
			r.publishReconnecting(err)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		if onConnect != nil {
			if err := onConnect(ctx, s); err != nil {
				_ = s.Close()
				return err
			}
		}

		select {
		case <-ctx.Done():
			_ = s.Close()
			return nil
		case <-s.Done():
		}
		logger.Warn("session lost", "error", s.Err(), "retry_in", backoff)
		r.publishReconnecting(s.Err())
		if !sleepWithContext(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

func (r *Runtime) backoffMin() time.Duration {
	if r.reconnectBackoff > 0 {
		return r.reconnectBackoff
	}
	return reconnectBackoffMin
}

func (r *Runtime) publishReconnecting(err error) {
	status := connectors.ConnectionStatus{
		State:     connectors.ConnectionStateReconnecting,
		Timestamp: time.Now(),
	}
	if r.ConnectionTransport != nil {
		status.TransportName = r.ConnectionTransport.Name()
		status.Target = r.ConnectionTransport.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	if r.Bus != nil {
		r.Bus.Publish(connectors.TopicConnStatus, status)
	}
	r.setConnStatus(status)
}

func nextBackoff(d time.Duration) time.Duration {
	if d >= reconnectBackoffMax {
		return reconnectBackoffMax
	}
	d *= 2
	if d > reconnectBackoffMax {
		return reconnectBackoffMax
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
