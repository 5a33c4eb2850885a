package session

import (
	"sync"
	"time"

	"github.com/skobkin/spikehub/internal/protocol"
)

// pendingRequest is a command waiting for the response carrying its id.
type pendingRequest struct {
	id           string
	method       protocol.Method
	registeredAt time.Time
	resolve      func(protocol.Frame)
	timer        *time.Timer
}

// registry maps live command ids to their continuations. At most one entry
// exists per id; an id becomes free again once its entry is resolved.
type registry struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*pendingRequest)}
}

// add registers p under id. It reports false when id is already live.
func (r *registry) add(id string, p *pendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	p.id = id
	r.entries[id] = p

	return true
}

// expire arms a deadline on p. onTimeout runs on a timer goroutine only if p
// is still registered when the deadline passes.
func (r *registry) expire(p *pendingRequest, d time.Duration, onTimeout func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[p.id] != p {
		return
	}
	p.timer = time.AfterFunc(d, func() {
		if r.remove(p) {
			onTimeout()
		}
	})
}

// take removes and returns the entry for id.
func (r *registry) take(id string) (*pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	if p.timer != nil {
		p.timer.Stop()
	}

	return p, true
}

// remove drops p if it is still the live entry for its id.
func (r *registry) remove(p *pendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[p.id] != p {
		return false
	}
	delete(r.entries, p.id)
	if p.timer != nil {
		p.timer.Stop()
	}

	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *registry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]

	return ok
}
