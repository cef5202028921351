package pending

import (
	"sync"

	"github.com/snarg/wsreplay/internal/protocol"
)

// Callback receives either the response envelope or a terminal error.
// It is invoked exactly once, outside the table lock.
type Callback func(env protocol.Envelope, err error)

// Requests is the client-side table of outstanding requests keyed by
// stream ID.
type Requests struct {
	mu      sync.Mutex
	entries map[protocol.StreamID]Callback
}

func NewRequests() *Requests {
	return &Requests{entries: make(map[protocol.StreamID]Callback)}
}

// Register installs a callback for the stream.
func (r *Requests) Register(id protocol.StreamID, cb Callback) {
	r.mu.Lock()
	r.entries[id] = cb
	r.mu.Unlock()
}

// Resolve delivers a response to the waiting callback. Returns false if
// no entry exists (already resolved or never registered).
func (r *Requests) Resolve(env protocol.Envelope) bool {
	r.mu.Lock()
	cb, ok := r.entries[env.StreamID]
	if ok {
		delete(r.entries, env.StreamID)
	}
	r.mu.Unlock()
	if ok {
		cb(env, nil)
	}
	return ok
}

// ResolveWithError terminates a single request with an error.
func (r *Requests) ResolveWithError(id protocol.StreamID, err error) bool {
	r.mu.Lock()
	cb, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if ok {
		cb(protocol.Envelope{}, err)
	}
	return ok
}

// CancelAll terminates every outstanding request with the given error.
// Used on disconnect.
func (r *Requests) CancelAll(err error) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[protocol.StreamID]Callback)
	r.mu.Unlock()
	for _, cb := range entries {
		cb(protocol.Envelope{}, err)
	}
}

// Len reports the number of outstanding requests.
func (r *Requests) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
