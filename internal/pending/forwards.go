// Package pending tracks in-flight exchanges: commands forwarded to the
// platform awaiting their event, and client requests awaiting responses.
package pending

import (
	"sync"

	"github.com/snarg/wsreplay/internal/protocol"
)

// Forwards correlates platform events back to the command that caused
// them. Register happens-before Resolve for any given stream ID.
type Forwards struct {
	mu      sync.Mutex
	entries map[protocol.StreamID]protocol.Envelope
}

func NewForwards() *Forwards {
	return &Forwards{entries: make(map[protocol.StreamID]protocol.Envelope)}
}

// Register stores the original command envelope under its stream ID.
func (f *Forwards) Register(env protocol.Envelope) {
	f.mu.Lock()
	f.entries[env.StreamID] = env
	f.mu.Unlock()
}

// Resolve removes and returns the pending entry. A second resolve of the
// same stream ID returns false.
func (f *Forwards) Resolve(id protocol.StreamID) (protocol.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.entries[id]
	if ok {
		delete(f.entries, id)
	}
	return env, ok
}

// Peek returns the pending entry without consuming it.
func (f *Forwards) Peek(id protocol.StreamID) (protocol.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.entries[id]
	return env, ok
}

// Len reports the number of outstanding forwards.
func (f *Forwards) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
