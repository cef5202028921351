// Package intercept implements the priority-ordered matcher registry
// that short-circuits forwarding with canned responses.
package intercept

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/trace"
)

// entry pairs a spec with its activation count. Exhausted entries stay
// registered so stats queries keep working.
type entry struct {
	id         string
	spec       protocol.InterceptSpec
	matchCount int
}

// Stats is the externally visible state of one intercept.
type Stats struct {
	ID         string                 `json:"id"`
	Spec       protocol.InterceptSpec `json:"spec"`
	MatchCount int                    `json:"matchCount"`
	Active     bool                   `json:"active"`
}

// Match is the outcome of a registry hit: the canned response plus the
// delay the dispatcher must await before responding.
type Match struct {
	ID       string
	Response protocol.ResponsePayload
	DelayMs  int
}

// Registry holds intercepts for one session under a single lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, the priority tie-break
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register inserts a spec and returns its fresh intercept ID.
func (r *Registry) Register(spec protocol.InterceptSpec) string {
	id := trace.NewID()
	r.mu.Lock()
	r.entries[id] = &entry{id: id, spec: spec}
	r.order = append(r.order, id)
	r.mu.Unlock()
	return id
}

// Remove deletes an intercept. Returns false if the ID is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes all intercepts, or only those for the given service, and
// returns the number cleared.
func (r *Registry) Clear(service string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cleared := 0
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.entries[id]
		if service == "" || e.spec.Match.Service == service {
			delete(r.entries, id)
			cleared++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return cleared
}

// GetStats returns the stats for one intercept.
func (r *Registry) GetStats(id string) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Stats{}, false
	}
	return e.stats(), true
}

// List returns stats for every registered intercept in insertion order.
func (r *Registry) List() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].stats())
	}
	return out
}

func (e *entry) stats() Stats {
	return Stats{
		ID:         e.id,
		Spec:       e.spec,
		MatchCount: e.matchCount,
		Active:     e.spec.Times == 0 || e.matchCount < e.spec.Times,
	}
}

// MatchRequest scans active entries whose service matches and picks the
// highest-priority candidate (insertion order breaks ties). The winner's
// match count is incremented.
func (r *Registry) MatchRequest(req protocol.RequestPayload) *Match {
	fields := wellKnownFields(req.Payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	var best *entry
	for _, id := range r.order {
		e := r.entries[id]
		if e.spec.Match.Service != req.Service {
			continue
		}
		if e.spec.Times > 0 && e.matchCount >= e.spec.Times {
			continue
		}
		if !matchesFields(e.spec.Match, fields) {
			continue
		}
		if best == nil || e.spec.Priority > best.spec.Priority {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	best.matchCount++
	return &Match{ID: best.id, Response: best.spec.Response, DelayMs: best.spec.DelayMs}
}

// requestFields are the only payload fields the harness interprets.
type requestFields struct {
	FunctionName string `json:"functionName"`
	URL          string `json:"url"`
	Method       string `json:"method"`
}

func wellKnownFields(raw json.RawMessage) requestFields {
	var f requestFields
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &f)
	}
	return f
}

func matchesFields(m protocol.InterceptMatch, f requestFields) bool {
	if m.FunctionName != "" && m.FunctionName != f.FunctionName {
		return false
	}
	if m.Method != "" && m.Method != f.Method {
		return false
	}
	if m.URLMatch != nil {
		switch m.URLMatch.Type {
		case protocol.URLMatchExact:
			if f.URL != m.URLMatch.Value {
				return false
			}
		case protocol.URLMatchContains:
			if !strings.Contains(f.URL, m.URLMatch.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
