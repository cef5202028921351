// Package translate maintains the per-session bidirectional mapping
// between recording-time and playback-time identifiers. Recorded nested
// requests carry recording-time causation IDs; translating them at the
// boundary keeps replayed flows routable.
package translate

import (
	"sync"

	"github.com/snarg/wsreplay/internal/protocol"
)

// Map holds four lookup tables: stream and trace IDs, each in both
// directions. It grows monotonically within a session.
type Map struct {
	mu            sync.RWMutex
	streamToPlay  map[protocol.StreamID]protocol.StreamID
	streamToRec   map[protocol.StreamID]protocol.StreamID
	traceToPlay   map[protocol.TraceID]protocol.TraceID
	traceToRec    map[protocol.TraceID]protocol.TraceID
}

func NewMap() *Map {
	return &Map{
		streamToPlay: make(map[protocol.StreamID]protocol.StreamID),
		streamToRec:  make(map[protocol.StreamID]protocol.StreamID),
		traceToPlay:  make(map[protocol.TraceID]protocol.TraceID),
		traceToRec:   make(map[protocol.TraceID]protocol.TraceID),
	}
}

// RecordStream registers a recording-time ↔ playback-time stream pair.
func (m *Map) RecordStream(recorded, playback protocol.StreamID) {
	m.mu.Lock()
	m.streamToPlay[recorded] = playback
	m.streamToRec[playback] = recorded
	m.mu.Unlock()
}

// RecordTrace registers a recording-time ↔ playback-time trace pair.
func (m *Map) RecordTrace(recorded, playback protocol.TraceID) {
	m.mu.Lock()
	m.traceToPlay[recorded] = playback
	m.traceToRec[playback] = recorded
	m.mu.Unlock()
}

// StreamToPlayback resolves a recording-time stream ID, reporting whether
// a mapping exists.
func (m *Map) StreamToPlayback(recorded protocol.StreamID) (protocol.StreamID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.streamToPlay[recorded]
	return id, ok
}

// StreamToRecord resolves a playback-time stream ID.
func (m *Map) StreamToRecord(playback protocol.StreamID) (protocol.StreamID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.streamToRec[playback]
	return id, ok
}

// ToPlayback rewrites an envelope's identifiers from recording-time to
// playback-time. Unmapped fields pass through unchanged.
func (m *Map) ToPlayback(env protocol.Envelope) protocol.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rewrite(env, m.streamToPlay, m.traceToPlay)
}

// ToRecord rewrites an envelope's identifiers from playback-time to
// recording-time.
func (m *Map) ToRecord(env protocol.Envelope) protocol.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rewrite(env, m.streamToRec, m.traceToRec)
}

// rewrite is called with m.mu held.
func (m *Map) rewrite(env protocol.Envelope, streams map[protocol.StreamID]protocol.StreamID, traces map[protocol.TraceID]protocol.TraceID) protocol.Envelope {
	if id, ok := streams[env.StreamID]; ok {
		env.StreamID = id
	}
	if id, ok := traces[env.TraceID]; ok {
		env.TraceID = id
	}
	if env.CausationStreamID != nil {
		if id, ok := streams[*env.CausationStreamID]; ok {
			mapped := id
			env.CausationStreamID = &mapped
		}
	}
	if env.ParentStreamID != nil {
		if id, ok := streams[*env.ParentStreamID]; ok {
			mapped := id
			env.ParentStreamID = &mapped
		}
	}
	return env
}
