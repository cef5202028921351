// Package trace generates the monotonic 128-bit identifiers that tie
// streams and sagas together, and builds envelopes with the right
// parent/causation bookkeeping.
package trace

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snarg/wsreplay/internal/protocol"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newULID returns a fresh ULID. The monotonic entropy source guarantees
// strict ordering for IDs minted within the same millisecond.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewStreamID mints a stream identifier.
func NewStreamID() protocol.StreamID {
	return protocol.StreamID(newULID())
}

// NewTraceID mints a saga identifier.
func NewTraceID() protocol.TraceID {
	return protocol.TraceID(newULID())
}

// NewID mints an untyped ULID string (request IDs, intercept IDs).
func NewID() string {
	return newULID()
}

// NewCommand builds a fresh program-channel command envelope opening a
// new stream under a new trace.
func NewCommand(payload protocol.Payload) protocol.Envelope {
	return protocol.Envelope{
		StreamID:  NewStreamID(),
		TraceID:   NewTraceID(),
		EventSeq:  0,
		Timestamp: protocol.Now(),
		Channel:   protocol.ChannelProgram,
		Payload:   payload,
	}
}

// ChildCommand builds a command issued in response to another stream's
// event: same trace, causation pointing at the triggering stream.
func ChildCommand(cause protocol.Envelope, payload protocol.Payload) protocol.Envelope {
	causeID := cause.StreamID
	return protocol.Envelope{
		StreamID:          NewStreamID(),
		TraceID:           cause.TraceID,
		CausationStreamID: &causeID,
		EventSeq:          0,
		Timestamp:         protocol.Now(),
		Channel:           protocol.ChannelProgram,
		Payload:           payload,
	}
}

// SiblingCommand builds a command in a parallel slot under a lexical
// parent stream.
func SiblingCommand(parent protocol.Envelope, siblingIndex int, payload protocol.Payload) protocol.Envelope {
	parentID := parent.StreamID
	return protocol.Envelope{
		StreamID:       NewStreamID(),
		TraceID:        parent.TraceID,
		ParentStreamID: &parentID,
		SiblingIndex:   siblingIndex,
		EventSeq:       0,
		Timestamp:      protocol.Now(),
		Channel:        protocol.ChannelProgram,
		Payload:        payload,
	}
}
