// Package recording defines the persisted scenario log and everything
// that produces or consumes it: the append-only recorder, compressed
// save/load, the lazy loader for large files, and the chunked hash
// indexer.
package recording

import (
	"encoding/json"
	"fmt"

	"github.com/snarg/wsreplay/internal/protocol"
)

// CurrentSchemaVersion is written on save. Version 1 recordings remain
// loadable.
const CurrentSchemaVersion = 2

// Recording is the persisted entity: one scenario's message log.
type Recording struct {
	SchemaVersion int               `json:"schemaVersion"`
	ScenarioName  string            `json:"scenarioName"`
	RecordedAt    string            `json:"recordedAt"`
	Messages      []RecordedMessage `json:"messages"`
}

// RecordedMessage is one captured frame. Only commands carry hashes;
// responses are located by scanning forward for the same recorded
// stream ID.
type RecordedMessage struct {
	Envelope   protocol.Envelope  `json:"envelope"`
	RecordedAt string             `json:"recordedAt"`
	Direction  protocol.Direction `json:"direction"`
	Hash       string             `json:"hash,omitempty"`
}

// Source is the read interface the player consumes. Both the eager
// Recording and the LazyRecording satisfy it.
type Source interface {
	Len() int
	// Message decodes and returns the message at index i.
	Message(i int) (RecordedMessage, error)
	// MessageHash returns the hash field of message i without decoding
	// the envelope.
	MessageHash(i int) (string, error)
}

func (r *Recording) Len() int { return len(r.Messages) }

func (r *Recording) Message(i int) (RecordedMessage, error) {
	if i < 0 || i >= len(r.Messages) {
		return RecordedMessage{}, fmt.Errorf("message index %d out of range", i)
	}
	return r.Messages[i], nil
}

func (r *Recording) MessageHash(i int) (string, error) {
	if i < 0 || i >= len(r.Messages) {
		return "", fmt.Errorf("message index %d out of range", i)
	}
	return r.Messages[i].Hash, nil
}

// LazyRecording keeps messages as raw JSON slots, decoded on access.
type LazyRecording struct {
	SchemaVersion int
	ScenarioName  string
	RecordedAt    string
	RawMessages   []json.RawMessage
}

func (l *LazyRecording) Len() int { return len(l.RawMessages) }

func (l *LazyRecording) Message(i int) (RecordedMessage, error) {
	if i < 0 || i >= len(l.RawMessages) {
		return RecordedMessage{}, fmt.Errorf("message index %d out of range", i)
	}
	var msg RecordedMessage
	if err := json.Unmarshal(l.RawMessages[i], &msg); err != nil {
		return RecordedMessage{}, fmt.Errorf("decode message %d: %w", i, err)
	}
	return msg, nil
}

// MessageHash does a shallow parse extracting only the top-level hash
// field; the envelope stays undecoded.
func (l *LazyRecording) MessageHash(i int) (string, error) {
	if i < 0 || i >= len(l.RawMessages) {
		return "", fmt.Errorf("message index %d out of range", i)
	}
	var probe struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(l.RawMessages[i], &probe); err != nil {
		return "", fmt.Errorf("probe message %d: %w", i, err)
	}
	return probe.Hash, nil
}

// validateSchema enforces schemaVersion ∈ [1, CurrentSchemaVersion].
func validateSchema(version int) error {
	if version < 1 || version > CurrentSchemaVersion {
		return protocol.SchemaIncompatible(version, CurrentSchemaVersion)
	}
	return nil
}
