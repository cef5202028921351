package protocol

import (
	"encoding/json"
	"time"
)

// Channel is one of the three virtual lanes multiplexed over a single
// websocket connection. Commands travel on program, events on platform,
// and control traffic uses the separate ControlRequest shape.
type Channel string

const (
	ChannelProgram  Channel = "program"
	ChannelPlatform Channel = "platform"
	ChannelControl  Channel = "control"
)

// Direction records which way a message crossed the harness boundary.
// Persisted in recordings.
type Direction string

const (
	DirectionToHarness   Direction = "to_harness"
	DirectionFromHarness Direction = "from_harness"
)

// StreamID identifies a single request/response exchange. ULID text form.
type StreamID string

// TraceID identifies a saga — a causally related family of streams.
type TraceID string

// Envelope is the routing and identity wrapper around every payload.
// Envelopes are immutable after construction; rewrites produce copies.
type Envelope struct {
	StreamID          StreamID  `json:"streamId"`
	TraceID           TraceID   `json:"traceId"`
	CausationStreamID *StreamID `json:"causationStreamId"`
	ParentStreamID    *StreamID `json:"parentStreamId"`
	SiblingIndex      int       `json:"siblingIndex"`
	EventSeq          int       `json:"eventSeq"`
	Timestamp         string    `json:"timestamp"`
	Channel           Channel   `json:"channel"`
	PayloadHash       *string   `json:"payloadHash"`
	Payload           Payload   `json:"payload"`
}

// Payload is the tagged inner message of an envelope. The inner payload
// stays raw so recorded bytes survive decode/encode untouched.
type Payload struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload type tags on the wire.
const (
	TypeOpen  = "open"
	TypeClose = "close"
	TypeData  = "data"
)

// Kind classifies a payload after discrimination.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommandOpen
	KindCommandClose
	KindEventData
	KindEventClose
)

// Kind discriminates the payload:
//
//	"open"                      → Command.Open
//	"close" without inner body  → Command.Close
//	"close" with inner body     → Event.Close
//	"data"                      → Event.Data
func (p Payload) Kind() Kind {
	switch p.Type {
	case TypeOpen:
		return KindCommandOpen
	case TypeClose:
		if len(p.Payload) == 0 || string(p.Payload) == "null" {
			return KindCommandClose
		}
		return KindEventClose
	case TypeData:
		return KindEventData
	}
	return KindUnknown
}

// RequestPayload is the body of a Command.Open. The payload is opaque to
// the harness beyond the well-known string fields used for intercept
// matching.
type RequestPayload struct {
	Service string          `json:"service"`
	Payload json.RawMessage `json:"payload"`
}

// ResponsePayload is the body of an Event.Close.
type ResponsePayload struct {
	Service string          `json:"service"`
	Payload json.RawMessage `json:"payload"`
}

// Request decodes the envelope payload as a RequestPayload. Valid only
// for KindCommandOpen.
func (e Envelope) Request() (RequestPayload, error) {
	var req RequestPayload
	if err := json.Unmarshal(e.Payload.Payload, &req); err != nil {
		return RequestPayload{}, DecodeError("request payload: " + err.Error())
	}
	return req, nil
}

// Response decodes the envelope payload as a ResponsePayload. Valid only
// for KindEventClose.
func (e Envelope) Response() (ResponsePayload, error) {
	var resp ResponsePayload
	if err := json.Unmarshal(e.Payload.Payload, &resp); err != nil {
		return ResponsePayload{}, DecodeError("response payload: " + err.Error())
	}
	return resp, nil
}

// OpenCommand builds the payload for a Command.Open.
func OpenCommand(req RequestPayload) Payload {
	raw, _ := json.Marshal(req)
	return Payload{Type: TypeOpen, Payload: raw}
}

// CloseCommand builds the payload for a Command.Close.
func CloseCommand() Payload {
	return Payload{Type: TypeClose}
}

// CloseEvent builds the payload for an Event.Close.
func CloseEvent(resp ResponsePayload) Payload {
	raw, _ := json.Marshal(resp)
	return Payload{Type: TypeClose, Payload: raw}
}

// DataEvent builds the payload for an Event.Data chunk.
func DataEvent(chunk json.RawMessage) Payload {
	return Payload{Type: TypeData, Payload: chunk}
}

// Now returns the wire timestamp format: RFC3339 UTC.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Encode serializes any wire shape to a single JSON frame.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeEnvelope parses a frame as an Envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, ParseError(err.Error())
	}
	return env, nil
}
