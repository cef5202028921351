package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes, JSON-tagged on the wire.
const (
	// Transport
	CodeConnectionFailed  = "connection_failed"
	CodeMessageSendFailed = "message_send_failed"
	CodeServerStartFailed = "server_start_failed"
	CodeConnectionClosed  = "connection_closed"

	// Protocol
	CodeParseError        = "parse_error"
	CodeDecodeError       = "decode_error"
	CodeUnexpectedChannel = "unexpected_channel"
	CodeUnexpectedCommand = "unexpected_command"
	CodeUnexpectedClose   = "unexpected_close"

	// Correlation
	CodeNoPendingForward = "no_pending_forward"

	// Playback
	CodeNoMatchFound      = "no_match_found"
	CodeAllMatchesUsed    = "all_matches_used"
	CodeInvalidRequest    = "invalid_request"
	CodeUnexpectedPayload = "unexpected_payload"

	// Session
	CodeSessionAlreadyExists = "session_already_exists"
	CodeSessionNotFound      = "session_not_found"
	CodeRecordingLoadFailed  = "recording_load_failed"
	CodeRecordingSaveFailed  = "recording_save_failed"
	CodeSchemaIncompatible   = "schema_incompatible"

	// Client
	CodeRequestTimeout = "request_timeout"
	CodeUnexpected     = "unexpected"

	// Harness
	CodeInternalError = "harness_internal_error"
)

// WireError is the tagged error shape shared between the harness and its
// clients. It implements error so handler code can return it directly.
type WireError struct {
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	StreamID StreamID        `json:"streamId,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
}

func (e *WireError) Error() string {
	if e.StreamID != "" {
		return fmt.Sprintf("%s: %s (stream %s)", e.Code, e.Message, e.StreamID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches wire errors by code so errors.Is works against sentinels.
func (e *WireError) Is(target error) bool {
	var we *WireError
	if errors.As(target, &we) {
		return e.Code == we.Code
	}
	return false
}

// AsWireError converts any error into a WireError, wrapping unknown
// errors as harness-internal.
func AsWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	var we *WireError
	if errors.As(err, &we) {
		return we
	}
	return &WireError{Code: CodeInternalError, Message: err.Error()}
}

// IsCode reports whether err is a WireError with the given code.
func IsCode(err error, code string) bool {
	var we *WireError
	return errors.As(err, &we) && we.Code == code
}

func ConnectionFailed(msg string) *WireError {
	return &WireError{Code: CodeConnectionFailed, Message: msg}
}

func ParseError(msg string) *WireError {
	return &WireError{Code: CodeParseError, Message: msg}
}

func DecodeError(msg string) *WireError {
	return &WireError{Code: CodeDecodeError, Message: msg}
}

func UnexpectedChannel(ch Channel, streamID StreamID) *WireError {
	return &WireError{
		Code:     CodeUnexpectedChannel,
		Message:  fmt.Sprintf("unexpected channel %q", ch),
		StreamID: streamID,
	}
}

func UnexpectedCommand(msg string, streamID StreamID) *WireError {
	return &WireError{Code: CodeUnexpectedCommand, Message: msg, StreamID: streamID}
}

func NoPendingForward(streamID StreamID) *WireError {
	return &WireError{
		Code:     CodeNoPendingForward,
		Message:  "no pending forward for stream",
		StreamID: streamID,
	}
}

func NoMatchFound(req json.RawMessage) *WireError {
	return &WireError{Code: CodeNoMatchFound, Message: "no recorded match for request", Details: req}
}

func AllMatchesUsed(req json.RawMessage) *WireError {
	return &WireError{Code: CodeAllMatchesUsed, Message: "all recorded matches consumed", Details: req}
}

func InvalidRequest(reason string) *WireError {
	return &WireError{Code: CodeInvalidRequest, Message: reason}
}

func UnexpectedPayload(reason string) *WireError {
	return &WireError{Code: CodeUnexpectedPayload, Message: reason}
}

func SessionAlreadyExists(id string) *WireError {
	return &WireError{Code: CodeSessionAlreadyExists, Message: fmt.Sprintf("session %q already exists", id)}
}

func SessionNotFound(id string) *WireError {
	return &WireError{Code: CodeSessionNotFound, Message: fmt.Sprintf("session %q not found", id)}
}

func RecordingLoadFailed(reason string) *WireError {
	return &WireError{Code: CodeRecordingLoadFailed, Message: reason}
}

func RecordingSaveFailed(reason string) *WireError {
	return &WireError{Code: CodeRecordingSaveFailed, Message: reason}
}

// SchemaIncompatible carries found/expected versions as structured details.
func SchemaIncompatible(found, expected int) *WireError {
	details, _ := json.Marshal(map[string]int{"found": found, "expected": expected})
	return &WireError{
		Code:    CodeSchemaIncompatible,
		Message: fmt.Sprintf("Incompatible schema version: found %d, expected %d", found, expected),
		Details: details,
	}
}

func MessageSendFailed(msg string, streamID StreamID) *WireError {
	return &WireError{Code: CodeMessageSendFailed, Message: msg, StreamID: streamID}
}

func ConnectionClosed() *WireError {
	return &WireError{Code: CodeConnectionClosed, Message: "connection closed"}
}

func RequestTimeout(streamID StreamID) *WireError {
	return &WireError{Code: CodeRequestTimeout, Message: "request timed out", StreamID: streamID}
}

func Unexpected(msg string) *WireError {
	return &WireError{Code: CodeUnexpected, Message: msg}
}

func InternalError(msg string) *WireError {
	return &WireError{Code: CodeInternalError, Message: msg}
}

// ErrorEvent wraps a wire error into an Event.Close envelope that reuses
// the routing fields of the offending command so the client can correlate
// the failure.
func ErrorEvent(cause Envelope, werr *WireError) Envelope {
	raw, _ := json.Marshal(werr)
	return Envelope{
		StreamID:          cause.StreamID,
		TraceID:           cause.TraceID,
		CausationStreamID: cause.CausationStreamID,
		ParentStreamID:    cause.ParentStreamID,
		SiblingIndex:      cause.SiblingIndex,
		EventSeq:          1,
		Timestamp:         Now(),
		Channel:           ChannelProgram,
		Payload: CloseEvent(ResponsePayload{
			Service: "error",
			Payload: raw,
		}),
	}
}
