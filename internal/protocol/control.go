package protocol

import "encoding/json"

// Control command names accepted on the wire.
const (
	CmdCreateSession     = "create_session"
	CmdCloseSession      = "close_session"
	CmdListSessions      = "list_sessions"
	CmdGetStatus         = "get_status"
	CmdGetMessages       = "get_messages"
	CmdGetMessageCount   = "get_message_count"
	CmdRegisterIntercept = "register_intercept"
	CmdRemoveIntercept   = "remove_intercept"
	CmdClearIntercepts   = "clear_intercepts"
	CmdListIntercepts    = "list_intercepts"
	CmdGetInterceptStats = "get_intercept_stats"
	CmdListRecordings    = "list_recordings"
)

// ControlRequest is the frame shape for control-plane traffic. The client
// supplies the requestId and correlates the ControlResponse by it.
type ControlRequest struct {
	RequestID string         `json:"requestId"`
	Payload   ControlPayload `json:"payload"`
}

// ControlPayload carries the command name plus its arguments. Unused
// arguments are omitted on the wire.
type ControlPayload struct {
	Command       string         `json:"command"`
	SessionID     string         `json:"sessionId,omitempty"`
	Mode          string         `json:"mode,omitempty"`
	RecordingPath string         `json:"recordingPath,omitempty"`
	Filter        *MessageFilter `json:"filter,omitempty"`
	Intercept     *InterceptSpec `json:"intercept,omitempty"`
	InterceptID   string         `json:"interceptId,omitempty"`
	Service       string         `json:"service,omitempty"`
}

// MessageFilter narrows get_messages / get_message_count results.
type MessageFilter struct {
	Service   string    `json:"service,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// ControlResponse answers a ControlRequest.
type ControlResponse struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
}

// ControlOK builds a successful response, marshaling the payload.
func ControlOK(requestID string, payload any) ControlResponse {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ControlFail(requestID, InternalError("encode control payload: "+err.Error()))
	}
	return ControlResponse{RequestID: requestID, Success: true, Payload: raw}
}

// ControlFail builds a failed response carrying the wire error.
func ControlFail(requestID string, err error) ControlResponse {
	return ControlResponse{RequestID: requestID, Success: false, Error: AsWireError(err)}
}

// URLMatch selects how an intercept compares request URLs.
type URLMatch struct {
	Type  string `json:"type"` // "exact" or "contains"
	Value string `json:"value"`
}

// URL match types.
const (
	URLMatchExact    = "exact"
	URLMatchContains = "contains"
)

// InterceptMatch is the predicate half of an InterceptSpec. Only the
// four well-known string fields of the opaque request payload are
// consulted.
type InterceptMatch struct {
	Service      string    `json:"service"`
	FunctionName string    `json:"functionName,omitempty"`
	URLMatch     *URLMatch `json:"urlMatch,omitempty"`
	Method       string    `json:"method,omitempty"`
}

// InterceptSpec is a user-registered rule that short-circuits matching
// requests with a canned response.
type InterceptSpec struct {
	Match    InterceptMatch  `json:"match"`
	Response ResponsePayload `json:"response"`
	Priority int             `json:"priority"`
	Times    int             `json:"times,omitempty"` // 0 = unlimited
	DelayMs  int             `json:"delay,omitempty"`
}
