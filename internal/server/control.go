package server

import (
	"context"
	"time"

	"github.com/snarg/wsreplay/internal/catalog"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/session"
	"github.com/snarg/wsreplay/internal/trace"
)

// topLevelCommands are the only commands accepted on a connection that
// is not bound to a session.
var topLevelCommands = map[string]bool{
	protocol.CmdCreateSession:  true,
	protocol.CmdCloseSession:   true,
	protocol.CmdListSessions:   true,
	protocol.CmdGetStatus:      true,
	protocol.CmdListRecordings: true,
}

func (c *wsConn) handleControl(ctx context.Context, req protocol.ControlRequest) protocol.ControlResponse {
	p := req.Payload
	if c.sess == nil && !topLevelCommands[p.Command] {
		return protocol.ControlFail(req.RequestID,
			protocol.InvalidRequest("command "+p.Command+" requires a session-bound connection"))
	}

	switch p.Command {
	case protocol.CmdCreateSession:
		return c.createSession(ctx, req)
	case protocol.CmdCloseSession:
		return c.closeSession(req)
	case protocol.CmdListSessions:
		return protocol.ControlOK(req.RequestID, map[string]any{"sessions": c.srv.sessions.List()})
	case protocol.CmdGetStatus:
		return c.getStatus(req)
	case protocol.CmdGetMessages:
		return c.getMessages(req, false)
	case protocol.CmdGetMessageCount:
		return c.getMessages(req, true)
	case protocol.CmdRegisterIntercept:
		return c.registerIntercept(req)
	case protocol.CmdRemoveIntercept:
		return c.removeIntercept(req)
	case protocol.CmdClearIntercepts:
		return c.clearIntercepts(req)
	case protocol.CmdListIntercepts:
		return c.listIntercepts(req)
	case protocol.CmdGetInterceptStats:
		return c.getInterceptStats(req)
	case protocol.CmdListRecordings:
		return c.listRecordings(req)
	}
	return protocol.ControlFail(req.RequestID,
		protocol.InvalidRequest("unknown control command "+p.Command))
}

// boundSession resolves the target session: the connection binding wins,
// a sessionId argument works on top-level connections.
func (c *wsConn) boundSession(p protocol.ControlPayload) (*session.Session, error) {
	if c.sess != nil {
		return c.sess, nil
	}
	if p.SessionID == "" {
		return nil, protocol.InvalidRequest("sessionId required")
	}
	return c.srv.sessions.Get(p.SessionID)
}

func (c *wsConn) createSession(ctx context.Context, req protocol.ControlRequest) protocol.ControlResponse {
	p := req.Payload
	id := p.SessionID
	if id == "" {
		id = trace.NewID()
	}
	mode, err := session.ParseMode(p.Mode)
	if err != nil {
		return protocol.ControlFail(req.RequestID, protocol.InvalidRequest(err.Error()))
	}
	s, err := c.srv.sessions.Create(ctx, session.Options{
		ID:            id,
		Mode:          mode,
		RecordingPath: p.RecordingPath,
	})
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	return protocol.ControlOK(req.RequestID, map[string]any{
		"sessionId": s.ID,
		"mode":      string(s.Mode),
	})
}

func (c *wsConn) closeSession(req protocol.ControlRequest) protocol.ControlResponse {
	id := req.Payload.SessionID
	if id == "" && c.sess != nil {
		id = c.sess.ID
	}
	if id == "" {
		return protocol.ControlFail(req.RequestID, protocol.InvalidRequest("sessionId required"))
	}
	if err := c.srv.sessions.Close(id); err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	return protocol.ControlOK(req.RequestID, map[string]any{"sessionId": id, "closed": true})
}

func (c *wsConn) getStatus(req protocol.ControlRequest) protocol.ControlResponse {
	payload := map[string]any{
		"version":       c.srv.opts.Version,
		"uptimeSeconds": int(time.Since(c.srv.startTime).Seconds()),
		"sessions":      c.srv.sessions.Len(),
	}
	if c.sess != nil {
		payload["session"] = c.sess.Info()
	}
	return protocol.ControlOK(req.RequestID, payload)
}

func (c *wsConn) getMessages(req protocol.ControlRequest, countOnly bool) protocol.ControlResponse {
	s, err := c.boundSession(req.Payload)
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	f := req.Payload.Filter
	if f == nil {
		f = &protocol.MessageFilter{}
	}
	msgs := s.FilteredMessages(f.Service, string(f.Direction), f.Limit, f.Offset)
	if countOnly {
		return protocol.ControlOK(req.RequestID, map[string]any{"count": len(msgs)})
	}
	return protocol.ControlOK(req.RequestID, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (c *wsConn) registerIntercept(req protocol.ControlRequest) protocol.ControlResponse {
	s, err := c.boundSession(req.Payload)
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	if req.Payload.Intercept == nil {
		return protocol.ControlFail(req.RequestID, protocol.InvalidRequest("intercept spec required"))
	}
	id := s.Intercepts.Register(*req.Payload.Intercept)
	return protocol.ControlOK(req.RequestID, map[string]any{"interceptId": id})
}

func (c *wsConn) removeIntercept(req protocol.ControlRequest) protocol.ControlResponse {
	s, err := c.boundSession(req.Payload)
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	if !s.Intercepts.Remove(req.Payload.InterceptID) {
		return protocol.ControlFail(req.RequestID,
			protocol.InvalidRequest("unknown intercept "+req.Payload.InterceptID))
	}
	return protocol.ControlOK(req.RequestID, map[string]any{"removed": true})
}

func (c *wsConn) clearIntercepts(req protocol.ControlRequest) protocol.ControlResponse {
	s, err := c.boundSession(req.Payload)
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	n := s.Intercepts.Clear(req.Payload.Service)
	return protocol.ControlOK(req.RequestID, map[string]any{"removed": n})
}

func (c *wsConn) listIntercepts(req protocol.ControlRequest) protocol.ControlResponse {
	s, err := c.boundSession(req.Payload)
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	return protocol.ControlOK(req.RequestID, map[string]any{"intercepts": s.Intercepts.List()})
}

func (c *wsConn) getInterceptStats(req protocol.ControlRequest) protocol.ControlResponse {
	s, err := c.boundSession(req.Payload)
	if err != nil {
		return protocol.ControlFail(req.RequestID, err)
	}
	stats, ok := s.Intercepts.GetStats(req.Payload.InterceptID)
	if !ok {
		return protocol.ControlFail(req.RequestID,
			protocol.InvalidRequest("unknown intercept "+req.Payload.InterceptID))
	}
	return protocol.ControlOK(req.RequestID, stats)
}

func (c *wsConn) listRecordings(req protocol.ControlRequest) protocol.ControlResponse {
	var entries []catalog.Entry
	if c.srv.catalog != nil {
		entries = c.srv.catalog.List()
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	return protocol.ControlOK(req.RequestID, map[string]any{"recordings": entries})
}
