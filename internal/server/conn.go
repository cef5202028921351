package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/handler"
	"github.com/snarg/wsreplay/internal/metrics"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/session"
)

// wsConn is one program-side connection. Frames are processed in
// receive order; writes are serialized because gorilla allows a single
// concurrent writer.
type wsConn struct {
	srv  *Server
	conn *websocket.Conn
	sess *session.Session
	log  zerolog.Logger

	writeMu sync.Mutex

	upstream *upstreamBridge
}

func newWSConn(s *Server, conn *websocket.Conn, sess *session.Session) *wsConn {
	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	if sess != nil {
		log = log.With().Str("session", sess.ID).Logger()
	}
	return &wsConn{srv: s, conn: conn, sess: sess, log: log}
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return err
	}
	metrics.FramesSentTotal.Inc()
	return nil
}

// run reads frames until the peer disconnects. Called synchronously
// from the upgrade handler.
func (c *wsConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()

	if c.sess != nil && c.needsUpstream() {
		bridge, err := dialUpstream(ctx, c)
		if err != nil {
			c.log.Warn().Err(err).Str("upstream", c.srv.opts.UpstreamURL).Msg("upstream dial failed")
		} else {
			c.upstream = bridge
			defer bridge.close()
		}
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		c.processFrame(ctx, data)
	}
}

func (c *wsConn) needsUpstream() bool {
	if c.srv.opts.UpstreamURL == "" {
		return false
	}
	return c.sess.Mode == session.ModePassthrough || c.sess.Mode == session.ModeRecord
}

// processFrame classifies and dispatches one frame. A panic anywhere in
// the dispatch path answers the frame instead of killing the process.
func (c *wsConn) processFrame(ctx context.Context, data []byte) {
	defer func() {
		if rv := recover(); rv != nil {
			c.log.Error().Interface("panic", rv).Msg("recovered from panic in frame dispatch")
			c.writeJSON(map[string]any{
				"error": protocol.InternalError("panic during dispatch"),
			})
		}
	}()

	var probe struct {
		RequestID string           `json:"requestId"`
		Channel   protocol.Channel `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		metrics.FramesReceivedTotal.WithLabelValues("invalid").Inc()
		c.writeJSON(map[string]string{"error": "unparseable frame: " + err.Error()})
		return
	}

	switch {
	case probe.RequestID != "":
		metrics.FramesReceivedTotal.WithLabelValues("control").Inc()
		var req protocol.ControlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.writeJSON(protocol.ControlFail(probe.RequestID, protocol.ParseError(err.Error())))
			return
		}
		c.writeJSON(c.handleControl(ctx, req))

	case probe.Channel != "":
		metrics.FramesReceivedTotal.WithLabelValues("envelope").Inc()
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.writeJSON(map[string]string{"error": "undecodable envelope: " + err.Error()})
			return
		}
		c.handleEnvelope(ctx, env)

	default:
		metrics.FramesReceivedTotal.WithLabelValues("unknown").Inc()
		c.writeJSON(map[string]string{"error": "frame is neither an envelope nor a control request"})
	}
}

func (c *wsConn) handleEnvelope(ctx context.Context, env protocol.Envelope) {
	if c.sess == nil {
		werr := protocol.InvalidRequest("data traffic requires a session-bound connection")
		c.writeJSON(protocol.ErrorEvent(env, werr))
		return
	}

	res, err := handler.Handle(ctx, c.sess, env)
	if err != nil {
		c.writeJSON(protocol.ErrorEvent(env, protocol.AsWireError(err)))
		return
	}

	switch res.Kind {
	case handler.RespondDirectly, handler.ForwardToProgram:
		c.writeJSON(res.Envelope)
	case handler.ForwardToPlatform:
		if c.upstream == nil {
			werr := protocol.MessageSendFailed("no upstream configured", env.StreamID)
			c.writeJSON(protocol.ErrorEvent(env, werr))
			return
		}
		if err := c.upstream.send(res.Envelope); err != nil {
			werr := protocol.MessageSendFailed(err.Error(), env.StreamID)
			c.writeJSON(protocol.ErrorEvent(env, werr))
		}
	case handler.NoResponse:
	}
}

// upstreamBridge is the platform-side leg of a passthrough or record
// session. Events read from it re-enter the dispatch path and flow back
// to the program connection.
type upstreamBridge struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialUpstream(ctx context.Context, c *wsConn) (*upstreamBridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.srv.opts.UpstreamURL, nil)
	if err != nil {
		return nil, err
	}
	b := &upstreamBridge{conn: conn}
	go b.readLoop(ctx, c)
	c.log.Info().Str("upstream", c.srv.opts.UpstreamURL).Msg("upstream bridge connected")
	return b, nil
}

func (b *upstreamBridge) send(env protocol.Envelope) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteJSON(env)
}

func (b *upstreamBridge) close() {
	b.conn.Close()
}

func (b *upstreamBridge) readLoop(ctx context.Context, c *wsConn) {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable upstream frame")
			continue
		}
		env.Channel = protocol.ChannelPlatform

		res, err := handler.Handle(ctx, c.sess, env)
		if err != nil {
			c.writeJSON(protocol.ErrorEvent(env, protocol.AsWireError(err)))
			continue
		}
		if res.Kind == handler.ForwardToProgram || res.Kind == handler.RespondDirectly {
			c.writeJSON(res.Envelope)
		}
	}
}
