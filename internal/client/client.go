// Package client is the harness-side helper used by tooling and tests:
// it dials the harness, correlates command envelopes with their closing
// events, and runs control-plane round trips.
package client

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/pending"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/trace"
)

// Options configures a client connection.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:8080/.
	URL string
	// SocketPath dials a UNIX socket instead of TCP. URL still carries
	// the path and query.
	SocketPath string
	// Session binds the connection to an existing session.
	Session string
	// Timeout bounds Call and Control round trips. Zero means 30s.
	Timeout time.Duration

	Log zerolog.Logger
}

// Client is a single harness connection. Safe for concurrent use.
type Client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	requests *pending.Requests
	timeout  time.Duration
	log      zerolog.Logger

	controlMu sync.Mutex
	controls  map[string]chan protocol.ControlResponse

	// OnData receives interim data events, which do not resolve a Call.
	OnData func(protocol.Envelope)

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	dialer := websocket.Dialer{}
	if opts.SocketPath != "" {
		dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", opts.SocketPath)
		}
	}

	url := opts.URL
	if opts.Session != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "session=" + opts.Session
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, protocol.ConnectionFailed(err.Error())
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		conn:     conn,
		requests: pending.NewRequests(),
		timeout:  timeout,
		log:      opts.Log.With().Str("component", "client").Logger(),
		controls: make(map[string]chan protocol.ControlResponse),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down. Outstanding calls fail with
// connection_closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.requests.CancelAll(protocol.ConnectionClosed())
		c.failControls()
	})
}

func (c *Client) failControls() {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	for id, ch := range c.controls {
		ch <- protocol.ControlFail(id, protocol.ConnectionClosed())
		delete(c.controls, id)
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return protocol.MessageSendFailed(err.Error(), "")
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var probe struct {
		RequestID string           `json:"requestId"`
		Channel   protocol.Channel `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.log.Warn().Err(err).Msg("unparseable frame")
		return
	}

	if probe.RequestID != "" {
		var resp protocol.ControlResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warn().Err(err).Msg("undecodable control response")
			return
		}
		c.controlMu.Lock()
		ch, ok := c.controls[resp.RequestID]
		if ok {
			delete(c.controls, resp.RequestID)
		}
		c.controlMu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("undecodable envelope")
		return
	}

	// Data chunks are interim; only a close event resolves the call.
	if env.Payload.Kind() == protocol.KindEventData {
		if c.OnData != nil {
			c.OnData(env)
		}
		return
	}
	if !c.requests.Resolve(env) {
		c.log.Debug().Str("stream", string(env.StreamID)).Msg("event for unknown stream")
	}
}

// Call sends a command envelope and waits for the closing event of its
// stream.
func (c *Client) Call(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	type outcome struct {
		env protocol.Envelope
		err error
	}
	ch := make(chan outcome, 1)
	c.requests.Register(env.StreamID, func(ev protocol.Envelope, err error) {
		ch <- outcome{env: ev, err: err}
	})

	if err := c.writeJSON(env); err != nil {
		c.requests.ResolveWithError(env.StreamID, err)
		<-ch
		return protocol.Envelope{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.env, out.err
	case <-timer.C:
		c.requests.ResolveWithError(env.StreamID, protocol.RequestTimeout(env.StreamID))
		out := <-ch
		return protocol.Envelope{}, out.err
	case <-ctx.Done():
		c.requests.ResolveWithError(env.StreamID, protocol.ConnectionClosed())
		<-ch
		return protocol.Envelope{}, ctx.Err()
	}
}

// Control runs one control-plane round trip and returns the response
// payload, or the wire error on failure.
func (c *Client) Control(ctx context.Context, payload protocol.ControlPayload) (json.RawMessage, error) {
	req := protocol.ControlRequest{RequestID: trace.NewID(), Payload: payload}

	ch := make(chan protocol.ControlResponse, 1)
	c.controlMu.Lock()
	c.controls[req.RequestID] = ch
	c.controlMu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.controlMu.Lock()
		delete(c.controls, req.RequestID)
		c.controlMu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if !resp.Success {
			return nil, resp.Error
		}
		return resp.Payload, nil
	case <-timer.C:
		c.controlMu.Lock()
		delete(c.controls, req.RequestID)
		c.controlMu.Unlock()
		return nil, protocol.RequestTimeout("")
	case <-ctx.Done():
		c.controlMu.Lock()
		delete(c.controls, req.RequestID)
		c.controlMu.Unlock()
		return nil, ctx.Err()
	}
}
