// Package handler dispatches one inbound envelope against a session's
// mode: passthrough, record, playback, or intercept short-circuit.
package handler

import (
	"context"
	"time"

	"github.com/snarg/wsreplay/internal/intercept"
	"github.com/snarg/wsreplay/internal/metrics"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/session"
)

// ResultKind says what the server should do with the result envelope.
type ResultKind int

const (
	// NoResponse: nothing to send anywhere.
	NoResponse ResultKind = iota
	// RespondDirectly: send the event back on the originating connection.
	RespondDirectly
	// ForwardToPlatform: send the command upstream.
	ForwardToPlatform
	// ForwardToProgram: send the event to the program side.
	ForwardToProgram
)

// Result is the dispatch outcome.
type Result struct {
	Kind     ResultKind
	Envelope protocol.Envelope
}

// Handle processes one envelope for the session. Channel rules: commands
// only on program, events only on platform; control traffic never
// reaches here.
func Handle(ctx context.Context, s *session.Session, env protocol.Envelope) (Result, error) {
	switch env.Channel {
	case protocol.ChannelProgram:
		switch env.Payload.Kind() {
		case protocol.KindCommandOpen:
			return handleOpen(ctx, s, env)
		case protocol.KindCommandClose:
			return handleClose(s, env)
		case protocol.KindEventData, protocol.KindEventClose:
			return Result{}, protocol.UnexpectedChannel(env.Channel, env.StreamID)
		}
		return Result{}, protocol.UnexpectedCommand("unknown payload type "+env.Payload.Type, env.StreamID)

	case protocol.ChannelPlatform:
		switch env.Payload.Kind() {
		case protocol.KindEventData, protocol.KindEventClose:
			return handlePlatformEvent(s, env)
		case protocol.KindCommandOpen, protocol.KindCommandClose:
			return Result{}, protocol.UnexpectedChannel(env.Channel, env.StreamID)
		}
		return Result{}, protocol.UnexpectedCommand("unknown payload type "+env.Payload.Type, env.StreamID)
	}
	return Result{}, protocol.UnexpectedChannel(env.Channel, env.StreamID)
}

// commandHash honors a producer-supplied payloadHash, hashing only when
// the envelope arrived without one.
func commandHash(s *session.Session, env protocol.Envelope) (string, error) {
	if env.PayloadHash != nil && *env.PayloadHash != "" {
		return *env.PayloadHash, nil
	}
	return s.Hasher.Hash(env.Payload.Payload)
}

func handleOpen(ctx context.Context, s *session.Session, env protocol.Envelope) (Result, error) {
	req, err := env.Request()
	if err != nil {
		return Result{}, err
	}

	// Intercepts short-circuit every mode.
	if m := s.Intercepts.MatchRequest(req); m != nil {
		return respondFromIntercept(ctx, s, env, m)
	}

	switch s.Mode {
	case session.ModePassthrough:
		return forwardUpstream(s, env)

	case session.ModeRecord:
		h, err := commandHash(s, env)
		if err != nil {
			return Result{}, protocol.UnexpectedPayload(err.Error())
		}
		s.Recorder.Append(env, protocol.DirectionToHarness, h)
		return forwardUpstream(s, env)

	case session.ModePlayback:
		ev, err := s.Player.PlaybackRequest(env)
		if err != nil {
			metrics.PlaybackRequestsTotal.WithLabelValues(playbackOutcome(err)).Inc()
			return Result{}, err
		}
		metrics.PlaybackRequestsTotal.WithLabelValues("match").Inc()
		// Record-while-replaying: capture the exchange as a baseline.
		if s.Recorder != nil {
			h, herr := commandHash(s, env)
			if herr == nil {
				s.Recorder.Append(env, protocol.DirectionToHarness, h)
				s.Recorder.Append(ev, protocol.DirectionFromHarness, "")
			}
		}
		return Result{Kind: RespondDirectly, Envelope: ev}, nil
	}
	return Result{}, protocol.InternalError("session has no mode")
}

func playbackOutcome(err error) string {
	switch {
	case protocol.IsCode(err, protocol.CodeNoMatchFound):
		return "no_match"
	case protocol.IsCode(err, protocol.CodeAllMatchesUsed):
		return "exhausted"
	default:
		return "error"
	}
}

func forwardUpstream(s *session.Session, env protocol.Envelope) (Result, error) {
	s.Forwards.Register(env)
	out := env
	out.Channel = protocol.ChannelPlatform
	return Result{Kind: ForwardToPlatform, Envelope: out}, nil
}

func respondFromIntercept(ctx context.Context, s *session.Session, env protocol.Envelope, m *intercept.Match) (Result, error) {
	metrics.InterceptHitsTotal.Inc()
	if m.DelayMs > 0 {
		select {
		case <-time.After(time.Duration(m.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	ev := protocol.Envelope{
		StreamID:          env.StreamID,
		TraceID:           env.TraceID,
		CausationStreamID: env.CausationStreamID,
		ParentStreamID:    env.ParentStreamID,
		SiblingIndex:      env.SiblingIndex,
		EventSeq:          1,
		Timestamp:         protocol.Now(),
		Channel:           protocol.ChannelProgram,
		Payload:           protocol.CloseEvent(m.Response),
	}

	if s.Recorder != nil {
		h, err := commandHash(s, env)
		if err == nil {
			s.Recorder.Append(env, protocol.DirectionToHarness, h)
			s.Recorder.Append(ev, protocol.DirectionFromHarness, "")
		}
	}
	s.Log.Debug().Str("intercept", m.ID).Str("stream", string(env.StreamID)).Msg("intercept hit")
	return Result{Kind: RespondDirectly, Envelope: ev}, nil
}

func handleClose(s *session.Session, env protocol.Envelope) (Result, error) {
	switch s.Mode {
	case session.ModePassthrough, session.ModeRecord:
		if _, open := s.Forwards.Peek(env.StreamID); open {
			if s.Mode == session.ModeRecord {
				s.Recorder.Append(env, protocol.DirectionToHarness, "")
			}
			out := env
			out.Channel = protocol.ChannelPlatform
			return Result{Kind: ForwardToPlatform, Envelope: out}, nil
		}
	case session.ModePlayback:
		// A close for a stream the player has served needs no reply.
		if _, known := s.Player.Translations().StreamToRecord(env.StreamID); known {
			return Result{Kind: NoResponse}, nil
		}
	}

	// Close without a matching open.
	werr := &protocol.WireError{
		Code:     protocol.CodeUnexpectedClose,
		Message:  "close without a matching open",
		StreamID: env.StreamID,
	}
	return Result{Kind: RespondDirectly, Envelope: protocol.ErrorEvent(env, werr)}, nil
}

func handlePlatformEvent(s *session.Session, env protocol.Envelope) (Result, error) {
	var ok bool
	if env.Payload.Kind() == protocol.KindEventClose {
		_, ok = s.Forwards.Resolve(env.StreamID)
	} else {
		// Data chunks leave the stream open; the close consumes the entry.
		_, ok = s.Forwards.Peek(env.StreamID)
	}
	if !ok {
		return Result{}, protocol.NoPendingForward(env.StreamID)
	}

	out := env
	out.Channel = protocol.ChannelProgram
	if s.Mode == session.ModeRecord && env.Payload.Kind() == protocol.KindEventClose {
		s.Recorder.Append(out, protocol.DirectionFromHarness, "")
	}
	return Result{Kind: ForwardToProgram, Envelope: out}, nil
}
