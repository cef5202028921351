// Package session holds per-tenant harness state: the mode, recorder,
// player, pending forwards, and intercepts bundled under one session ID.
package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/hash"
	"github.com/snarg/wsreplay/internal/intercept"
	"github.com/snarg/wsreplay/internal/pending"
	"github.com/snarg/wsreplay/internal/player"
	"github.com/snarg/wsreplay/internal/recording"
)

// Mode is the session's operating mode.
type Mode string

const (
	ModePassthrough Mode = "passthrough"
	ModeRecord      Mode = "record"
	ModePlayback    Mode = "playback"
)

// ParseMode validates a mode string from config or the control plane.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePassthrough, ModeRecord, ModePlayback:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (want passthrough, record or playback)", s)
}

// Session is one logical tenant. All state is owned here; the registry
// only tracks membership.
type Session struct {
	ID            string
	Mode          Mode
	RecordingPath string
	CreatedAt     time.Time

	Recorder   *recording.Recorder
	Player     *player.Player
	Forwards   *pending.Forwards
	Intercepts *intercept.Registry
	Hasher     hash.Hasher
	Log        zerolog.Logger
}

// Options configures session creation.
type Options struct {
	ID            string
	Mode          Mode
	RecordingPath string
	// RecordWhileReplay attaches a recorder to a playback session so
	// replayed traffic can be captured as a regression baseline.
	RecordWhileReplay bool
}

// Info is the control-plane view of a session.
type Info struct {
	ID            string `json:"sessionId"`
	Mode          string `json:"mode"`
	RecordingPath string `json:"recordingPath,omitempty"`
	CreatedAt     string `json:"createdAt"`
	MessageCount  int    `json:"messageCount"`
	UsedCount     int    `json:"usedCount,omitempty"`
	PendingCount  int    `json:"pendingCount"`
}

// Info snapshots the session for list_sessions / get_status.
func (s *Session) Info() Info {
	info := Info{
		ID:            s.ID,
		Mode:          string(s.Mode),
		RecordingPath: s.RecordingPath,
		CreatedAt:     s.CreatedAt.UTC().Format(time.RFC3339),
		PendingCount:  s.Forwards.Len(),
	}
	if s.Recorder != nil {
		info.MessageCount = s.Recorder.Len()
	}
	if s.Player != nil {
		info.UsedCount = s.Player.UsedCount()
	}
	return info
}

// FilteredMessages applies a control-plane filter to the recorder's
// snapshot.
func (s *Session) FilteredMessages(service string, direction string, limit, offset int) []recording.RecordedMessage {
	if s.Recorder == nil {
		return nil
	}
	msgs := s.Recorder.Messages()
	var out []recording.RecordedMessage
	for _, m := range msgs {
		if direction != "" && string(m.Direction) != direction {
			continue
		}
		if service != "" && !messageHasService(m, service) {
			continue
		}
		out = append(out, m)
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func messageHasService(m recording.RecordedMessage, service string) bool {
	req, err := m.Envelope.Request()
	if err == nil && req.Service == service {
		return true
	}
	resp, err := m.Envelope.Response()
	return err == nil && resp.Service == service
}
