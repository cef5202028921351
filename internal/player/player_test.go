package player

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/hash"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/recording"
)

var testHasher = hash.New(true)

func recordedCmd(streamID, traceID string, body string) recording.RecordedMessage {
	raw := json.RawMessage(body)
	h, _ := testHasher.Hash(mustRequest("http", raw))
	return recording.RecordedMessage{
		Envelope: protocol.Envelope{
			StreamID:  protocol.StreamID(streamID),
			TraceID:   protocol.TraceID(traceID),
			EventSeq:  0,
			Timestamp: "2026-01-02T03:04:05Z",
			Channel:   protocol.ChannelProgram,
			Payload:   protocol.OpenCommand(protocol.RequestPayload{Service: "http", Payload: raw}),
		},
		RecordedAt: "2026-01-02T03:04:05Z",
		Direction:  protocol.DirectionToHarness,
		Hash:       h,
	}
}

func recordedResp(streamID, traceID string, body string) recording.RecordedMessage {
	return recording.RecordedMessage{
		Envelope: protocol.Envelope{
			StreamID:  protocol.StreamID(streamID),
			TraceID:   protocol.TraceID(traceID),
			EventSeq:  1,
			Timestamp: "2026-01-02T03:04:06Z",
			Channel:   protocol.ChannelProgram,
			Payload:   protocol.CloseEvent(protocol.ResponsePayload{Service: "http", Payload: json.RawMessage(body)}),
		},
		RecordedAt: "2026-01-02T03:04:06Z",
		Direction:  protocol.DirectionFromHarness,
	}
}

func mustRequest(service string, payload json.RawMessage) json.RawMessage {
	raw, _ := json.Marshal(protocol.RequestPayload{Service: service, Payload: payload})
	return raw
}

func newTestPlayer(t *testing.T, msgs []recording.RecordedMessage) *Player {
	t.Helper()
	rec := recording.Recording{
		SchemaVersion: recording.CurrentSchemaVersion,
		ScenarioName:  t.Name(),
		RecordedAt:    "2026-01-02T03:04:05Z",
		Messages:      msgs,
	}
	ix, err := recording.BuildIndex(context.Background(), &rec)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	return New(&rec, ix, testHasher, zerolog.Nop())
}

func playbackCmd(streamID, traceID string, body string) protocol.Envelope {
	raw := json.RawMessage(body)
	return protocol.Envelope{
		StreamID:  protocol.StreamID(streamID),
		TraceID:   protocol.TraceID(traceID),
		EventSeq:  0,
		Timestamp: protocol.Now(),
		Channel:   protocol.ChannelProgram,
		Payload:   protocol.OpenCommand(protocol.RequestPayload{Service: "http", Payload: raw}),
	}
}

func responseBody(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	resp, err := env.Response()
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	return string(resp.Payload)
}

func TestSameHashAscendingOrder(t *testing.T) {
	// Identical commands at indices 0, 2, 4; responses at 1, 3, 5.
	msgs := []recording.RecordedMessage{
		recordedCmd("r1", "t1", `{"q":"same"}`),
		recordedResp("r1", "t1", `{"body":"first"}`),
		recordedCmd("r2", "t1", `{"q":"same"}`),
		recordedResp("r2", "t1", `{"body":"second"}`),
		recordedCmd("r3", "t1", `{"q":"same"}`),
		recordedResp("r3", "t1", `{"body":"third"}`),
	}
	p := newTestPlayer(t, msgs)

	want := []string{`{"body":"first"}`, `{"body":"second"}`, `{"body":"third"}`}
	for i, body := range want {
		ev, err := p.PlaybackRequest(playbackCmd(fmt.Sprintf("p%d", i), "pt", `{"q":"same"}`))
		if err != nil {
			t.Fatalf("playback %d: %v", i, err)
		}
		if got := responseBody(t, ev); got != body {
			t.Fatalf("playback %d body = %s, want %s", i, got, body)
		}
	}

	// Fourth query: everything consumed.
	_, err := p.PlaybackRequest(playbackCmd("p4", "pt", `{"q":"same"}`))
	if !protocol.IsCode(err, protocol.CodeAllMatchesUsed) {
		t.Fatalf("err = %v, want all_matches_used", err)
	}
}

func TestNoMatchFound(t *testing.T) {
	p := newTestPlayer(t, []recording.RecordedMessage{
		recordedCmd("r1", "t1", `{"q":"a"}`),
		recordedResp("r1", "t1", `{"ok":true}`),
	})
	_, err := p.PlaybackRequest(playbackCmd("p1", "pt", `{"q":"never-recorded"}`))
	if !protocol.IsCode(err, protocol.CodeNoMatchFound) {
		t.Fatalf("err = %v, want no_match_found", err)
	}
}

func TestPlaybackRewritesRoutingFields(t *testing.T) {
	p := newTestPlayer(t, []recording.RecordedMessage{
		recordedCmd("rec-stream", "rec-trace", `{"q":"a"}`),
		recordedResp("rec-stream", "rec-trace", `{"status":200}`),
	})

	cause := protocol.StreamID("play-cause")
	cmd := playbackCmd("play-stream", "play-trace", `{"q":"a"}`)
	cmd.CausationStreamID = &cause
	cmd.SiblingIndex = 7

	ev, err := p.PlaybackRequest(cmd)
	if err != nil {
		t.Fatalf("PlaybackRequest: %v", err)
	}

	// Routing fields come from the playback command.
	if ev.StreamID != "play-stream" || ev.TraceID != "play-trace" {
		t.Fatalf("routing = %s/%s", ev.StreamID, ev.TraceID)
	}
	if ev.CausationStreamID == nil || *ev.CausationStreamID != "play-cause" || ev.SiblingIndex != 7 {
		t.Fatalf("causation/sibling not preserved: %+v", ev)
	}
	// eventSeq and timestamp come from the recorded response.
	if ev.EventSeq != 1 {
		t.Fatalf("eventSeq = %d, want recorded 1", ev.EventSeq)
	}
	if ev.Timestamp != "2026-01-02T03:04:06Z" {
		t.Fatalf("timestamp = %s, want recorded", ev.Timestamp)
	}

	// The translation map learned the pairing.
	if got, ok := p.Translations().StreamToPlayback("rec-stream"); !ok || got != "play-stream" {
		t.Fatalf("translation = %q,%v", got, ok)
	}
}

func TestProducerSuppliedHashWins(t *testing.T) {
	rec := recordedCmd("r1", "t1", `{"q":"a"}`)
	p := newTestPlayer(t, []recording.RecordedMessage{
		rec,
		recordedResp("r1", "t1", `{"ok":true}`),
	})

	// Command body does not hash to the recorded hash, but the producer
	// supplied the recorded hash explicitly — it must be honored.
	cmd := playbackCmd("p1", "pt", `{"q":"completely-different"}`)
	h := rec.Hash
	cmd.PayloadHash = &h

	if _, err := p.PlaybackRequest(cmd); err != nil {
		t.Fatalf("PlaybackRequest: %v", err)
	}
}

func TestMissingResponse(t *testing.T) {
	p := newTestPlayer(t, []recording.RecordedMessage{
		recordedCmd("r1", "t1", `{"q":"a"}`),
		// No from_harness message for r1.
	})
	_, err := p.PlaybackRequest(playbackCmd("p1", "pt", `{"q":"a"}`))
	if !protocol.IsCode(err, protocol.CodeInvalidRequest) {
		t.Fatalf("err = %v, want invalid_request", err)
	}
}

func TestUsedSetsAreIndependent(t *testing.T) {
	msgs := []recording.RecordedMessage{
		recordedCmd("r1", "t1", `{"q":"a"}`),
		recordedResp("r1", "t1", `{"ok":true}`),
	}
	rec := recording.Recording{SchemaVersion: 2, ScenarioName: "shared", Messages: msgs}
	ix, err := recording.BuildIndex(context.Background(), &rec)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	p1 := New(&rec, ix, testHasher, zerolog.Nop())
	p2 := New(&rec, ix, testHasher, zerolog.Nop())

	if _, err := p1.PlaybackRequest(playbackCmd("p1", "pt", `{"q":"a"}`)); err != nil {
		t.Fatalf("p1: %v", err)
	}
	// p2 shares the recording but not the used set.
	if _, err := p2.PlaybackRequest(playbackCmd("p2", "pt", `{"q":"a"}`)); err != nil {
		t.Fatalf("p2: %v", err)
	}
	if p1.UsedCount() != 1 || p2.UsedCount() != 1 {
		t.Fatalf("used counts = %d, %d", p1.UsedCount(), p2.UsedCount())
	}
}

func TestLazySourcePlayback(t *testing.T) {
	r := recording.NewRecorder("lazy-playback")
	raw := json.RawMessage(`{"q":"lazy"}`)
	h, _ := testHasher.Hash(mustRequest("http", raw))
	r.Append(protocol.Envelope{
		StreamID: "r1", TraceID: "t1", Timestamp: "2026-01-02T03:04:05Z",
		Channel: protocol.ChannelProgram,
		Payload: protocol.OpenCommand(protocol.RequestPayload{Service: "http", Payload: raw}),
	}, protocol.DirectionToHarness, h)
	r.Append(protocol.Envelope{
		StreamID: "r1", TraceID: "t1", EventSeq: 1, Timestamp: "2026-01-02T03:04:06Z",
		Channel: protocol.ChannelProgram,
		Payload: protocol.CloseEvent(protocol.ResponsePayload{Service: "http", Payload: json.RawMessage(`{"ok":true}`)}),
	}, protocol.DirectionFromHarness, "")

	path := t.TempDir() + "/lazy.json"
	if _, err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	lazy, err := recording.LoadLazy(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadLazy: %v", err)
	}
	ix, err := recording.BuildIndex(context.Background(), lazy)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	p := New(lazy, ix, testHasher, zerolog.Nop())

	ev, err := p.PlaybackRequest(playbackCmd("p1", "pt", `{"q":"lazy"}`))
	if err != nil {
		t.Fatalf("PlaybackRequest: %v", err)
	}
	if got := responseBody(t, ev); got != `{"ok":true}` {
		t.Fatalf("body = %s", got)
	}
}
