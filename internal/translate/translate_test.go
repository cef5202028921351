package translate

import (
	"testing"

	"github.com/snarg/wsreplay/internal/protocol"
)

func TestStreamMapping(t *testing.T) {
	m := NewMap()
	m.RecordStream("rec-1", "play-1")

	if got, ok := m.StreamToPlayback("rec-1"); !ok || got != "play-1" {
		t.Fatalf("StreamToPlayback = %q,%v", got, ok)
	}
	if got, ok := m.StreamToRecord("play-1"); !ok || got != "rec-1" {
		t.Fatalf("StreamToRecord = %q,%v", got, ok)
	}
	if _, ok := m.StreamToPlayback("unknown"); ok {
		t.Fatal("unknown ID should not resolve")
	}
}

func TestEnvelopeTranslationIdentity(t *testing.T) {
	m := NewMap()
	m.RecordStream("rec-s", "play-s")
	m.RecordStream("rec-cause", "play-cause")
	m.RecordStream("rec-parent", "play-parent")
	m.RecordTrace("rec-t", "play-t")

	cause := protocol.StreamID("rec-cause")
	parent := protocol.StreamID("rec-parent")
	env := protocol.Envelope{
		StreamID:          "rec-s",
		TraceID:           "rec-t",
		CausationStreamID: &cause,
		ParentStreamID:    &parent,
		SiblingIndex:      1,
		Channel:           protocol.ChannelProgram,
	}

	play := m.ToPlayback(env)
	if play.StreamID != "play-s" || play.TraceID != "play-t" {
		t.Fatalf("ToPlayback = %+v", play)
	}
	if *play.CausationStreamID != "play-cause" || *play.ParentStreamID != "play-parent" {
		t.Fatalf("causation/parent not translated: %+v", play)
	}

	// Round trip back to recording-time must be the identity for mapped fields.
	back := m.ToRecord(play)
	if back.StreamID != env.StreamID || back.TraceID != env.TraceID {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	if *back.CausationStreamID != *env.CausationStreamID || *back.ParentStreamID != *env.ParentStreamID {
		t.Fatalf("round trip routing mismatch: %+v", back)
	}
}

func TestUnmappedFieldsPassThrough(t *testing.T) {
	m := NewMap()
	m.RecordStream("rec-s", "play-s")

	cause := protocol.StreamID("never-mapped")
	env := protocol.Envelope{
		StreamID:          "rec-s",
		TraceID:           "never-mapped-trace",
		CausationStreamID: &cause,
	}
	play := m.ToPlayback(env)
	if play.StreamID != "play-s" {
		t.Fatalf("StreamID = %q", play.StreamID)
	}
	if play.TraceID != "never-mapped-trace" {
		t.Fatalf("unmapped trace should pass through, got %q", play.TraceID)
	}
	if *play.CausationStreamID != "never-mapped" {
		t.Fatalf("unmapped causation should pass through, got %q", *play.CausationStreamID)
	}
}
