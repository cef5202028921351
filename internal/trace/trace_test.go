package trace

import (
	"testing"

	"github.com/snarg/wsreplay/internal/protocol"
)

func TestNewStreamIDMonotonic(t *testing.T) {
	prev := string(NewStreamID())
	for i := 0; i < 1000; i++ {
		id := string(NewStreamID())
		if len(id) != 26 {
			t.Fatalf("ULID length = %d, want 26", len(id))
		}
		if id <= prev {
			t.Fatalf("IDs not strictly increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestChildCommandBookkeeping(t *testing.T) {
	root := NewCommand(protocol.OpenCommand(protocol.RequestPayload{Service: "http"}))
	child := ChildCommand(root, protocol.CloseCommand())

	if child.TraceID != root.TraceID {
		t.Fatalf("child trace = %s, want parent trace %s", child.TraceID, root.TraceID)
	}
	if child.CausationStreamID == nil || *child.CausationStreamID != root.StreamID {
		t.Fatalf("causation = %v, want %s", child.CausationStreamID, root.StreamID)
	}
	if child.StreamID == root.StreamID {
		t.Fatal("child must get a fresh stream ID")
	}
}

func TestSiblingCommandBookkeeping(t *testing.T) {
	parent := NewCommand(protocol.OpenCommand(protocol.RequestPayload{Service: "http"}))
	sib := SiblingCommand(parent, 4, protocol.CloseCommand())

	if sib.ParentStreamID == nil || *sib.ParentStreamID != parent.StreamID {
		t.Fatalf("parent = %v, want %s", sib.ParentStreamID, parent.StreamID)
	}
	if sib.SiblingIndex != 4 {
		t.Fatalf("siblingIndex = %d, want 4", sib.SiblingIndex)
	}
	if sib.TraceID != parent.TraceID {
		t.Fatal("sibling must share the parent trace")
	}
}
