package pending

import (
	"testing"

	"github.com/snarg/wsreplay/internal/protocol"
)

func TestForwardsResolveOnce(t *testing.T) {
	f := NewForwards()
	env := protocol.Envelope{StreamID: "s1", Channel: protocol.ChannelProgram}
	f.Register(env)

	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1", f.Len())
	}
	got, ok := f.Resolve("s1")
	if !ok {
		t.Fatal("first resolve should succeed")
	}
	if got.StreamID != "s1" {
		t.Fatalf("resolved %+v", got)
	}

	// Second resolve of the same stream ID returns not-found.
	if _, ok := f.Resolve("s1"); ok {
		t.Fatal("second resolve should fail")
	}
}

func TestForwardsUnknownStream(t *testing.T) {
	f := NewForwards()
	if _, ok := f.Resolve("ghost"); ok {
		t.Fatal("resolving an unregistered stream should fail")
	}
}

func TestRequestsResolve(t *testing.T) {
	r := NewRequests()
	var gotEnv protocol.Envelope
	var gotErr error
	calls := 0
	r.Register("s1", func(env protocol.Envelope, err error) {
		calls++
		gotEnv, gotErr = env, err
	})

	if !r.Resolve(protocol.Envelope{StreamID: "s1"}) {
		t.Fatal("resolve should succeed")
	}
	if calls != 1 || gotErr != nil || gotEnv.StreamID != "s1" {
		t.Fatalf("calls=%d err=%v env=%+v", calls, gotErr, gotEnv)
	}

	// Entry consumed; resolving again is a no-op.
	if r.Resolve(protocol.Envelope{StreamID: "s1"}) {
		t.Fatal("second resolve should return false")
	}
	if calls != 1 {
		t.Fatalf("callback fired %d times, want 1", calls)
	}
}

func TestRequestsResolveWithError(t *testing.T) {
	r := NewRequests()
	var gotErr error
	r.Register("s1", func(_ protocol.Envelope, err error) { gotErr = err })

	werr := protocol.RequestTimeout("s1")
	if !r.ResolveWithError("s1", werr) {
		t.Fatal("resolve should succeed")
	}
	if !protocol.IsCode(gotErr, protocol.CodeRequestTimeout) {
		t.Fatalf("err = %v, want request_timeout", gotErr)
	}
}

func TestRequestsCancelAll(t *testing.T) {
	r := NewRequests()
	errs := make(map[protocol.StreamID]error)
	for _, id := range []protocol.StreamID{"a", "b", "c"} {
		id := id
		r.Register(id, func(_ protocol.Envelope, err error) { errs[id] = err })
	}

	r.CancelAll(protocol.ConnectionClosed())
	if len(errs) != 3 {
		t.Fatalf("cancelled %d callbacks, want 3", len(errs))
	}
	for id, err := range errs {
		if !protocol.IsCode(err, protocol.CodeConnectionClosed) {
			t.Fatalf("stream %s: err = %v", id, err)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after CancelAll", r.Len())
	}
}
