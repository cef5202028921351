package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "sorted_keys", in: `{"b":1,"a":2}`, want: `{"a":2,"b":1}`},
		{name: "nested_sorted", in: `{"z":{"y":1,"x":2},"a":[{"c":3,"b":4}]}`, want: `{"a":[{"b":4,"c":3}],"z":{"x":2,"y":1}}`},
		{name: "whitespace_stripped", in: "{\n  \"a\": 1,\n  \"b\": [1, 2]\n}", want: `{"a":1,"b":[1,2]}`},
		{name: "no_html_escaping", in: `{"url":"https://a.com/?x=1&y=<2>"}`, want: `{"url":"https://a.com/?x=1&y=<2>"}`},
		{name: "scalar_string", in: `"hello"`, want: `"hello"`},
		{name: "scalar_number", in: `3.25`, want: `3.25`},
		{name: "null", in: `null`, want: `null`},
		{name: "bools", in: `[true,false]`, want: `[true,false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(json.RawMessage(tt.in))
			if err != nil {
				t.Fatalf("Canonicalize(%q): %v", tt.in, err)
			}
			if string(got) != tt.want {
				t.Fatalf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	if _, err := Canonicalize(json.RawMessage(`{"a":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestHashKeyOrderIndependence(t *testing.T) {
	h := New(true)
	a, err := h.Hash(json.RawMessage(`{"method":"POST","url":"https://httpbin.org/anything","body":"hello"}`))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash(json.RawMessage(`{"body":"hello","url":"https://httpbin.org/anything","method":"POST"}`))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a != b {
		t.Fatalf("hashes differ across key order: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestHashKnownVector(t *testing.T) {
	h := New(true)
	got, err := h.Hash(json.RawMessage(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	sum := sha256.Sum256([]byte(`{"a":2,"b":1}`))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("Hash = %s, want %s", got, want)
	}
}

func TestHashWithoutNormalize(t *testing.T) {
	h := New(false)
	a, _ := h.Hash(json.RawMessage(`{"b":1,"a":2}`))
	b, _ := h.Hash(json.RawMessage(`{"a":2,"b":1}`))
	if a == b {
		t.Fatal("raw hashing should be sensitive to key order")
	}
	sum := sha256.Sum256([]byte(`{"b":1,"a":2}`))
	if a != hex.EncodeToString(sum[:]) {
		t.Fatalf("raw hash mismatch: %s", a)
	}
}

func TestParseNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "true", want: true},
		{in: "1", want: true},
		{in: "false", want: false},
		{in: "0", want: false},
		{in: "yes", wantErr: true},
		{in: "", wantErr: true},
		{in: "TRUE", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseNormalize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseNormalize(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseNormalize(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseNormalize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
