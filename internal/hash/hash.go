// Package hash produces deterministic fingerprints of request payloads.
// Two producers hashing the same logical payload must agree byte for byte,
// so serialization is canonical: keys sorted at every object level, no
// whitespace, minimal string escaping.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hasher fingerprints request payloads. With Normalize set (the default)
// payloads are canonicalized before hashing; without it the raw payload
// bytes are hashed verbatim, so ambient formatting differences are
// observable in the hash.
type Hasher struct {
	Normalize bool
}

// New returns a Hasher. normalize mirrors REPLAY_HASH_NORMALIZE.
func New(normalize bool) Hasher {
	return Hasher{Normalize: normalize}
}

// Hash returns the lowercase hex SHA-256 of the payload fingerprint.
func (h Hasher) Hash(raw json.RawMessage) (string, error) {
	data := []byte(raw)
	if h.Normalize {
		var err error
		data, err = Canonicalize(raw)
		if err != nil {
			return "", err
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ParseNormalize parses the REPLAY_HASH_NORMALIZE setting. Only the four
// literal values are accepted; anything else is a startup failure.
func ParseNormalize(s string) (bool, error) {
	switch s {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid REPLAY_HASH_NORMALIZE value %q (want true, 1, false or 0)", s)
}

// Canonicalize re-emits JSON with lexicographically sorted object keys,
// no whitespace, and minimal escaping. Number literals pass through
// unchanged, which keeps the output stable across encode/decode cycles.
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(string(val))
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported value %T", v)
	}
	return nil
}

// writeString emits a JSON string without the HTML escaping that
// encoding/json applies by default.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b := tmp.Bytes()
	// Encode appends a newline.
	buf.Write(bytes.TrimRight(b, "\n"))
	return nil
}
