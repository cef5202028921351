package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
)

// lazyYieldEvery bounds how many array elements are decoded between
// scheduler yields during a lazy load. Tuned so a slice of parse work
// stays well under the 200 ms heartbeat ceiling even for large messages.
const lazyYieldEvery = 256

// LoadLazy streams a recording off disk, materializing only the header
// fields and the raw message slots. Parsing yields to the scheduler
// between batches of top-level array elements, so concurrent work stays
// responsive during multi-hundred-MiB loads. Run it on its own goroutine
// when the result is not needed synchronously.
func LoadLazy(ctx context.Context, path string) (*LazyRecording, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	r, closer, err := openStream(resolved)
	if err != nil {
		return nil, err
	}
	defer closer()

	lazy := &LazyRecording{}
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("load recording %s: parse: %w", resolved, err)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("load recording %s: parse: %w", resolved, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("load recording %s: parse: unexpected token %v", resolved, keyTok)
		}

		switch key {
		case "schemaVersion":
			if err := dec.Decode(&lazy.SchemaVersion); err != nil {
				return nil, fmt.Errorf("load recording %s: decode schemaVersion: %w", resolved, err)
			}
		case "scenarioName":
			if err := dec.Decode(&lazy.ScenarioName); err != nil {
				return nil, fmt.Errorf("load recording %s: decode scenarioName: %w", resolved, err)
			}
		case "recordedAt":
			if err := dec.Decode(&lazy.RecordedAt); err != nil {
				return nil, fmt.Errorf("load recording %s: decode recordedAt: %w", resolved, err)
			}
		case "messages":
			if err := decodeRawMessages(ctx, dec, lazy); err != nil {
				return nil, fmt.Errorf("load recording %s: %w", resolved, err)
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("load recording %s: skip %q: %w", resolved, key, err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("load recording %s: parse: %w", resolved, err)
	}

	if err := validateSchema(lazy.SchemaVersion); err != nil {
		return nil, fmt.Errorf("load recording %s: %w", resolved, err)
	}
	return lazy, nil
}

// decodeRawMessages walks the messages array keeping each element as a
// raw slot, yielding between batches.
func decodeRawMessages(ctx context.Context, dec *json.Decoder, lazy *LazyRecording) error {
	if err := expectDelim(dec, '['); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	count := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode message %d: %w", count, err)
		}
		lazy.RawMessages = append(lazy.RawMessages, raw)
		count++
		if count%lazyYieldEvery == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			runtime.Gosched()
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
